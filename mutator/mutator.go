package mutator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Gate is the single-admin permission check shared with the registry.
type Gate interface {
	Admin() common.Address
	Require(caller common.Address) error
	TransferAdmin(caller, newAdmin common.Address) error
}

// Batch stages the writes of one engine operation and applies them together.
type Batch interface {
	collectionregistry.Store
	engine.LedgerWriter
	WriteEngine(rec *engine.Record) error
	Commit() error
	Discard()
}

// Config holds the dependencies of an Engine.
type Config struct {
	// Address is both the custody account that receives burned tokens and the
	// collection the engine mints into.
	Address  common.Address
	Registry *collectionregistry.CollectionSystem
	Ledger   engine.Ledger
	Gate     Gate
	BaseURI  string

	// Clock defaults to time.Now.
	Clock func() time.Time
	// Selector defaults to SelectIndex.
	Selector SelectFunc

	// NewBatch opens a storage batch. Without it the engine record lives in
	// memory and mutations persist through the ledger's and registry's own
	// stores, one after the other.
	NewBatch func() Batch
	// Fees seeds the collected balance, e.g. from a stored Record.
	Fees *uint256.Int

	Logger             Logger
	PrometheusRegistry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	if c.Gate == nil {
		return errors.New("config: Gate is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.PrometheusRegistry == nil {
		return errors.New("config: PrometheusRegistry is required")
	}
	return nil
}

// Receipt describes a successful mutation.
type Receipt struct {
	Caller        common.Address `json:"caller"`
	Collection    common.Address `json:"collection"`
	BurnedA       *big.Int       `json:"burnedA"`
	BurnedB       *big.Int       `json:"burnedB"`
	Minted        *big.Int       `json:"minted"`
	Payment       *big.Int       `json:"payment"`
	SelectedIndex int            `json:"selectedIndex"`
	PoolRemaining int            `json:"poolRemaining"`
	Timestamp     uint64         `json:"timestamp"`
}

// Engine burns two tokens of a registered collection and mints one id from
// that collection's pool. All mutating entry points are serialized.
type Engine struct {
	mu sync.Mutex

	address  common.Address
	registry *collectionregistry.CollectionSystem
	issuer   *collectionregistry.Issuer
	ledger   engine.Ledger
	gate     Gate
	baseURI  string
	fees     uint256.Int

	clock    func() time.Time
	selector SelectFunc
	newBatch func() Batch
	logger   Logger
	metrics  *Metrics
}

// NewEngine constructs an Engine from a configuration, returning an error if
// the config is invalid. The engine claims the registry's Issuer, so a
// registry serves a single engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	issuer, err := cfg.Registry.ClaimIssuer()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		address:  cfg.Address,
		registry: cfg.Registry,
		issuer:   issuer,
		ledger:   cfg.Ledger,
		gate:     cfg.Gate,
		baseURI:  cfg.BaseURI,
		clock:    cfg.Clock,
		selector: cfg.Selector,
		newBatch: cfg.NewBatch,
		logger:   cfg.Logger,
		metrics:  NewMetrics(cfg.PrometheusRegistry),
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.selector == nil {
		e.selector = SelectIndex
	}
	if cfg.Fees != nil {
		e.fees.Set(cfg.Fees)
	}
	for _, c := range cfg.Registry.View().Collections {
		e.metrics.poolRemaining.WithLabelValues(c.Address.Hex()).Set(float64(len(c.Pool)))
	}
	return e, nil
}

// Address returns the engine's custody and issuance address.
func (e *Engine) Address() common.Address {
	return e.address
}

func (e *Engine) Admin() common.Address {
	return e.gate.Admin()
}

// --- Registry administration ---

// AddCollection registers a collection. Pool ids the engine has already minted
// are rejected along with ids held by other collections.
func (e *Engine) AddCollection(caller, collection common.Address, pool []*uint256.Int, fee *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The ledger stays locked so no id can be minted between the check and the commit.
	tx := e.ledger.Begin()
	defer tx.Abort()
	minted := func(id *uint256.Int) bool {
		return tx.Exists(e.address, id)
	}
	if err := e.registry.AddCollection(caller, collection, pool, fee, minted); err != nil {
		return err
	}
	e.metrics.poolRemaining.WithLabelValues(collection.Hex()).Set(float64(len(pool)))
	return nil
}

func (e *Engine) PauseCollection(caller, collection common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.PauseCollection(caller, collection)
}

func (e *Engine) UnpauseCollection(caller, collection common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.UnpauseCollection(caller, collection)
}

func (e *Engine) SetMutationPrice(caller, collection common.Address, fee *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.SetMutationPrice(caller, collection, fee)
}

// --- Registry queries ---

func (e *Engine) GetCollection(collection common.Address) collectionregistry.Collection {
	return e.registry.GetCollection(collection)
}

func (e *Engine) GetMutationPrice(collection common.Address) *uint256.Int {
	return e.registry.GetMutationPrice(collection)
}

func (e *Engine) IsCollectionAdded(collection common.Address) bool {
	return e.registry.IsCollectionAdded(collection)
}

func (e *Engine) IsCollectionPaused(collection common.Address) bool {
	return e.registry.IsCollectionPaused(collection)
}

func (e *Engine) GetCollectionAddressByTokenID(id *uint256.Int) common.Address {
	return e.registry.GetCollectionAddressByTokenID(id)
}

// --- Mutation ---

// Mutate burns idA and idB of collection into the engine's custody and mints
// one id from the collection's pool to caller. The engine must be approved to
// move both tokens. On any failure no ledger or registry state changes.
func (e *Engine) Mutate(caller common.Address, idA, idB *uint256.Int, collection common.Address, payment *uint256.Int) (*Receipt, error) {
	timer := prometheus.NewTimer(e.metrics.mutationDuration.WithLabelValues())
	defer timer.ObserveDuration()

	if payment == nil {
		payment = new(uint256.Int)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.ledger.Begin()
	txn := e.issuer.Begin()
	receipt, err := e.mutate(tx, txn, caller, idA, idB, collection, payment)
	fees := new(uint256.Int).Add(&e.fees, payment)
	if err == nil {
		err = e.persist(tx, txn, e.record(e.gate.Admin(), e.baseURI, fees))
	}

	e.metrics.mutationsTotal.WithLabelValues(classify(err)).Inc()
	if err != nil {
		txn.Abort()
		tx.Abort()
		e.logger.Debug("Mutation rejected", "caller", caller, "collection", collection, "error", err)
		return nil, err
	}
	txn.Commit()
	tx.Commit()

	e.fees.Set(fees)
	e.metrics.poolRemaining.WithLabelValues(collection.Hex()).Set(float64(receipt.PoolRemaining))
	e.logger.Info("Mutation applied",
		"caller", caller,
		"collection", collection,
		"minted", receipt.Minted,
		"index", receipt.SelectedIndex,
		"poolRemaining", receipt.PoolRemaining,
	)
	return receipt, nil
}

// mutate runs inside both the ledger and the registry transaction.
func (e *Engine) mutate(tx engine.LedgerTx, txn *collectionregistry.Txn, caller common.Address, idA, idB *uint256.Int, collection common.Address, payment *uint256.Int) (*Receipt, error) {
	if collection == (common.Address{}) {
		return nil, fmt.Errorf("%w: collection", ErrZeroAddress)
	}
	if !txn.IsAdded(collection) {
		return nil, fmt.Errorf("%w: %s", ErrNotAdded, collection)
	}
	if err := requireOwner(tx, "tokenA", collection, caller, idA); err != nil {
		return nil, err
	}
	if err := requireOwner(tx, "tokenB", collection, caller, idB); err != nil {
		return nil, err
	}
	if txn.IsPaused(collection) {
		return nil, fmt.Errorf("%w: %s", ErrPaused, collection)
	}
	fee := txn.Fee(collection)
	if payment.Lt(fee) {
		return nil, fmt.Errorf("%w: paid %s, fee is %s", ErrInsufficientPayment, payment.Dec(), fee.Dec())
	}
	poolLen := txn.PoolLen(collection)
	if poolLen == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPoolEmpty, collection)
	}

	if err := tx.TransferFrom(collection, e.address, caller, e.address, idA); err != nil {
		return nil, fmt.Errorf("failed to burn tokenA: %w", err)
	}
	if err := tx.TransferFrom(collection, e.address, caller, e.address, idB); err != nil {
		return nil, fmt.Errorf("failed to burn tokenB: %w", err)
	}

	timestamp := uint64(e.clock().Unix())
	index := e.selector(caller, timestamp, poolLen)
	minted, err := txn.RemovePoolAt(collection, index)
	if err != nil {
		return nil, fmt.Errorf("failed to select pool id: %w", err)
	}
	if err := tx.Mint(e.address, caller, minted); err != nil {
		return nil, fmt.Errorf("failed to mint %s: %w", minted.Dec(), err)
	}

	return &Receipt{
		Caller:        caller,
		Collection:    collection,
		BurnedA:       idA.ToBig(),
		BurnedB:       idB.ToBig(),
		Minted:        minted.ToBig(),
		Payment:       payment.ToBig(),
		SelectedIndex: index,
		PoolRemaining: poolLen - 1,
		Timestamp:     timestamp,
	}, nil
}

func requireOwner(tx engine.LedgerTx, argument string, collection, caller common.Address, id *uint256.Int) error {
	owner, err := tx.OwnerOf(collection, id)
	if err != nil || owner != caller {
		return &NotOwnerError{
			Argument:   argument,
			Collection: collection,
			TokenID:    id.ToBig(),
			Caller:     caller,
			Owner:      owner,
		}
	}
	return nil
}

// --- Persistence ---

func (e *Engine) record(admin common.Address, baseURI string, fees *uint256.Int) *engine.Record {
	return &engine.Record{Admin: admin, BaseURI: baseURI, Fees: fees.ToBig()}
}

// persist writes the pending ledger and registry transactions (either may be
// nil) and the engine record in one batch. Without a batch factory the
// transactions persist through their own stores and rec is not stored.
func (e *Engine) persist(tx engine.LedgerTxn, txn *collectionregistry.Txn, rec *engine.Record) error {
	if e.newBatch == nil {
		if txn != nil {
			if err := txn.Prepare(nil); err != nil {
				return err
			}
		}
		if tx != nil {
			return tx.Prepare(nil)
		}
		return nil
	}

	batch := e.newBatch()
	defer batch.Discard()
	if tx != nil {
		if err := tx.Prepare(batch); err != nil {
			return err
		}
	}
	if txn != nil {
		if err := txn.Prepare(batch); err != nil {
			return err
		}
	}
	if err := batch.WriteEngine(rec); err != nil {
		return fmt.Errorf("failed to persist engine record: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// --- Metadata ---

func (e *Engine) SetBaseURI(caller common.Address, uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.Require(caller); err != nil {
		return err
	}
	if err := e.persist(nil, nil, e.record(e.gate.Admin(), uri, &e.fees)); err != nil {
		return err
	}
	e.baseURI = uri
	e.logger.Info("Base URI updated", "caller", caller, "uri", uri)
	return nil
}

func (e *Engine) BaseURI() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseURI
}

// TokenURI returns baseURI followed by the decimal id for a minted id, or an
// empty string when no base URI is set.
func (e *Engine) TokenURI(id *uint256.Int) (string, error) {
	if !e.ledger.Exists(e.address, id) {
		return "", fmt.Errorf("%w: %s", ErrNonexistentToken, id.Dec())
	}
	base := e.BaseURI()
	if base == "" {
		return "", nil
	}
	return base + id.Dec(), nil
}

// --- Fees and admin ---

// CollectedFees returns the payments accumulated by successful mutations.
func (e *Engine) CollectedFees() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(&e.fees)
}

// WithdrawFees returns the collected balance and resets it to zero.
func (e *Engine) WithdrawFees(caller common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.Require(caller); err != nil {
		return nil, err
	}
	if err := e.persist(nil, nil, e.record(e.gate.Admin(), e.baseURI, new(uint256.Int))); err != nil {
		return nil, err
	}
	amount := new(uint256.Int).Set(&e.fees)
	e.fees.Clear()
	e.logger.Info("Fees withdrawn", "caller", caller, "amount", amount.Dec())
	return amount, nil
}

func (e *Engine) TransferAdmin(caller, newAdmin common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.TransferAdmin(caller, newAdmin); err != nil {
		return err
	}
	if err := e.persist(nil, nil, e.record(newAdmin, e.baseURI, &e.fees)); err != nil {
		// Only the engine transfers admin and it holds e.mu, so handing the
		// gate back cannot fail.
		_ = e.gate.TransferAdmin(newAdmin, caller)
		return err
	}
	e.logger.Info("Admin transferred", "from", caller, "to", newAdmin)
	return nil
}
