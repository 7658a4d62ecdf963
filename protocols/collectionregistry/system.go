package collectionregistry

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
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

// Authorizer gates the administrative operations.
type Authorizer interface {
	Require(caller common.Address) error
}

// Store persists committed changes. WriteCollections must be all-or-nothing.
type Store interface {
	WriteCollections(sequence uint64, collections []Collection, index []TokenEntry) error
}

// Config holds the dependencies of a CollectionSystem.
type Config struct {
	Authorizer Authorizer
	Logger     Logger
	Registry   prometheus.Registerer
	// Store is optional; without it the registry lives in memory only.
	Store Store
}

func (c *Config) validate() error {
	if c.Authorizer == nil {
		return errors.New("config: Authorizer is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	return nil
}

// CollectionSystem provides a concurrency-safe layer over the CollectionRegistry.
// Writes are serialized by a sync.RWMutex and applied as journaled transactions;
// reads of the full view go through an atomic.Pointer and never take the lock.
type CollectionSystem struct {
	mu            sync.RWMutex
	registry      *CollectionRegistry
	cachedView    atomic.Pointer[CollectionRegistryView]
	issuerClaimed atomic.Bool

	auth    Authorizer
	store   Store
	logger  Logger
	metrics *Metrics

	subsMu sync.Mutex
	subs   map[*viewSubscriber]struct{}
}

// NewCollectionSystem creates an empty, concurrency-safe CollectionSystem.
func NewCollectionSystem(cfg *Config) (*CollectionSystem, error) {
	return newCollectionSystem(NewCollectionRegistry(), cfg)
}

// NewCollectionSystemFromView restores a system from a snapshot view, e.g. one
// read back from a Store.
func NewCollectionSystemFromView(view *CollectionRegistryView, cfg *Config) (*CollectionSystem, error) {
	registry, err := NewCollectionRegistryFromView(view)
	if err != nil {
		return nil, fmt.Errorf("failed to restore registry: %w", err)
	}
	return newCollectionSystem(registry, cfg)
}

func newCollectionSystem(registry *CollectionRegistry, cfg *Config) (*CollectionSystem, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &CollectionSystem{
		registry: registry,
		auth:     cfg.Authorizer,
		store:    cfg.Store,
		logger:   cfg.Logger,
		metrics:  NewMetrics(cfg.Registry),
		subs:     make(map[*viewSubscriber]struct{}),
	}
	s.cachedView.Store(s.registry.view())
	return s, nil
}

// begin takes the write lock and opens a transaction.
func (s *CollectionSystem) begin() *Txn {
	s.mu.Lock()
	return newTxn(s)
}

// admin runs an authorized administrative transaction, persists it through the
// system's store and records its outcome.
func (s *CollectionSystem) admin(op string, caller common.Address, fn func(txn *Txn) error) error {
	txn := s.begin()
	err := s.auth.Require(caller)
	if err == nil {
		err = fn(txn)
	}
	if err == nil {
		err = txn.Prepare(nil)
	}
	s.metrics.observe(op, err)
	if err != nil {
		txn.Abort()
		s.logger.Debug("Registry operation rejected", "op", op, "caller", caller, "error", err)
		return err
	}
	txn.Commit()
	s.logger.Info("Registry operation applied", "op", op, "caller", caller, "sequence", s.Sequence())
	return nil
}

// ClaimIssuer hands out the capability to consume pool ids. Only one Issuer
// exists per system; later calls fail with ErrIssuerClaimed.
func (s *CollectionSystem) ClaimIssuer() (*Issuer, error) {
	if !s.issuerClaimed.CompareAndSwap(false, true) {
		return nil, ErrIssuerClaimed
	}
	return &Issuer{s: s}, nil
}

// Issuer removes ids from pools on behalf of the component that mints them.
type Issuer struct {
	s *CollectionSystem
}

// Begin takes the registry's write lock and opens a transaction. The caller
// must finish it with Commit or Abort, and is responsible for persisting it
// through Prepare before committing.
func (is *Issuer) Begin() *Txn {
	return is.s.begin()
}

// --- Write Methods ---

// AddCollection registers a collection with its pool of mintable ids and its
// mutation fee. minted may be nil; when set it rejects ids the engine has
// already issued.
func (s *CollectionSystem) AddCollection(caller, collection common.Address, pool []*uint256.Int, fee *uint256.Int, minted MintedFunc) error {
	return s.admin("add_collection", caller, func(txn *Txn) error {
		return txn.addCollection(collection, pool, fee, minted)
	})
}

// PauseCollection stops mutations on a collection.
func (s *CollectionSystem) PauseCollection(caller, collection common.Address) error {
	return s.admin("pause_collection", caller, func(txn *Txn) error {
		return txn.setPaused(collection, true)
	})
}

// UnpauseCollection resumes mutations on a collection.
func (s *CollectionSystem) UnpauseCollection(caller, collection common.Address) error {
	return s.admin("unpause_collection", caller, func(txn *Txn) error {
		return txn.setPaused(collection, false)
	})
}

// SetMutationPrice overwrites the fee of a registered collection.
func (s *CollectionSystem) SetMutationPrice(caller, collection common.Address, fee *uint256.Int) error {
	return s.admin("set_mutation_price", caller, func(txn *Txn) error {
		return txn.setFee(collection, fee)
	})
}

// --- Read Methods ---

// GetCollection returns the collection's record. An unregistered collection
// yields an empty record with a zero fee, not an error.
func (s *CollectionSystem) GetCollection(collection common.Address) Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.collection(collection)
}

// GetMutationPrice returns the fee, zero for unregistered collections.
func (s *CollectionSystem) GetMutationPrice(collection common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.registry.lookup(collection)
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&rec.fee)
}

func (s *CollectionSystem) IsCollectionAdded(collection common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry.lookup(collection)
	return ok
}

func (s *CollectionSystem) IsCollectionPaused(collection common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.registry.lookup(collection)
	return ok && rec.paused
}

// GetCollectionAddressByTokenID returns the collection an id was registered
// under, or the zero address. Minted ids keep their entry.
func (s *CollectionSystem) GetCollectionAddressByTokenID(id *uint256.Int) common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, _ := s.registry.collectionFor(id)
	return c
}

// Sequence returns the number of committed transactions.
func (s *CollectionSystem) Sequence() uint64 {
	return s.cachedView.Load().Sequence
}

// View returns a deep copy of the cached registry view. It never takes the lock.
func (s *CollectionSystem) View() *CollectionRegistryView {
	cached := s.cachedView.Load()
	if cached == nil {
		return &CollectionRegistryView{}
	}
	return copyView(cached)
}

// SubscribeViews delivers newly committed views to ch. Writers never wait on
// subscribers: a subscriber that falls behind receives only the newest view it
// has not seen. Received views are shared and must be treated as read-only.
func (s *CollectionSystem) SubscribeViews(ch chan<- *CollectionRegistryView) event.Subscription {
	sub := &viewSubscriber{wake: make(chan struct{}, 1)}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer func() {
			s.subsMu.Lock()
			delete(s.subs, sub)
			s.subsMu.Unlock()
		}()
		for {
			select {
			case <-quit:
				return nil
			case <-sub.wake:
			}
			view := sub.take()
			if view == nil {
				continue
			}
			select {
			case ch <- view:
			case <-quit:
				return nil
			}
		}
	})
}

// publish offers view to every subscriber. It must be called without s.mu held.
func (s *CollectionSystem) publish(view *CollectionRegistryView) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.offer(view)
	}
}

// viewSubscriber is a one-slot mailbox holding the newest undelivered view.
type viewSubscriber struct {
	mu      sync.Mutex
	pending *CollectionRegistryView
	latest  uint64
	wake    chan struct{}
}

func (sub *viewSubscriber) offer(view *CollectionRegistryView) {
	sub.mu.Lock()
	if view.Sequence <= sub.latest {
		sub.mu.Unlock()
		return
	}
	sub.latest = view.Sequence
	sub.pending = view
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *viewSubscriber) take() *CollectionRegistryView {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	view := sub.pending
	sub.pending = nil
	return view
}

func copyView(v *CollectionRegistryView) *CollectionRegistryView {
	collections := make([]Collection, len(v.Collections))
	for i, c := range v.Collections {
		collections[i] = copyCollection(c)
	}
	index := make([]TokenEntry, len(v.TokenIndex))
	for i, e := range v.TokenIndex {
		index[i] = TokenEntry{TokenID: copyBig(e.TokenID), Collection: e.Collection}
	}
	return &CollectionRegistryView{
		Sequence:    v.Sequence,
		Collections: collections,
		TokenIndex:  index,
	}
}

func copyCollection(c Collection) Collection {
	pool := make([]*big.Int, len(c.Pool))
	for i, id := range c.Pool {
		pool[i] = copyBig(id)
	}
	return Collection{
		Address: c.Address,
		Pool:    pool,
		Paused:  c.Paused,
		Fee:     copyBig(c.Fee),
	}
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
