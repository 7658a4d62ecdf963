package engine

import (
	"math/big"

	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the main data structure broadcast to subscribers.
type State struct {
	// Timestamp is the Unix nanosecond time the state was taken.
	Timestamp uint64                                     `json:"timestamp"`
	Registry  *collectionregistry.CollectionRegistryView `json:"registry"`
}

// Sequence returns the registry sequence the state was taken at.
func (state *State) Sequence() uint64 {
	if state.Registry == nil {
		return 0
	}
	return state.Registry.Sequence
}

// LedgerTx is the view of the token ledger available inside a ledger transaction.
type LedgerTx interface {
	OwnerOf(collection common.Address, id *uint256.Int) (common.Address, error)
	Exists(collection common.Address, id *uint256.Int) bool
	// TransferFrom moves id from -> to on behalf of operator, who must be the
	// owner or approved by it.
	TransferFrom(collection, operator, from, to common.Address, id *uint256.Int) error
	Mint(collection, to common.Address, id *uint256.Int) error
}

// LedgerTxn is an open ledger transaction. It holds the ledger's write lock
// until Commit or Abort is called.
type LedgerTxn interface {
	LedgerTx
	// Prepare stages the transaction's changes into w. A nil w writes through
	// the ledger's own store, if it has one.
	Prepare(w LedgerWriter) error
	Commit()
	Abort()
}

// Ledger is the token ledger the mutation engine burns from and mints into.
type Ledger interface {
	Exists(collection common.Address, id *uint256.Int) bool
	Begin() LedgerTxn
}

// TokenRecord is the stored state of one token.
type TokenRecord struct {
	Collection common.Address
	TokenID    *big.Int
	Owner      common.Address
	Approved   common.Address
}

// OperatorRecord is a stored operator grant. Approved is false for a revoked grant.
type OperatorRecord struct {
	Collection common.Address
	Owner      common.Address
	Operator   common.Address
	Approved   bool
}

// LedgerWriter persists the tokens and operator grants touched by a ledger transaction.
type LedgerWriter interface {
	WriteLedger(tokens []TokenRecord, operators []OperatorRecord) error
}

// Record is the stored engine-level state.
type Record struct {
	Admin   common.Address
	BaseURI string
	Fees    *big.Int
}
