package collectionregistry

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MintedFunc reports whether the engine has already issued the given token id.
type MintedFunc func(id *uint256.Int) bool

// Txn is a write transaction over the registry. It holds the system's write
// lock until Commit or Abort; Abort undoes every change it made.
type Txn struct {
	s         *CollectionSystem
	r         *CollectionRegistry
	mark      int
	indexMark int
	touched   []common.Address
	seen      map[common.Address]struct{}
	done      bool
}

func newTxn(s *CollectionSystem) *Txn {
	return &Txn{
		s:         s,
		r:         s.registry,
		mark:      s.registry.snapshot(),
		indexMark: len(s.registry.indexOrder),
		seen:      make(map[common.Address]struct{}),
	}
}

// Prepare stages the transaction's changes into w under the next sequence. A
// nil w writes through the system's own store, if it has one.
func (txn *Txn) Prepare(w Store) error {
	if w == nil {
		w = txn.s.store
	}
	if w == nil || !txn.dirty() {
		return nil
	}
	collections, index := txn.changes()
	if err := w.WriteCollections(txn.r.sequence+1, collections, index); err != nil {
		return fmt.Errorf("failed to persist registry changes: %w", err)
	}
	return nil
}

// Commit applies the transaction, releases the lock and publishes the new
// view. A transaction without changes does not advance the sequence.
func (txn *Txn) Commit() {
	if txn.done {
		return
	}
	txn.done = true
	s := txn.s

	var view *CollectionRegistryView
	if txn.dirty() {
		s.registry.sequence++
		s.registry.discardJournal()
		view = s.registry.view()
		s.cachedView.Store(view)
	}
	s.mu.Unlock()

	if view != nil {
		s.publish(view)
	}
}

// Abort reverts the transaction and releases the lock.
func (txn *Txn) Abort() {
	if txn.done {
		return
	}
	txn.done = true
	txn.r.revertToSnapshot(txn.mark)
	txn.s.mu.Unlock()
}

func (txn *Txn) touch(collection common.Address) {
	if _, ok := txn.seen[collection]; ok {
		return
	}
	txn.seen[collection] = struct{}{}
	txn.touched = append(txn.touched, collection)
}

// IsAdded reports whether the collection is registered.
func (txn *Txn) IsAdded(collection common.Address) bool {
	_, ok := txn.r.lookup(collection)
	return ok
}

// IsPaused reports whether the collection is paused; false if unregistered.
func (txn *Txn) IsPaused(collection common.Address) bool {
	rec, ok := txn.r.lookup(collection)
	return ok && rec.paused
}

// Fee returns a copy of the collection's mutation fee; zero if unregistered.
func (txn *Txn) Fee(collection common.Address) *uint256.Int {
	rec, ok := txn.r.lookup(collection)
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&rec.fee)
}

// PoolLen returns the number of ids left in the collection's pool.
func (txn *Txn) PoolLen(collection common.Address) int {
	rec, ok := txn.r.lookup(collection)
	if !ok {
		return 0
	}
	return len(rec.pool)
}

// RemovePoolAt removes and returns the id at index using swap-and-truncate.
func (txn *Txn) RemovePoolAt(collection common.Address, index int) (*uint256.Int, error) {
	rec, ok := txn.r.lookup(collection)
	if !ok {
		return nil, notAddedError(collection)
	}
	if len(rec.pool) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPoolEmpty, collection)
	}
	if index < 0 || index >= len(rec.pool) {
		return nil, fmt.Errorf("%w: index %d, pool length %d", ErrIndexOutOfRange, index, len(rec.pool))
	}
	removed := txn.r.removeAt(collection, index)
	txn.touch(collection)
	return &removed, nil
}

func (txn *Txn) addCollection(collection common.Address, pool []*uint256.Int, fee *uint256.Int, minted MintedFunc) error {
	if collection == (common.Address{}) {
		return zeroAddressError("collection")
	}
	if txn.IsAdded(collection) {
		return alreadyAddedError(collection)
	}
	if len(pool) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPool, collection)
	}
	if fee == nil || fee.IsZero() {
		return zeroFeeError(collection)
	}

	seen := mapset.NewThreadUnsafeSetWithSize[uint256.Int](len(pool))
	ids := make([]uint256.Int, len(pool))
	for i, id := range pool {
		if id == nil {
			id = new(uint256.Int)
		}
		if owner, exists := txn.r.collectionFor(id); exists {
			return &DuplicateTokenError{TokenID: id.ToBig(), Collection: owner}
		}
		if !seen.Add(*id) {
			return &DuplicateTokenError{TokenID: id.ToBig()}
		}
		if minted != nil && minted(id) {
			return &DuplicateTokenError{TokenID: id.ToBig(), Minted: true}
		}
		ids[i] = *id
	}

	txn.r.add(collection, ids, fee)
	txn.touch(collection)
	return nil
}

func (txn *Txn) setPaused(collection common.Address, paused bool) error {
	if collection == (common.Address{}) {
		return zeroAddressError("collection")
	}
	rec, ok := txn.r.lookup(collection)
	if !ok {
		return notAddedError(collection)
	}
	if rec.paused == paused {
		state := "unpaused"
		if paused {
			state = "paused"
		}
		return fmt.Errorf("%w: %s already %s", ErrAlreadyInState, collection, state)
	}
	txn.r.setPaused(collection, paused)
	txn.touch(collection)
	return nil
}

func (txn *Txn) setFee(collection common.Address, fee *uint256.Int) error {
	if collection == (common.Address{}) {
		return zeroAddressError("collection")
	}
	if !txn.IsAdded(collection) {
		return notAddedError(collection)
	}
	if fee == nil || fee.IsZero() {
		return zeroFeeError(collection)
	}
	txn.r.setFee(collection, fee)
	txn.touch(collection)
	return nil
}

// changes returns the touched collections and the index entries added by this transaction.
func (txn *Txn) changes() ([]Collection, []TokenEntry) {
	collections := make([]Collection, 0, len(txn.touched))
	for _, addr := range txn.touched {
		collections = append(collections, txn.r.collection(addr))
	}
	added := txn.r.indexOrder[txn.indexMark:]
	index := make([]TokenEntry, len(added))
	for i := range added {
		index[i] = TokenEntry{TokenID: added[i].ToBig(), Collection: txn.r.poolIndex[added[i]]}
	}
	return collections, index
}

func (txn *Txn) dirty() bool {
	return txn.r.snapshot() != txn.mark
}
