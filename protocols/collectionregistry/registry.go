package collectionregistry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Collection is a safe, structured representation of a registered collection for external use.
type Collection struct {
	Address common.Address `json:"address"`
	Pool    []*big.Int     `json:"pool"`
	Paused  bool           `json:"paused"`
	Fee     *big.Int       `json:"fee"`
}

// Added reports whether the collection is registered. A zero fee is the "not registered" sentinel.
func (c Collection) Added() bool {
	return c.Fee != nil && c.Fee.Sign() != 0
}

// TokenEntry maps a pool token id back to the collection it was registered under.
type TokenEntry struct {
	TokenID    *big.Int       `json:"tokenId"`
	Collection common.Address `json:"collection"`
}

// CollectionRegistryView is a complete snapshot of the registry.
// Collections are in registration order, TokenIndex in indexing order.
type CollectionRegistryView struct {
	Sequence    uint64       `json:"sequence"`
	Collections []Collection `json:"collections"`
	TokenIndex  []TokenEntry `json:"tokenIndex"`
}

// record is the internal, mutable state of one collection.
type record struct {
	pool   []uint256.Int
	paused bool
	fee    uint256.Int
}

// CollectionRegistry is a simple, non-thread-safe data structure holding every
// collection record and the append-only token index. All writes are journaled so
// that a failed transaction can be unwound.
type CollectionRegistry struct {
	collections map[common.Address]*record
	order       []common.Address

	// poolIndex is append-only: entries survive after their token is minted so
	// that a minted id can never be registered again.
	poolIndex  map[uint256.Int]common.Address
	indexOrder []uint256.Int

	sequence uint64
	journal  []journalEntry
}

// NewCollectionRegistry creates a new, empty registry.
func NewCollectionRegistry() *CollectionRegistry {
	return &CollectionRegistry{
		collections: make(map[common.Address]*record),
		order:       make([]common.Address, 0),
		poolIndex:   make(map[uint256.Int]common.Address),
		indexOrder:  make([]uint256.Int, 0),
	}
}

// NewCollectionRegistryFromView reconstructs a registry from a view snapshot.
// The view is deep copied so the new registry has full ownership of its memory.
func NewCollectionRegistryFromView(view *CollectionRegistryView) (*CollectionRegistry, error) {
	r := NewCollectionRegistry()
	r.sequence = view.Sequence

	for _, c := range view.Collections {
		if c.Address == (common.Address{}) {
			return nil, ErrZeroAddress
		}
		if _, exists := r.collections[c.Address]; exists {
			return nil, alreadyAddedError(c.Address)
		}
		fee, err := toUint256(c.Fee)
		if err != nil {
			return nil, err
		}
		if fee.IsZero() {
			return nil, zeroFeeError(c.Address)
		}
		pool := make([]uint256.Int, len(c.Pool))
		for i, id := range c.Pool {
			v, err := toUint256(id)
			if err != nil {
				return nil, err
			}
			pool[i] = *v
		}
		r.collections[c.Address] = &record{pool: pool, paused: c.Paused, fee: *fee}
		r.order = append(r.order, c.Address)
	}

	for _, e := range view.TokenIndex {
		id, err := toUint256(e.TokenID)
		if err != nil {
			return nil, err
		}
		if _, exists := r.poolIndex[*id]; exists {
			return nil, fmt.Errorf("%w: token %s indexed twice", ErrInconsistentView, id.Dec())
		}
		if _, exists := r.collections[e.Collection]; !exists {
			return nil, fmt.Errorf("%w: token %s indexed to unknown collection %s", ErrInconsistentView, id.Dec(), e.Collection)
		}
		r.poolIndex[*id] = e.Collection
		r.indexOrder = append(r.indexOrder, *id)
	}

	// Every live pool member must be indexed to the collection that holds it.
	for _, addr := range r.order {
		for _, id := range r.collections[addr].pool {
			if owner, ok := r.poolIndex[id]; !ok || owner != addr {
				return nil, fmt.Errorf("%w: pool token %s of %s is not indexed to it", ErrInconsistentView, id.Dec(), addr)
			}
		}
	}
	return r, nil
}

func (r *CollectionRegistry) lookup(collection common.Address) (*record, bool) {
	rec, ok := r.collections[collection]
	return rec, ok
}

func (r *CollectionRegistry) collectionFor(id *uint256.Int) (common.Address, bool) {
	c, ok := r.poolIndex[*id]
	return c, ok
}

// add stores a new record and indexes its pool. Callers validate first.
func (r *CollectionRegistry) add(collection common.Address, pool []uint256.Int, fee *uint256.Int) {
	p := make([]uint256.Int, len(pool))
	copy(p, pool)
	r.collections[collection] = &record{pool: p, fee: *fee}
	r.order = append(r.order, collection)
	for _, id := range pool {
		r.poolIndex[id] = collection
		r.indexOrder = append(r.indexOrder, id)
	}
	r.journal = append(r.journal, addCollectionChange{collection: collection, indexed: len(pool)})
}

func (r *CollectionRegistry) setPaused(collection common.Address, paused bool) {
	rec := r.collections[collection]
	r.journal = append(r.journal, pausedChange{collection: collection, prev: rec.paused})
	rec.paused = paused
}

func (r *CollectionRegistry) setFee(collection common.Address, fee *uint256.Int) {
	rec := r.collections[collection]
	r.journal = append(r.journal, feeChange{collection: collection, prev: rec.fee})
	rec.fee = *fee
}

// removeAt drops pool[index] by swap-and-truncate: the last element is moved into
// the vacated slot. O(1); pool order is not preserved.
func (r *CollectionRegistry) removeAt(collection common.Address, index int) uint256.Int {
	rec := r.collections[collection]
	last := len(rec.pool) - 1
	removed := rec.pool[index]
	rec.pool[index] = rec.pool[last]
	rec.pool = rec.pool[:last]
	r.journal = append(r.journal, poolRemoveChange{collection: collection, index: index, removed: removed})
	return removed
}

func (r *CollectionRegistry) snapshot() int {
	return len(r.journal)
}

func (r *CollectionRegistry) revertToSnapshot(mark int) {
	for i := len(r.journal) - 1; i >= mark; i-- {
		r.journal[i].revert(r)
	}
	r.journal = r.journal[:mark]
}

// discardJournal drops the journal once a transaction has committed.
func (r *CollectionRegistry) discardJournal() {
	r.journal = r.journal[:0]
}

func (r *CollectionRegistry) collection(addr common.Address) Collection {
	rec, ok := r.collections[addr]
	if !ok {
		return Collection{Pool: []*big.Int{}, Fee: new(big.Int)}
	}
	pool := make([]*big.Int, len(rec.pool))
	for i := range rec.pool {
		pool[i] = rec.pool[i].ToBig()
	}
	return Collection{
		Address: addr,
		Pool:    pool,
		Paused:  rec.paused,
		Fee:     rec.fee.ToBig(),
	}
}

// view returns a deep copy of the registry's data.
func (r *CollectionRegistry) view() *CollectionRegistryView {
	collections := make([]Collection, len(r.order))
	for i, addr := range r.order {
		collections[i] = r.collection(addr)
	}
	index := make([]TokenEntry, len(r.indexOrder))
	for i := range r.indexOrder {
		index[i] = TokenEntry{
			TokenID:    r.indexOrder[i].ToBig(),
			Collection: r.poolIndex[r.indexOrder[i]],
		}
	}
	return &CollectionRegistryView{
		Sequence:    r.sequence,
		Collections: collections,
		TokenIndex:  index,
	}
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrValueOutOfRange
	}
	return u, nil
}

// --- Journal ---

type journalEntry interface {
	revert(r *CollectionRegistry)
}

type addCollectionChange struct {
	collection common.Address
	indexed    int
}

func (ch addCollectionChange) revert(r *CollectionRegistry) {
	delete(r.collections, ch.collection)
	r.order = r.order[:len(r.order)-1]
	keep := len(r.indexOrder) - ch.indexed
	for _, id := range r.indexOrder[keep:] {
		delete(r.poolIndex, id)
	}
	r.indexOrder = r.indexOrder[:keep]
}

type pausedChange struct {
	collection common.Address
	prev       bool
}

func (ch pausedChange) revert(r *CollectionRegistry) {
	r.collections[ch.collection].paused = ch.prev
}

type feeChange struct {
	collection common.Address
	prev       uint256.Int
}

func (ch feeChange) revert(r *CollectionRegistry) {
	r.collections[ch.collection].fee = ch.prev
}

type poolRemoveChange struct {
	collection common.Address
	index      int
	removed    uint256.Int
}

func (ch poolRemoveChange) revert(r *CollectionRegistry) {
	rec := r.collections[ch.collection]
	if ch.index == len(rec.pool) {
		rec.pool = append(rec.pool, ch.removed)
		return
	}
	rec.pool = append(rec.pool, rec.pool[ch.index])
	rec.pool[ch.index] = ch.removed
}
