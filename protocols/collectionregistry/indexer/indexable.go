package indexer

import (
	"math/big"

	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Indexer builds indexed collection systems from registry views.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed collection system from a registry view.
func (i *Indexer) Index(view *collectionregistry.CollectionRegistryView) IndexedCollectionSystem {
	return NewIndexableCollectionSystem(view)
}

// IndexableCollectionSystem provides fast, indexed access to registry data.
type IndexableCollectionSystem struct {
	sequence  uint64
	byAddress map[common.Address]collectionregistry.Collection
	byToken   map[uint256.Int]common.Address
	all       []collectionregistry.Collection
}

// NewIndexableCollectionSystem creates an indexed collection system from a view.
// Index entries whose id does not fit in 256 bits are skipped.
func NewIndexableCollectionSystem(view *collectionregistry.CollectionRegistryView) *IndexableCollectionSystem {
	byAddress := make(map[common.Address]collectionregistry.Collection, len(view.Collections))
	for _, c := range view.Collections {
		byAddress[c.Address] = c
	}

	byToken := make(map[uint256.Int]common.Address, len(view.TokenIndex))
	for _, e := range view.TokenIndex {
		if e.TokenID == nil || e.TokenID.Sign() < 0 {
			continue
		}
		id, overflow := uint256.FromBig(e.TokenID)
		if overflow {
			continue
		}
		byToken[*id] = e.Collection
	}

	return &IndexableCollectionSystem{
		sequence:  view.Sequence,
		byAddress: byAddress,
		byToken:   byToken,
		all:       view.Collections,
	}
}

// GetByAddress retrieves a collection by its address.
func (ics *IndexableCollectionSystem) GetByAddress(address common.Address) (collectionregistry.Collection, bool) {
	c, ok := ics.byAddress[address]
	return c, ok
}

// CollectionForToken retrieves the collection a token id was registered under.
// Ids that have since been minted still resolve.
func (ics *IndexableCollectionSystem) CollectionForToken(id *big.Int) (collectionregistry.Collection, bool) {
	if id == nil || id.Sign() < 0 {
		return collectionregistry.Collection{}, false
	}
	key, overflow := uint256.FromBig(id)
	if overflow {
		return collectionregistry.Collection{}, false
	}
	addr, ok := ics.byToken[*key]
	if !ok {
		return collectionregistry.Collection{}, false
	}
	return ics.GetByAddress(addr)
}

// All returns a defensive copy of the slice of all collections.
func (ics *IndexableCollectionSystem) All() []collectionregistry.Collection {
	allCopy := make([]collectionregistry.Collection, len(ics.all))
	copy(allCopy, ics.all)
	return allCopy
}

func (ics *IndexableCollectionSystem) Sequence() uint64 {
	return ics.sequence
}
