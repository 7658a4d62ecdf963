package indexer

import (
	"math/big"

	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
)

// IndexedCollectionSystem defines the methods for accessing indexed registry data.
type IndexedCollectionSystem interface {
	GetByAddress(address common.Address) (collectionregistry.Collection, bool)
	CollectionForToken(id *big.Int) (collectionregistry.Collection, bool)
	All() []collectionregistry.Collection
	Sequence() uint64
}
