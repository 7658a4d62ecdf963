package store

import (
	"fmt"
	"math/big"
	"sort"

	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	prefixCollectionRecord = "COLLECTIONS:RECORD:"
	prefixCollectionToken  = "COLLECTIONS:TOKEN:"
	keyCollectionSequence  = "COLLECTIONS:SEQUENCE"
)

// registryMeta tracks the committed sequence and the next registration and
// index positions.
type registryMeta struct {
	Sequence    uint64
	Collections uint64
	Tokens      uint64
}

type storedCollection struct {
	Position uint64
	Pool     []*big.Int
	Paused   bool
	Fee      *big.Int
}

type storedToken struct {
	Position   uint64
	Collection common.Address
}

type positioned[T any] struct {
	position uint64
	value    T
}

var _ collectionregistry.Store = (*BadgerStore)(nil)

// WriteCollections persists one committed registry transaction atomically.
// sequence must follow the stored sequence.
func (bs *BadgerStore) WriteCollections(sequence uint64, collections []collectionregistry.Collection, index []collectionregistry.TokenEntry) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return bs.writeCollections(txn, sequence, collections, index)
	})
}

func (bs *BadgerStore) writeCollections(txn *badger.Txn, sequence uint64, collections []collectionregistry.Collection, index []collectionregistry.TokenEntry) error {
	meta, err := bs.readMeta(txn)
	if err != nil {
		return err
	}
	if sequence != meta.Sequence+1 {
		return fmt.Errorf("store: sequence %d does not follow stored sequence %d", sequence, meta.Sequence)
	}

	for _, c := range collections {
		key := collectionKey(c.Address)
		position := meta.Collections
		val, err := bs.readValue(txn, key)
		if err != nil {
			return err
		}
		if val != nil {
			var prev storedCollection
			if err := rlp.DecodeBytes(val, &prev); err != nil {
				return fmt.Errorf("store: corrupt record %s: %w", c.Address, err)
			}
			position = prev.Position
		} else {
			meta.Collections++
		}

		enc, err := rlp.EncodeToBytes(&storedCollection{
			Position: position,
			Pool:     c.Pool,
			Paused:   c.Paused,
			Fee:      c.Fee,
		})
		if err != nil {
			return err
		}
		if err := txn.Set(key, enc); err != nil {
			return err
		}
	}

	for _, e := range index {
		enc, err := rlp.EncodeToBytes(&storedToken{Position: meta.Tokens, Collection: e.Collection})
		if err != nil {
			return err
		}
		if err := txn.Set(tokenKey(e.TokenID), enc); err != nil {
			return err
		}
		meta.Tokens++
	}

	meta.Sequence = sequence
	enc, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return txn.Set([]byte(keyCollectionSequence), enc)
}

// ReadRegistry restores the full registry view. A fresh store yields an empty
// view at sequence zero.
func (bs *BadgerStore) ReadRegistry() (*collectionregistry.CollectionRegistryView, error) {
	txn := bs.db.NewTransaction(false)
	defer txn.Discard()

	meta, err := bs.readMeta(txn)
	if err != nil {
		return nil, err
	}

	var collections []positioned[collectionregistry.Collection]
	err = bs.iterate(txn, prefixCollectionRecord, func(key, val []byte) error {
		var rec storedCollection
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return fmt.Errorf("store: corrupt record: %w", err)
		}
		pool := rec.Pool
		if pool == nil {
			pool = []*big.Int{}
		}
		collections = append(collections, positioned[collectionregistry.Collection]{
			position: rec.Position,
			value: collectionregistry.Collection{
				Address: common.BytesToAddress(key[len(prefixCollectionRecord):]),
				Pool:    pool,
				Paused:  rec.Paused,
				Fee:     rec.Fee,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tokens []positioned[collectionregistry.TokenEntry]
	err = bs.iterate(txn, prefixCollectionToken, func(key, val []byte) error {
		var tok storedToken
		if err := rlp.DecodeBytes(val, &tok); err != nil {
			return fmt.Errorf("store: corrupt token entry: %w", err)
		}
		tokens = append(tokens, positioned[collectionregistry.TokenEntry]{
			position: tok.Position,
			value: collectionregistry.TokenEntry{
				TokenID:    new(big.Int).SetBytes(key[len(prefixCollectionToken):]),
				Collection: tok.Collection,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(collections, func(i, j int) bool { return collections[i].position < collections[j].position })
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].position < tokens[j].position })

	view := &collectionregistry.CollectionRegistryView{
		Sequence:    meta.Sequence,
		Collections: make([]collectionregistry.Collection, len(collections)),
		TokenIndex:  make([]collectionregistry.TokenEntry, len(tokens)),
	}
	for i := range collections {
		view.Collections[i] = collections[i].value
	}
	for i := range tokens {
		view.TokenIndex[i] = tokens[i].value
	}
	return view, nil
}

func (bs *BadgerStore) readMeta(txn *badger.Txn) (*registryMeta, error) {
	val, err := bs.readValue(txn, []byte(keyCollectionSequence))
	if err != nil || val == nil {
		return &registryMeta{}, err
	}
	var meta registryMeta
	if err := rlp.DecodeBytes(val, &meta); err != nil {
		return nil, fmt.Errorf("store: corrupt sequence: %w", err)
	}
	return &meta, nil
}

func (bs *BadgerStore) iterate(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

func collectionKey(addr common.Address) []byte {
	return append([]byte(prefixCollectionRecord), addr.Bytes()...)
}

// tokenKey encodes the id as 32 big-endian bytes so keys sort numerically.
func tokenKey(id *big.Int) []byte {
	return append([]byte(prefixCollectionToken), common.LeftPadBytes(id.Bytes(), 32)...)
}
