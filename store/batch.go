package store

import (
	"github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/dgraph-io/badger/v4"
)

// Batch stages writes in a single badger transaction. Nothing becomes visible
// until Commit, and a batch that is not committed must be discarded.
type Batch struct {
	bs  *BadgerStore
	txn *badger.Txn
}

// NewBatch opens a read-write batch.
func (bs *BadgerStore) NewBatch() *Batch {
	return &Batch{bs: bs, txn: bs.db.NewTransaction(true)}
}

func (b *Batch) WriteCollections(sequence uint64, collections []collectionregistry.Collection, index []collectionregistry.TokenEntry) error {
	return b.bs.writeCollections(b.txn, sequence, collections, index)
}

func (b *Batch) WriteLedger(tokens []engine.TokenRecord, operators []engine.OperatorRecord) error {
	return writeLedger(b.txn, tokens, operators)
}

func (b *Batch) WriteEngine(rec *engine.Record) error {
	return writeEngine(b.txn, rec)
}

// Commit applies every staged write at once.
func (b *Batch) Commit() error {
	return b.txn.Commit()
}

// Discard drops the batch. It is safe to call after Commit.
func (b *Batch) Discard() {
	b.txn.Discard()
}
