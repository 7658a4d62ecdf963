package store

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-mutator/engine"
	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	prefixLedgerToken    = "LEDGER:TOKEN:"
	prefixLedgerOperator = "LEDGER:OPERATOR:"
	keyEngineRecord      = "ENGINE:RECORD"
	keyGenesisApplied    = "GENESIS:APPLIED"
)

type storedOwnership struct {
	Owner    common.Address
	Approved common.Address
}

type storedRecord struct {
	Admin   common.Address
	BaseURI string
	Fees    *big.Int
}

var _ engine.LedgerWriter = (*BadgerStore)(nil)

// WriteLedger persists the records of one committed ledger transaction.
func (bs *BadgerStore) WriteLedger(tokens []engine.TokenRecord, operators []engine.OperatorRecord) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return writeLedger(txn, tokens, operators)
	})
}

func writeLedger(txn *badger.Txn, tokens []engine.TokenRecord, operators []engine.OperatorRecord) error {
	for _, t := range tokens {
		enc, err := rlp.EncodeToBytes(&storedOwnership{Owner: t.Owner, Approved: t.Approved})
		if err != nil {
			return err
		}
		if err := txn.Set(ledgerTokenKey(t.Collection, t.TokenID), enc); err != nil {
			return err
		}
	}
	for _, o := range operators {
		key := ledgerOperatorKey(o.Collection, o.Owner, o.Operator)
		var err error
		if o.Approved {
			err = txn.Set(key, []byte{1})
		} else {
			err = txn.Delete(key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadLedger returns every stored token and operator grant.
func (bs *BadgerStore) ReadLedger() ([]engine.TokenRecord, []engine.OperatorRecord, error) {
	txn := bs.db.NewTransaction(false)
	defer txn.Discard()

	var tokens []engine.TokenRecord
	err := bs.iterate(txn, prefixLedgerToken, func(key, val []byte) error {
		var own storedOwnership
		if err := rlp.DecodeBytes(val, &own); err != nil {
			return fmt.Errorf("store: corrupt token record: %w", err)
		}
		rest := key[len(prefixLedgerToken):]
		if len(rest) != common.AddressLength+32 {
			return fmt.Errorf("store: malformed token key %x", key)
		}
		tokens = append(tokens, engine.TokenRecord{
			Collection: common.BytesToAddress(rest[:common.AddressLength]),
			TokenID:    new(big.Int).SetBytes(rest[common.AddressLength:]),
			Owner:      own.Owner,
			Approved:   own.Approved,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var operators []engine.OperatorRecord
	err = bs.iterate(txn, prefixLedgerOperator, func(key, _ []byte) error {
		rest := key[len(prefixLedgerOperator):]
		if len(rest) != 3*common.AddressLength {
			return fmt.Errorf("store: malformed operator key %x", key)
		}
		operators = append(operators, engine.OperatorRecord{
			Collection: common.BytesToAddress(rest[:common.AddressLength]),
			Owner:      common.BytesToAddress(rest[common.AddressLength : 2*common.AddressLength]),
			Operator:   common.BytesToAddress(rest[2*common.AddressLength:]),
			Approved:   true,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tokens, operators, nil
}

// WriteEngine persists the engine-level record.
func (bs *BadgerStore) WriteEngine(rec *engine.Record) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return writeEngine(txn, rec)
	})
}

func writeEngine(txn *badger.Txn, rec *engine.Record) error {
	fees := rec.Fees
	if fees == nil {
		fees = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes(&storedRecord{Admin: rec.Admin, BaseURI: rec.BaseURI, Fees: fees})
	if err != nil {
		return err
	}
	return txn.Set([]byte(keyEngineRecord), enc)
}

// ReadEngine returns the stored engine record, or nil if none was written yet.
func (bs *BadgerStore) ReadEngine() (*engine.Record, error) {
	txn := bs.db.NewTransaction(false)
	defer txn.Discard()

	val, err := bs.readValue(txn, []byte(keyEngineRecord))
	if err != nil || val == nil {
		return nil, err
	}
	var rec storedRecord
	if err := rlp.DecodeBytes(val, &rec); err != nil {
		return nil, fmt.Errorf("store: corrupt engine record: %w", err)
	}
	return &engine.Record{Admin: rec.Admin, BaseURI: rec.BaseURI, Fees: rec.Fees}, nil
}

// GenesisApplied reports whether MarkGenesisApplied has been called on this store.
func (bs *BadgerStore) GenesisApplied() (bool, error) {
	txn := bs.db.NewTransaction(false)
	defer txn.Discard()
	val, err := bs.readValue(txn, []byte(keyGenesisApplied))
	return val != nil, err
}

func (bs *BadgerStore) MarkGenesisApplied() error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyGenesisApplied), []byte{1})
	})
}

func ledgerTokenKey(collection common.Address, id *big.Int) []byte {
	key := append([]byte(prefixLedgerToken), collection.Bytes()...)
	return append(key, common.LeftPadBytes(id.Bytes(), 32)...)
}

func ledgerOperatorKey(collection, owner, operator common.Address) []byte {
	key := append([]byte(prefixLedgerOperator), collection.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, operator.Bytes()...)
}
