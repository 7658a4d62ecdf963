package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/defistate-mutator/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type tokenKey struct {
	collection common.Address
	id         uint256.Int
}

type holderKey struct {
	collection common.Address
	owner      common.Address
}

type operatorKey struct {
	collection common.Address
	owner      common.Address
	operator   common.Address
}

// Book is a multi-collection ERC-721 ledger held in memory. Every write goes
// through a journaled transaction so that a failed Update leaves no trace.
// With a store, committed transactions are written through before they become
// visible. It is safe for concurrent use.
type Book struct {
	mu        sync.RWMutex
	owners    map[tokenKey]common.Address
	approvals map[tokenKey]common.Address
	operators map[operatorKey]bool
	balances  map[holderKey]uint64
	journal   []journalEntry
	store     engine.LedgerWriter
}

var _ engine.Ledger = (*Book)(nil)

// NewBook creates an empty, memory-only ledger.
func NewBook() *Book {
	return &Book{
		owners:    make(map[tokenKey]common.Address),
		approvals: make(map[tokenKey]common.Address),
		operators: make(map[operatorKey]bool),
		balances:  make(map[holderKey]uint64),
	}
}

// RestoreBook rebuilds a ledger from stored records. Later commits are
// persisted through store.
func RestoreBook(store engine.LedgerWriter, tokens []engine.TokenRecord, operators []engine.OperatorRecord) (*Book, error) {
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}
	b := NewBook()
	b.store = store
	for _, t := range tokens {
		if t.TokenID == nil || t.TokenID.Sign() < 0 {
			return nil, fmt.Errorf("ledger: invalid token id %v in %s", t.TokenID, t.Collection)
		}
		id, overflow := uint256.FromBig(t.TokenID)
		if overflow {
			return nil, fmt.Errorf("ledger: token id %s in %s overflows uint256", t.TokenID, t.Collection)
		}
		if t.Owner == (common.Address{}) {
			return nil, fmt.Errorf("%w: owner of %s #%s", ErrZeroAddress, t.Collection, id.Dec())
		}
		key := tokenKey{t.Collection, *id}
		if _, ok := b.owners[key]; ok {
			return nil, fmt.Errorf("%w: %s #%s stored twice", ErrTokenExists, t.Collection, id.Dec())
		}
		b.owners[key] = t.Owner
		if t.Approved != (common.Address{}) {
			b.approvals[key] = t.Approved
		}
		b.balances[holderKey{t.Collection, t.Owner}]++
	}
	for _, o := range operators {
		if o.Approved {
			b.operators[operatorKey{o.Collection, o.Owner, o.Operator}] = true
		}
	}
	return b, nil
}

// Begin takes the write lock and opens a transaction. The caller must finish
// it with Commit or Abort.
func (b *Book) Begin() engine.LedgerTxn {
	b.mu.Lock()
	return &bookTx{b: b}
}

// Update runs fn as one transaction under the ledger's write lock. If fn
// returns an error, or the changes cannot be persisted, every change made
// through tx is reverted. Update is not reentrant: fn must not call back into
// the Book.
func (b *Book) Update(fn func(tx engine.LedgerTx) error) error {
	tx := b.Begin()
	err := fn(tx)
	if err == nil {
		err = tx.Prepare(nil)
	}
	if err != nil {
		tx.Abort()
		return err
	}
	tx.Commit()
	return nil
}

// --- Read Methods ---

func (b *Book) OwnerOf(collection common.Address, id *uint256.Int) (common.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ownerOf(collection, id)
}

func (b *Book) Exists(collection common.Address, id *uint256.Int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.owners[tokenKey{collection, *id}]
	return ok
}

func (b *Book) BalanceOf(collection, owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[holderKey{collection, owner}], nil
}

// GetApproved returns the address approved for a single token, or the zero address.
func (b *Book) GetApproved(collection common.Address, id *uint256.Int) (common.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := tokenKey{collection, *id}
	if _, ok := b.owners[key]; !ok {
		return common.Address{}, nonexistentError(collection, id)
	}
	return b.approvals[key], nil
}

func (b *Book) IsApprovedForAll(collection, owner, operator common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.operators[operatorKey{collection, owner, operator}]
}

// --- Write Methods ---

// Approve lets spender transfer id. caller must own the token or be an
// operator of its owner.
func (b *Book) Approve(collection, caller, spender common.Address, id *uint256.Int) error {
	return b.Update(func(engine.LedgerTx) error {
		owner, err := b.ownerOf(collection, id)
		if err != nil {
			return err
		}
		if caller != owner && !b.operators[operatorKey{collection, owner, caller}] {
			return fmt.Errorf("%w: %s cannot approve token %s", ErrNotApproved, caller, id.Dec())
		}
		b.setApproval(tokenKey{collection, *id}, spender)
		return nil
	})
}

// SetApprovalForAll grants or revokes operator rights over all of caller's tokens in collection.
func (b *Book) SetApprovalForAll(collection, caller, operator common.Address, approved bool) error {
	if operator == (common.Address{}) {
		return fmt.Errorf("%w: operator", ErrZeroAddress)
	}
	return b.Update(func(engine.LedgerTx) error {
		key := operatorKey{collection, caller, operator}
		b.journal = append(b.journal, operatorChange{key: key, prev: b.operators[key]})
		if approved {
			b.operators[key] = true
		} else {
			delete(b.operators, key)
		}
		return nil
	})
}

func (b *Book) TransferFrom(collection, operator, from, to common.Address, id *uint256.Int) error {
	return b.Update(func(tx engine.LedgerTx) error {
		return tx.TransferFrom(collection, operator, from, to, id)
	})
}

func (b *Book) Mint(collection, to common.Address, id *uint256.Int) error {
	return b.Update(func(tx engine.LedgerTx) error {
		return tx.Mint(collection, to, id)
	})
}

// --- Internal, lock held ---

func (b *Book) ownerOf(collection common.Address, id *uint256.Int) (common.Address, error) {
	owner, ok := b.owners[tokenKey{collection, *id}]
	if !ok {
		return common.Address{}, nonexistentError(collection, id)
	}
	return owner, nil
}

func (b *Book) setOwner(key tokenKey, owner common.Address) {
	prev, existed := b.owners[key]
	b.journal = append(b.journal, ownerChange{key: key, prev: prev, existed: existed})
	b.owners[key] = owner
}

func (b *Book) setApproval(key tokenKey, spender common.Address) {
	prev, existed := b.approvals[key]
	b.journal = append(b.journal, approvalChange{key: key, prev: prev, existed: existed})
	if spender == (common.Address{}) {
		delete(b.approvals, key)
		return
	}
	b.approvals[key] = spender
}

func (b *Book) addBalance(key holderKey, delta int) {
	prev := b.balances[key]
	b.journal = append(b.journal, balanceChange{key: key, prev: prev})
	next := uint64(int64(prev) + int64(delta))
	if next == 0 {
		delete(b.balances, key)
		return
	}
	b.balances[key] = next
}

// changes returns the current records of every token and operator grant the
// open transaction touched, in first-touch order.
func (b *Book) changes() ([]engine.TokenRecord, []engine.OperatorRecord) {
	var tokens []engine.TokenRecord
	var operators []engine.OperatorRecord
	seenTokens := make(map[tokenKey]struct{})
	seenOperators := make(map[operatorKey]struct{})

	addToken := func(key tokenKey) {
		if _, ok := seenTokens[key]; ok {
			return
		}
		seenTokens[key] = struct{}{}
		tokens = append(tokens, engine.TokenRecord{
			Collection: key.collection,
			TokenID:    key.id.ToBig(),
			Owner:      b.owners[key],
			Approved:   b.approvals[key],
		})
	}
	for _, entry := range b.journal {
		switch ch := entry.(type) {
		case ownerChange:
			addToken(ch.key)
		case approvalChange:
			addToken(ch.key)
		case operatorChange:
			if _, ok := seenOperators[ch.key]; ok {
				continue
			}
			seenOperators[ch.key] = struct{}{}
			operators = append(operators, engine.OperatorRecord{
				Collection: ch.key.collection,
				Owner:      ch.key.owner,
				Operator:   ch.key.operator,
				Approved:   b.operators[ch.key],
			})
		}
	}
	return tokens, operators
}

func nonexistentError(collection common.Address, id *uint256.Int) error {
	return fmt.Errorf("%w: %s #%s", ErrNonexistentToken, collection, id.Dec())
}

// bookTx exposes the ledger to a transaction. The Book's lock is held until
// Commit or Abort.
type bookTx struct {
	b    *Book
	done bool
}

func (tx *bookTx) Prepare(w engine.LedgerWriter) error {
	if w == nil {
		w = tx.b.store
	}
	if w == nil {
		return nil
	}
	tokens, operators := tx.b.changes()
	if len(tokens) == 0 && len(operators) == 0 {
		return nil
	}
	if err := w.WriteLedger(tokens, operators); err != nil {
		return fmt.Errorf("failed to persist ledger changes: %w", err)
	}
	return nil
}

func (tx *bookTx) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	tx.b.journal = tx.b.journal[:0]
	tx.b.mu.Unlock()
}

func (tx *bookTx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	b := tx.b
	for i := len(b.journal) - 1; i >= 0; i-- {
		b.journal[i].revert(b)
	}
	b.journal = b.journal[:0]
	b.mu.Unlock()
}

func (tx *bookTx) OwnerOf(collection common.Address, id *uint256.Int) (common.Address, error) {
	return tx.b.ownerOf(collection, id)
}

func (tx *bookTx) Exists(collection common.Address, id *uint256.Int) bool {
	_, ok := tx.b.owners[tokenKey{collection, *id}]
	return ok
}

func (tx *bookTx) TransferFrom(collection, operator, from, to common.Address, id *uint256.Int) error {
	b := tx.b
	owner, err := b.ownerOf(collection, id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: token %s is owned by %s, not %s", ErrWrongOwner, id.Dec(), owner, from)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	key := tokenKey{collection, *id}
	if operator != owner && b.approvals[key] != operator && !b.operators[operatorKey{collection, owner, operator}] {
		return fmt.Errorf("%w: operator %s for token %s", ErrNotApproved, operator, id.Dec())
	}

	if _, ok := b.approvals[key]; ok {
		b.setApproval(key, common.Address{})
	}
	b.addBalance(holderKey{collection, from}, -1)
	b.addBalance(holderKey{collection, to}, 1)
	b.setOwner(key, to)
	return nil
}

func (tx *bookTx) Mint(collection, to common.Address, id *uint256.Int) error {
	b := tx.b
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	key := tokenKey{collection, *id}
	if _, ok := b.owners[key]; ok {
		return fmt.Errorf("%w: %s #%s", ErrTokenExists, collection, id.Dec())
	}
	b.addBalance(holderKey{collection, to}, 1)
	b.setOwner(key, to)
	return nil
}

// --- Journal ---

type journalEntry interface {
	revert(b *Book)
}

type ownerChange struct {
	key     tokenKey
	prev    common.Address
	existed bool
}

func (ch ownerChange) revert(b *Book) {
	if !ch.existed {
		delete(b.owners, ch.key)
		return
	}
	b.owners[ch.key] = ch.prev
}

type approvalChange struct {
	key     tokenKey
	prev    common.Address
	existed bool
}

func (ch approvalChange) revert(b *Book) {
	if !ch.existed {
		delete(b.approvals, ch.key)
		return
	}
	b.approvals[ch.key] = ch.prev
}

type operatorChange struct {
	key  operatorKey
	prev bool
}

func (ch operatorChange) revert(b *Book) {
	if !ch.prev {
		delete(b.operators, ch.key)
		return
	}
	b.operators[ch.key] = true
}

type balanceChange struct {
	key  holderKey
	prev uint64
}

func (ch balanceChange) revert(b *Book) {
	if ch.prev == 0 {
		delete(b.balances, ch.key)
		return
	}
	b.balances[ch.key] = ch.prev
}
