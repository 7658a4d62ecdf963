package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/defistate/defistate-mutator/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	punks    = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")
	alice    = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob      = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
	operator = common.HexToAddress("0x0FE0000000000000000000000000000000000003")
)

func id(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestBook_MintAndOwnership(t *testing.T) {
	b := NewBook()

	require.NoError(t, b.Mint(punks, alice, id(1)))
	owner, err := b.OwnerOf(punks, id(1))
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
	assert.True(t, b.Exists(punks, id(1)))
	assert.False(t, b.Exists(bob, id(1)), "ids are scoped per collection")

	balance, err := b.BalanceOf(punks, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), balance)

	assert.ErrorIs(t, b.Mint(punks, bob, id(1)), ErrTokenExists)
	assert.ErrorIs(t, b.Mint(punks, common.Address{}, id(2)), ErrZeroAddress)

	_, err = b.OwnerOf(punks, id(2))
	assert.ErrorIs(t, err, ErrNonexistentToken)
	_, err = b.BalanceOf(punks, common.Address{})
	assert.ErrorIs(t, err, ErrZeroAddress)
}

func TestBook_TransferFrom(t *testing.T) {
	t.Run("owner transfers", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		require.NoError(t, b.TransferFrom(punks, alice, alice, bob, id(1)))

		owner, _ := b.OwnerOf(punks, id(1))
		assert.Equal(t, bob, owner)
		aliceBalance, _ := b.BalanceOf(punks, alice)
		bobBalance, _ := b.BalanceOf(punks, bob)
		assert.Equal(t, uint64(0), aliceBalance)
		assert.Equal(t, uint64(1), bobBalance)
	})

	t.Run("requires approval", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		assert.ErrorIs(t, b.TransferFrom(punks, operator, alice, operator, id(1)), ErrNotApproved)

		require.NoError(t, b.SetApprovalForAll(punks, alice, operator, true))
		assert.True(t, b.IsApprovedForAll(punks, alice, operator))
		require.NoError(t, b.TransferFrom(punks, operator, alice, operator, id(1)))
	})

	t.Run("single token approval is cleared on transfer", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		assert.ErrorIs(t, b.Approve(punks, bob, operator, id(1)), ErrNotApproved)
		require.NoError(t, b.Approve(punks, alice, operator, id(1)))

		approved, err := b.GetApproved(punks, id(1))
		require.NoError(t, err)
		assert.Equal(t, operator, approved)

		require.NoError(t, b.TransferFrom(punks, operator, alice, bob, id(1)))
		approved, err = b.GetApproved(punks, id(1))
		require.NoError(t, err)
		assert.Equal(t, common.Address{}, approved)
	})

	t.Run("rejects wrong owner, zero recipient and unknown tokens", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		assert.ErrorIs(t, b.TransferFrom(punks, bob, bob, alice, id(1)), ErrWrongOwner)
		assert.ErrorIs(t, b.TransferFrom(punks, alice, alice, common.Address{}, id(1)), ErrZeroAddress)
		assert.ErrorIs(t, b.TransferFrom(punks, alice, alice, bob, id(9)), ErrNonexistentToken)
		assert.ErrorIs(t, b.SetApprovalForAll(punks, alice, common.Address{}, true), ErrZeroAddress)
	})
}

func TestBook_Update(t *testing.T) {
	t.Run("failed transaction reverts every change", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		require.NoError(t, b.Approve(punks, alice, operator, id(1)))

		boom := errors.New("boom")
		err := b.Update(func(tx engine.LedgerTx) error {
			if err := tx.TransferFrom(punks, operator, alice, bob, id(1)); err != nil {
				return err
			}
			if err := tx.Mint(punks, bob, id(2)); err != nil {
				return err
			}
			owner, err := tx.OwnerOf(punks, id(2))
			require.NoError(t, err)
			assert.Equal(t, bob, owner)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		owner, err := b.OwnerOf(punks, id(1))
		require.NoError(t, err)
		assert.Equal(t, alice, owner)
		assert.False(t, b.Exists(punks, id(2)))
		approved, _ := b.GetApproved(punks, id(1))
		assert.Equal(t, operator, approved, "approval restored")
		aliceBalance, _ := b.BalanceOf(punks, alice)
		bobBalance, _ := b.BalanceOf(punks, bob)
		assert.Equal(t, uint64(1), aliceBalance)
		assert.Equal(t, uint64(0), bobBalance)
	})

	t.Run("transferring the same token twice fails and reverts", func(t *testing.T) {
		b := NewBook()
		require.NoError(t, b.Mint(punks, alice, id(1)))
		require.NoError(t, b.SetApprovalForAll(punks, alice, operator, true))

		err := b.Update(func(tx engine.LedgerTx) error {
			if err := tx.TransferFrom(punks, operator, alice, operator, id(1)); err != nil {
				return err
			}
			return tx.TransferFrom(punks, operator, alice, operator, id(1))
		})
		assert.ErrorIs(t, err, ErrWrongOwner)
		owner, _ := b.OwnerOf(punks, id(1))
		assert.Equal(t, alice, owner)
	})
}

func TestBook_Concurrency(t *testing.T) {
	b := NewBook()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w uint64) {
			defer wg.Done()
			for i := uint64(0); i < 50; i++ {
				assert.NoError(t, b.Mint(punks, alice, id(w*1000+i)))
				_, _ = b.BalanceOf(punks, alice)
			}
		}(uint64(w))
	}
	wg.Wait()
	balance, err := b.BalanceOf(punks, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), balance)
}

type recordingWriter struct {
	fail      error
	tokens    [][]engine.TokenRecord
	operators [][]engine.OperatorRecord
}

func (w *recordingWriter) WriteLedger(tokens []engine.TokenRecord, operators []engine.OperatorRecord) error {
	if w.fail != nil {
		return w.fail
	}
	w.tokens = append(w.tokens, tokens)
	w.operators = append(w.operators, operators)
	return nil
}

func TestBook_Store(t *testing.T) {
	t.Run("commits write the touched records", func(t *testing.T) {
		w := &recordingWriter{}
		b, err := RestoreBook(w, nil, nil)
		require.NoError(t, err)

		require.NoError(t, b.Mint(punks, alice, id(1)))
		require.NoError(t, b.SetApprovalForAll(punks, alice, operator, true))
		require.NoError(t, b.TransferFrom(punks, operator, alice, bob, id(1)))

		require.Len(t, w.tokens, 3)
		assert.Equal(t, []engine.TokenRecord{{Collection: punks, TokenID: id(1).ToBig(), Owner: alice}}, w.tokens[0])
		assert.Empty(t, w.tokens[1])
		assert.Equal(t, []engine.OperatorRecord{{Collection: punks, Owner: alice, Operator: operator, Approved: true}}, w.operators[1])
		require.Len(t, w.tokens[2], 1)
		assert.Equal(t, bob, w.tokens[2][0].Owner)
	})

	t.Run("a failed write reverts the transaction", func(t *testing.T) {
		w := &recordingWriter{}
		b, err := RestoreBook(w, nil, nil)
		require.NoError(t, err)
		require.NoError(t, b.Mint(punks, alice, id(1)))

		diskErr := errors.New("disk full")
		w.fail = diskErr
		assert.ErrorIs(t, b.TransferFrom(punks, alice, alice, bob, id(1)), diskErr)
		assert.ErrorIs(t, b.Mint(punks, bob, id(2)), diskErr)

		owner, err := b.OwnerOf(punks, id(1))
		require.NoError(t, err)
		assert.Equal(t, alice, owner)
		assert.False(t, b.Exists(punks, id(2)))
	})

	t.Run("restores owners, approvals, operators and balances", func(t *testing.T) {
		b, err := RestoreBook(&recordingWriter{}, []engine.TokenRecord{
			{Collection: punks, TokenID: id(1).ToBig(), Owner: alice, Approved: bob},
			{Collection: punks, TokenID: id(2).ToBig(), Owner: alice},
			{Collection: punks, TokenID: id(3).ToBig(), Owner: bob},
		}, []engine.OperatorRecord{
			{Collection: punks, Owner: alice, Operator: operator, Approved: true},
			{Collection: punks, Owner: bob, Operator: operator, Approved: false},
		})
		require.NoError(t, err)

		balance, err := b.BalanceOf(punks, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), balance)
		approved, err := b.GetApproved(punks, id(1))
		require.NoError(t, err)
		assert.Equal(t, bob, approved)
		assert.True(t, b.IsApprovedForAll(punks, alice, operator))
		assert.False(t, b.IsApprovedForAll(punks, bob, operator))
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		_, err := RestoreBook(nil, nil, nil)
		assert.Error(t, err)

		_, err = RestoreBook(&recordingWriter{}, []engine.TokenRecord{{Collection: punks, TokenID: id(1).ToBig()}}, nil)
		assert.ErrorIs(t, err, ErrZeroAddress)

		twice := engine.TokenRecord{Collection: punks, TokenID: id(1).ToBig(), Owner: alice}
		_, err = RestoreBook(&recordingWriter{}, []engine.TokenRecord{twice, twice}, nil)
		assert.ErrorIs(t, err, ErrTokenExists)
	})
}

func TestBook_Begin(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Mint(punks, alice, id(1)))

	tx := b.Begin()
	require.NoError(t, tx.TransferFrom(punks, alice, alice, bob, id(1)))
	require.NoError(t, tx.Prepare(nil), "memory-only books have nothing to write")
	tx.Abort()
	tx.Abort()

	owner, err := b.OwnerOf(punks, id(1))
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	tx = b.Begin()
	require.NoError(t, tx.TransferFrom(punks, alice, alice, bob, id(1)))
	tx.Commit()

	owner, err = b.OwnerOf(punks, id(1))
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
}
