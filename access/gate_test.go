package access

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	alice := common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob := common.HexToAddress("0xB0B0000000000000000000000000000000000002")

	t.Run("rejects a zero admin", func(t *testing.T) {
		_, err := NewGate(common.Address{})
		assert.ErrorIs(t, err, ErrZeroAddress)
	})

	t.Run("require", func(t *testing.T) {
		g, err := NewGate(alice)
		require.NoError(t, err)
		assert.NoError(t, g.Require(alice))

		err = g.Require(bob)
		assert.ErrorIs(t, err, ErrUnauthorized)
		var unauthorized *UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
		assert.Equal(t, bob, unauthorized.Caller)
		assert.Equal(t, alice, unauthorized.Admin)
	})

	t.Run("transfer admin", func(t *testing.T) {
		g, err := NewGate(alice)
		require.NoError(t, err)

		assert.ErrorIs(t, g.TransferAdmin(bob, bob), ErrUnauthorized)
		assert.ErrorIs(t, g.TransferAdmin(alice, common.Address{}), ErrZeroAddress)
		assert.Equal(t, alice, g.Admin())

		require.NoError(t, g.TransferAdmin(alice, bob))
		assert.Equal(t, bob, g.Admin())
		assert.ErrorIs(t, g.Require(alice), ErrUnauthorized)
		assert.NoError(t, g.Require(bob))
	})

	t.Run("concurrent checks", func(t *testing.T) {
		g, err := NewGate(alice)
		require.NoError(t, err)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					_ = g.Require(alice)
					_ = g.Admin()
				}
			}()
		}
		wg.Wait()
	})
}
