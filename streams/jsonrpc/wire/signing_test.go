package wire

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	params := &CollectionParams{Collection: common.HexToAddress("0xC1")}
	req, err := Sign(key, MethodPauseCollection, 7, params)
	require.NoError(t, err)

	signer, payload, err := Recover(req)
	require.NoError(t, err)
	assert.Equal(t, want, signer)
	assert.Equal(t, MethodPauseCollection, payload.Method)
	assert.Equal(t, uint64(7), payload.Nonce)
	assert.JSONEq(t, `{"collection":"0x00000000000000000000000000000000000000c1"}`, string(payload.Params))

	t.Run("accepts legacy recovery ids", func(t *testing.T) {
		legacy := &SignedRequest{Payload: req.Payload, Signature: append(hexutil.Bytes{}, req.Signature...)}
		legacy.Signature[crypto.RecoveryIDOffset] += 27
		signer, _, err := Recover(legacy)
		require.NoError(t, err)
		assert.Equal(t, want, signer)
	})

	t.Run("tampered payload recovers another signer", func(t *testing.T) {
		tampered := &SignedRequest{Payload: append(hexutil.Bytes{}, req.Payload...), Signature: req.Signature}
		tampered.Payload[len(tampered.Payload)-2] = '8'
		signer, _, err := Recover(tampered)
		if err == nil {
			assert.NotEqual(t, want, signer)
		}
	})

	t.Run("rejects malformed signatures", func(t *testing.T) {
		_, _, err := Recover(&SignedRequest{Payload: req.Payload, Signature: req.Signature[:64]})
		assert.ErrorIs(t, err, ErrInvalidSignature)
		_, _, err = Recover(nil)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestToUint256(t *testing.T) {
	v, err := ToUint256(nil)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	v, err = ToUint256(Big(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v.Uint64())

	_, err = ToUint256(FromBig(big.NewInt(-1)))
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = ToUint256(FromBig(new(big.Int).Lsh(big.NewInt(1), 256)))
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}
