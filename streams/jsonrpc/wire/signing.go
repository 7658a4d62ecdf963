package wire

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// SignedRequest carries a JSON Payload and a secp256k1 signature over
// keccak256(payload).
type SignedRequest struct {
	Payload   hexutil.Bytes `json:"payload"`
	Signature hexutil.Bytes `json:"signature"`
}

// Payload binds a write to one RPC method and one nonce of the signer.
type Payload struct {
	Method string          `json:"method"`
	Nonce  uint64          `json:"nonce"`
	Params json.RawMessage `json:"params"`
}

// Sign builds a SignedRequest for method with the given nonce and params.
func Sign(key *ecdsa.PrivateKey, method string, nonce uint64, params any) (*SignedRequest, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	payload, err := json.Marshal(&Payload{Method: method, Nonce: nonce, Params: rawParams})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	return &SignedRequest{Payload: payload, Signature: sig}, nil
}

// Recover returns the signer and the decoded payload. Signatures with a
// recovery id of 27/28 are accepted as well as 0/1.
func Recover(req *SignedRequest) (common.Address, *Payload, error) {
	if req == nil || len(req.Signature) != crypto.SignatureLength {
		return common.Address{}, nil, fmt.Errorf("%w: expected %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, req.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(req.Payload), sig)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var payload Payload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), &payload, nil
}
