package server

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/common"
)

// authenticate recovers the signer of req, checks that it was signed for
// method, decodes its params and consumes the signer's nonce.
func authenticate(nonces *NonceTracker, req *wire.SignedRequest, method string, params any) (common.Address, uint64, error) {
	signer, payload, err := wire.Recover(req)
	if err != nil {
		return common.Address{}, 0, rpcError(err)
	}
	if payload.Method != method {
		return common.Address{}, 0, &requestError{code: codeInvalidRequest, err: fmt.Errorf("payload signed for %q, called %q", payload.Method, method)}
	}
	if len(payload.Params) > 0 {
		if err := json.Unmarshal(payload.Params, params); err != nil {
			return common.Address{}, 0, &requestError{code: codeInvalidParams, err: fmt.Errorf("invalid params: %w", err)}
		}
	}
	if err := nonces.Use(signer, payload.Nonce); err != nil {
		return common.Address{}, 0, err
	}
	return signer, payload.Nonce, nil
}
