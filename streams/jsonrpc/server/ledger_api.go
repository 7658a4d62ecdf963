package server

import (
	"fmt"

	"github.com/defistate/defistate-mutator/access"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LedgerAPI is served under the "ledger" namespace. It exposes the token
// ownership book that backs the source collections and the mutated collection.
type LedgerAPI struct {
	book   *ledger.Book
	engine *mutator.Engine
	nonces *NonceTracker
	logger Logger
}

func (api *LedgerAPI) OwnerOf(collection common.Address, id *hexutil.Big) (common.Address, error) {
	tokenID, err := wire.ToUint256(id)
	if err != nil {
		return common.Address{}, rpcError(err)
	}
	owner, err := api.book.OwnerOf(collection, tokenID)
	return owner, rpcError(err)
}

func (api *LedgerAPI) BalanceOf(collection, owner common.Address) (hexutil.Uint64, error) {
	n, err := api.book.BalanceOf(collection, owner)
	return hexutil.Uint64(n), rpcError(err)
}

func (api *LedgerAPI) GetApproved(collection common.Address, id *hexutil.Big) (common.Address, error) {
	tokenID, err := wire.ToUint256(id)
	if err != nil {
		return common.Address{}, rpcError(err)
	}
	spender, err := api.book.GetApproved(collection, tokenID)
	return spender, rpcError(err)
}

func (api *LedgerAPI) IsApprovedForAll(collection, owner, operator common.Address) bool {
	return api.book.IsApprovedForAll(collection, owner, operator)
}

// SetApprovalForAll lets the signer grant the engine (or anyone) operator
// rights over its tokens in a collection.
func (api *LedgerAPI) SetApprovalForAll(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.SetApprovalForAllParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodSetApprovalForAll, &params)
	if err != nil {
		return nil, err
	}
	if err := api.book.SetApprovalForAll(params.Collection, signer, params.Operator, params.Approved); err != nil {
		return nil, rpcError(err)
	}
	api.logger.Debug("Operator approval set", "collection", params.Collection, "owner", signer, "operator", params.Operator, "approved", params.Approved)
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *LedgerAPI) Approve(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.ApproveParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodApprove, &params)
	if err != nil {
		return nil, err
	}
	tokenID, err := wire.ToUint256(params.TokenID)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := api.book.Approve(params.Collection, signer, params.Spender, tokenID); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

// Mint issues a source-collection token. Only the admin may mint, and never
// into the engine's own collection.
func (api *LedgerAPI) Mint(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.MintParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodMint, &params)
	if err != nil {
		return nil, err
	}
	if admin := api.engine.Admin(); signer != admin {
		return nil, rpcError(&access.UnauthorizedError{Caller: signer, Admin: admin})
	}
	if params.Collection == api.engine.Address() {
		return nil, &requestError{code: codeInvalidParams, err: fmt.Errorf("tokens of %s are only issued by mutation", params.Collection)}
	}
	tokenID, err := wire.ToUint256(params.TokenID)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := api.book.Mint(params.Collection, params.To, tokenID); err != nil {
		return nil, rpcError(err)
	}
	api.logger.Info("Token minted", "collection", params.Collection, "to", params.To, "tokenId", tokenID.Dec())
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}
