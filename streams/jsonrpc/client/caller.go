package client

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Caller issues reads and signed writes against a mutator server. Writes from
// one Caller are serialized so that nonces are used in order.
type Caller struct {
	mu     sync.Mutex
	rpc    *rpc.Client
	key    *ecdsa.PrivateKey
	signer common.Address
}

// NewCaller wraps an rpc client. key may be nil for a read-only caller.
func NewCaller(rpcClient *rpc.Client, key *ecdsa.PrivateKey) (*Caller, error) {
	if rpcClient == nil {
		return nil, errors.New("caller: rpc client is required")
	}
	c := &Caller{rpc: rpcClient, key: key}
	if key != nil {
		c.signer = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Signer returns the address writes are signed by.
func (c *Caller) Signer() common.Address {
	return c.signer
}

func (c *Caller) write(ctx context.Context, method string, params any, result any) error {
	if c.key == nil {
		return errors.New("caller: no signing key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var nonce hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &nonce, "mutator_nonce", c.signer); err != nil {
		return fmt.Errorf("failed to fetch nonce: %w", err)
	}
	req, err := wire.Sign(c.key, method, uint64(nonce), params)
	if err != nil {
		return err
	}
	return c.rpc.CallContext(ctx, result, method, req)
}

// --- Writes ---

func (c *Caller) AddCollection(ctx context.Context, collection common.Address, pool []*big.Int, fee *big.Int) error {
	ids := make([]*hexutil.Big, len(pool))
	for i, id := range pool {
		ids[i] = wire.FromBig(id)
	}
	var res wire.WriteResult
	return c.write(ctx, wire.MethodAddCollection, &wire.AddCollectionParams{
		Collection: collection,
		Pool:       ids,
		Fee:        wire.FromBig(fee),
	}, &res)
}

func (c *Caller) PauseCollection(ctx context.Context, collection common.Address) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodPauseCollection, &wire.CollectionParams{Collection: collection}, &res)
}

func (c *Caller) UnpauseCollection(ctx context.Context, collection common.Address) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodUnpauseCollection, &wire.CollectionParams{Collection: collection}, &res)
}

func (c *Caller) SetMutationPrice(ctx context.Context, collection common.Address, fee *big.Int) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodSetMutationPrice, &wire.SetMutationPriceParams{
		Collection: collection,
		Fee:        wire.FromBig(fee),
	}, &res)
}

// Mutate burns tokenA and tokenB of collection and returns the mutation receipt.
func (c *Caller) Mutate(ctx context.Context, tokenA, tokenB *big.Int, collection common.Address, payment *big.Int) (*mutator.Receipt, error) {
	var receipt mutator.Receipt
	err := c.write(ctx, wire.MethodMutate, &wire.MutateParams{
		TokenA:     wire.FromBig(tokenA),
		TokenB:     wire.FromBig(tokenB),
		Collection: collection,
		Payment:    wire.FromBig(payment),
	}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Caller) SetBaseURI(ctx context.Context, uri string) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodSetBaseURI, &wire.SetBaseURIParams{URI: uri}, &res)
}

func (c *Caller) WithdrawFees(ctx context.Context) (*big.Int, error) {
	var amount hexutil.Big
	if err := c.write(ctx, wire.MethodWithdrawFees, struct{}{}, &amount); err != nil {
		return nil, err
	}
	return amount.ToInt(), nil
}

func (c *Caller) TransferAdmin(ctx context.Context, newAdmin common.Address) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodTransferAdmin, &wire.TransferAdminParams{NewAdmin: newAdmin}, &res)
}

func (c *Caller) SetApprovalForAll(ctx context.Context, collection, operator common.Address, approved bool) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodSetApprovalForAll, &wire.SetApprovalForAllParams{
		Collection: collection,
		Operator:   operator,
		Approved:   approved,
	}, &res)
}

func (c *Caller) Mint(ctx context.Context, collection, to common.Address, id *big.Int) error {
	var res wire.WriteResult
	return c.write(ctx, wire.MethodMint, &wire.MintParams{
		Collection: collection,
		To:         to,
		TokenID:    wire.FromBig(id),
	}, &res)
}

// --- Reads ---

func (c *Caller) GetCollection(ctx context.Context, collection common.Address) (*collectionregistry.Collection, error) {
	var out collectionregistry.Collection
	if err := c.rpc.CallContext(ctx, &out, "mutator_getCollection", collection); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Caller) GetMutationPrice(ctx context.Context, collection common.Address) (*big.Int, error) {
	var price hexutil.Big
	if err := c.rpc.CallContext(ctx, &price, "mutator_getMutationPrice", collection); err != nil {
		return nil, err
	}
	return price.ToInt(), nil
}

func (c *Caller) TokenURI(ctx context.Context, id *big.Int) (string, error) {
	var uri string
	err := c.rpc.CallContext(ctx, &uri, "mutator_tokenURI", wire.FromBig(id))
	return uri, err
}

func (c *Caller) OwnerOf(ctx context.Context, collection common.Address, id *big.Int) (common.Address, error) {
	var owner common.Address
	err := c.rpc.CallContext(ctx, &owner, "ledger_ownerOf", collection, wire.FromBig(id))
	return owner, err
}

// EngineAddress returns the address the engine holds burned tokens at and
// issues mutated tokens under.
func (c *Caller) EngineAddress(ctx context.Context) (common.Address, error) {
	var addr common.Address
	err := c.rpc.CallContext(ctx, &addr, "mutator_address")
	return addr, err
}

// Registry returns a full snapshot of the collection registry.
func (c *Caller) Registry(ctx context.Context) (*collectionregistry.CollectionRegistryView, error) {
	var view collectionregistry.CollectionRegistryView
	if err := c.rpc.CallContext(ctx, &view, "mutator_registry"); err != nil {
		return nil, err
	}
	return &view, nil
}
