package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/engine"
	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// MutatorAPI is served under the "mutator" namespace.
type MutatorAPI struct {
	engine     *mutator.Engine
	registry   *collectionregistry.CollectionSystem
	differ     *differ.StateDiffer
	nonces     *NonceTracker
	bufferSize uint
	logger     Logger
}

// --- Reads ---

func (api *MutatorAPI) GetCollection(collection common.Address) collectionregistry.Collection {
	return api.engine.GetCollection(collection)
}

func (api *MutatorAPI) GetMutationPrice(collection common.Address) *hexutil.Big {
	return wire.FromBig(api.engine.GetMutationPrice(collection).ToBig())
}

func (api *MutatorAPI) IsCollectionAdded(collection common.Address) bool {
	return api.engine.IsCollectionAdded(collection)
}

func (api *MutatorAPI) IsCollectionPaused(collection common.Address) bool {
	return api.engine.IsCollectionPaused(collection)
}

func (api *MutatorAPI) GetCollectionAddressByTokenID(id *hexutil.Big) (common.Address, error) {
	tokenID, err := wire.ToUint256(id)
	if err != nil {
		return common.Address{}, rpcError(err)
	}
	return api.engine.GetCollectionAddressByTokenID(tokenID), nil
}

func (api *MutatorAPI) TokenURI(id *hexutil.Big) (string, error) {
	tokenID, err := wire.ToUint256(id)
	if err != nil {
		return "", rpcError(err)
	}
	uri, err := api.engine.TokenURI(tokenID)
	return uri, rpcError(err)
}

func (api *MutatorAPI) BaseURI() string {
	return api.engine.BaseURI()
}

func (api *MutatorAPI) Admin() common.Address {
	return api.engine.Admin()
}

// Address returns the engine's custody and issuance address.
func (api *MutatorAPI) Address() common.Address {
	return api.engine.Address()
}

func (api *MutatorAPI) CollectedFees() *hexutil.Big {
	return wire.FromBig(api.engine.CollectedFees().ToBig())
}

// Nonce returns the nonce the signer must use for its next signed write.
func (api *MutatorAPI) Nonce(signer common.Address) hexutil.Uint64 {
	return hexutil.Uint64(api.nonces.Next(signer))
}

// Registry returns a full snapshot of the registry.
func (api *MutatorAPI) Registry() *collectionregistry.CollectionRegistryView {
	return api.registry.View()
}

// --- Signed writes ---

func (api *MutatorAPI) AddCollection(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.AddCollectionParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodAddCollection, &params)
	if err != nil {
		return nil, err
	}
	pool := make([]*uint256.Int, len(params.Pool))
	for i, id := range params.Pool {
		if pool[i], err = wire.ToUint256(id); err != nil {
			return nil, rpcError(err)
		}
	}
	fee, err := wire.ToUint256(params.Fee)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := api.engine.AddCollection(signer, params.Collection, pool, fee); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *MutatorAPI) PauseCollection(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.CollectionParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodPauseCollection, &params)
	if err != nil {
		return nil, err
	}
	if err := api.engine.PauseCollection(signer, params.Collection); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *MutatorAPI) UnpauseCollection(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.CollectionParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodUnpauseCollection, &params)
	if err != nil {
		return nil, err
	}
	if err := api.engine.UnpauseCollection(signer, params.Collection); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *MutatorAPI) SetMutationPrice(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.SetMutationPriceParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodSetMutationPrice, &params)
	if err != nil {
		return nil, err
	}
	fee, err := wire.ToUint256(params.Fee)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := api.engine.SetMutationPrice(signer, params.Collection, fee); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *MutatorAPI) Mutate(req *wire.SignedRequest) (*mutator.Receipt, error) {
	var params wire.MutateParams
	signer, _, err := authenticate(api.nonces, req, wire.MethodMutate, &params)
	if err != nil {
		return nil, err
	}
	idA, err := wire.ToUint256(params.TokenA)
	if err != nil {
		return nil, rpcError(err)
	}
	idB, err := wire.ToUint256(params.TokenB)
	if err != nil {
		return nil, rpcError(err)
	}
	payment, err := wire.ToUint256(params.Payment)
	if err != nil {
		return nil, rpcError(err)
	}
	receipt, err := api.engine.Mutate(signer, idA, idB, params.Collection, payment)
	if err != nil {
		return nil, rpcError(err)
	}
	return receipt, nil
}

func (api *MutatorAPI) SetBaseURI(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.SetBaseURIParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodSetBaseURI, &params)
	if err != nil {
		return nil, err
	}
	if err := api.engine.SetBaseURI(signer, params.URI); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

func (api *MutatorAPI) WithdrawFees(req *wire.SignedRequest) (*hexutil.Big, error) {
	var params struct{}
	signer, _, err := authenticate(api.nonces, req, wire.MethodWithdrawFees, &params)
	if err != nil {
		return nil, err
	}
	amount, err := api.engine.WithdrawFees(signer)
	if err != nil {
		return nil, rpcError(err)
	}
	return wire.FromBig(amount.ToBig()), nil
}

func (api *MutatorAPI) TransferAdmin(req *wire.SignedRequest) (*wire.WriteResult, error) {
	var params wire.TransferAdminParams
	signer, nonce, err := authenticate(api.nonces, req, wire.MethodTransferAdmin, &params)
	if err != nil {
		return nil, err
	}
	if err := api.engine.TransferAdmin(signer, params.NewAdmin); err != nil {
		return nil, rpcError(err)
	}
	return &wire.WriteResult{Signer: signer, Nonce: hexutil.Uint64(nonce)}, nil
}

// --- Stream ---

// SubscribeRegistryStream sends the current registry as a "full" event, then a
// "diff" event for every committed change.
func (api *MutatorAPI) SubscribeRegistryStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()

	// Subscribe before taking the snapshot so no commit falls in between.
	views := make(chan *collectionregistry.CollectionRegistryView, api.bufferSize)
	feedSub := api.registry.SubscribeViews(views)
	last := &engine.State{Timestamp: uint64(time.Now().UnixNano()), Registry: api.registry.View()}

	go func() {
		defer feedSub.Unsubscribe()

		if err := api.notify(notifier, sub.ID, wire.EventFull, last); err != nil {
			api.logger.Warn("Failed to send full state", "subscription", sub.ID, "error", err)
			return
		}
		for {
			select {
			case view := <-views:
				if view.Sequence <= last.Sequence() {
					continue
				}
				next := &engine.State{Timestamp: uint64(time.Now().UnixNano()), Registry: view}
				if err := api.sendUpdate(notifier, sub.ID, last, next); err != nil {
					api.logger.Warn("Failed to send registry update", "subscription", sub.ID, "error", err)
					return
				}
				last = next
			case err := <-feedSub.Err():
				if err != nil {
					api.logger.Warn("Registry feed closed", "subscription", sub.ID, "error", err)
				}
				return
			case <-sub.Err():
				api.logger.Debug("Stream subscriber left", "subscription", sub.ID)
				return
			}
		}
	}()

	return sub, nil
}

// sendUpdate sends a diff from last to next, or a full state if the diff fails.
func (api *MutatorAPI) sendUpdate(notifier *rpc.Notifier, id rpc.ID, last, next *engine.State) error {
	diff, err := api.differ.Diff(last, next)
	if err != nil {
		return api.notify(notifier, id, wire.EventFull, next)
	}
	return api.notify(notifier, id, wire.EventDiff, diff)
}

func (api *MutatorAPI) notify(notifier *rpc.Notifier, id rpc.ID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return notifier.Notify(id, &wire.SubscriptionEvent{
		Type:    eventType,
		Payload: raw,
		SentAt:  time.Now().UnixNano(),
	})
}
