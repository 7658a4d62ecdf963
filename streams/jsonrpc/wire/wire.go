package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

const (
	MutatorNamespace = "mutator"
	LedgerNamespace  = "ledger"

	RegistryStreamSubscriptionMethod = "subscribeRegistryStream"

	EventFull = "full"
	EventDiff = "diff"
)

// Signed write methods. The payload's method must equal the RPC method called.
const (
	MethodAddCollection     = "mutator_addCollection"
	MethodPauseCollection   = "mutator_pauseCollection"
	MethodUnpauseCollection = "mutator_unpauseCollection"
	MethodSetMutationPrice  = "mutator_setMutationPrice"
	MethodMutate            = "mutator_mutate"
	MethodSetBaseURI        = "mutator_setBaseURI"
	MethodWithdrawFees      = "mutator_withdrawFees"
	MethodTransferAdmin     = "mutator_transferAdmin"
	MethodSetApprovalForAll = "ledger_setApprovalForAll"
	MethodApprove           = "ledger_approve"
	MethodMint              = "ledger_mint"
)

var ErrValueOutOfRange = errors.New("value does not fit in uint256")

// SubscriptionEvent is the wrapper object sent to stream subscribers.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

type AddCollectionParams struct {
	Collection common.Address `json:"collection"`
	Pool       []*hexutil.Big `json:"pool"`
	Fee        *hexutil.Big   `json:"fee"`
}

type CollectionParams struct {
	Collection common.Address `json:"collection"`
}

type SetMutationPriceParams struct {
	Collection common.Address `json:"collection"`
	Fee        *hexutil.Big   `json:"fee"`
}

type MutateParams struct {
	TokenA     *hexutil.Big   `json:"tokenA"`
	TokenB     *hexutil.Big   `json:"tokenB"`
	Collection common.Address `json:"collection"`
	Payment    *hexutil.Big   `json:"payment"`
}

type SetBaseURIParams struct {
	URI string `json:"uri"`
}

type TransferAdminParams struct {
	NewAdmin common.Address `json:"newAdmin"`
}

type SetApprovalForAllParams struct {
	Collection common.Address `json:"collection"`
	Operator   common.Address `json:"operator"`
	Approved   bool           `json:"approved"`
}

type ApproveParams struct {
	Collection common.Address `json:"collection"`
	Spender    common.Address `json:"spender"`
	TokenID    *hexutil.Big   `json:"tokenId"`
}

type MintParams struct {
	Collection common.Address `json:"collection"`
	To         common.Address `json:"to"`
	TokenID    *hexutil.Big   `json:"tokenId"`
}

// WriteResult acknowledges an applied signed write.
type WriteResult struct {
	Signer common.Address `json:"signer"`
	Nonce  hexutil.Uint64 `json:"nonce"`
}

// ToUint256 converts a wire integer. nil is treated as zero.
func ToUint256(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	b := (*big.Int)(v)
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrValueOutOfRange, b)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrValueOutOfRange, b)
	}
	return u, nil
}

// Big wraps a uint64 as a wire integer.
func Big(v uint64) *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetUint64(v))
}

// FromBig wraps a *big.Int as a wire integer.
func FromBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(v)
}
