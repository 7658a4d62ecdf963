package mutator

import (
	"errors"
	"fmt"
	"math/big"

	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner            = errors.New("caller is not token owner")
	ErrPaused              = errors.New("collection is paused")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrNonexistentToken    = errors.New("nonexistent token")
)

// Registry errors surfaced by the engine.
var (
	ErrZeroAddress      = collectionregistry.ErrZeroAddress
	ErrNotAdded         = collectionregistry.ErrNotAdded
	ErrPoolEmpty        = collectionregistry.ErrPoolEmpty
	ErrDuplicateTokenID = collectionregistry.ErrDuplicateTokenID
)

// NotOwnerError reports that the caller does not hold one of the tokens it
// offered. Owner is zero when the token does not exist.
type NotOwnerError struct {
	Argument   string
	Collection common.Address
	TokenID    *big.Int
	Caller     common.Address
	Owner      common.Address
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("%v: %s %s of %s is owned by %s, not %s", ErrNotOwner, e.Argument, e.TokenID, e.Collection, e.Owner, e.Caller)
}

func (e *NotOwnerError) Unwrap() error {
	return ErrNotOwner
}

// classify maps an engine error to a metrics label.
func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrNotAdded):
		return "not_added"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrPoolEmpty):
		return "pool_empty"
	default:
		return "reverted"
	}
}
