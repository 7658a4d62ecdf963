package collectionregistry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAddress      = errors.New("zero address")
	ErrAlreadyAdded     = errors.New("collection already added")
	ErrNotAdded         = errors.New("collection not added")
	ErrEmptyPool        = errors.New("empty pool")
	ErrDuplicateTokenID = errors.New("duplicate token id")
	ErrZeroFee          = errors.New("zero fee")
	ErrAlreadyInState   = errors.New("collection already in requested state")
	ErrPoolEmpty        = errors.New("pool is empty")
	ErrIndexOutOfRange  = errors.New("pool index out of range")
	ErrValueOutOfRange  = errors.New("value does not fit in uint256")
	ErrInconsistentView = errors.New("inconsistent registry view")
	ErrIssuerClaimed    = errors.New("issuer already claimed")
)

// DuplicateTokenError reports a pool id that cannot be registered. Collection is
// the collection already holding the id (zero when the id repeats within the
// submitted pool); Minted is set when the engine has already issued the id.
type DuplicateTokenError struct {
	TokenID    *big.Int
	Collection common.Address
	Minted     bool
}

func (e *DuplicateTokenError) Error() string {
	switch {
	case e.Minted:
		return fmt.Sprintf("%v: token %s already minted", ErrDuplicateTokenID, e.TokenID)
	case e.Collection == (common.Address{}):
		return fmt.Sprintf("%v: token %s repeated in pool", ErrDuplicateTokenID, e.TokenID)
	default:
		return fmt.Sprintf("%v: token %s already registered to %s", ErrDuplicateTokenID, e.TokenID, e.Collection)
	}
}

func (e *DuplicateTokenError) Unwrap() error {
	return ErrDuplicateTokenID
}

func zeroAddressError(arg string) error {
	return fmt.Errorf("%w: %s", ErrZeroAddress, arg)
}

func alreadyAddedError(collection common.Address) error {
	return fmt.Errorf("%w: %s", ErrAlreadyAdded, collection)
}

func notAddedError(collection common.Address) error {
	return fmt.Errorf("%w: %s", ErrNotAdded, collection)
}

func zeroFeeError(collection common.Address) error {
	return fmt.Errorf("%w: %s", ErrZeroFee, collection)
}
