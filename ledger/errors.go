package ledger

import "errors"

var (
	ErrNonexistentToken = errors.New("nonexistent token")
	ErrTokenExists      = errors.New("token already minted")
	ErrNotApproved      = errors.New("caller is not token owner or approved")
	ErrWrongOwner       = errors.New("transfer from incorrect owner")
	ErrZeroAddress      = errors.New("zero address")
)
