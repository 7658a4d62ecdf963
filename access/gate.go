package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrZeroAddress  = errors.New("zero address")
)

// UnauthorizedError is returned when a caller other than the admin attempts an
// administrative operation.
type UnauthorizedError struct {
	Caller common.Address
	Admin  common.Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%v: caller %s is not admin %s", ErrUnauthorized, e.Caller, e.Admin)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// Gate is a single-admin permission check. It is safe for concurrent use.
type Gate struct {
	mu    sync.RWMutex
	admin common.Address
}

// NewGate creates a gate administered by admin.
func NewGate(admin common.Address) (*Gate, error) {
	if admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: admin", ErrZeroAddress)
	}
	return &Gate{admin: admin}, nil
}

// Admin returns the current admin.
func (g *Gate) Admin() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admin
}

// Require returns an *UnauthorizedError unless caller is the admin.
func (g *Gate) Require(caller common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.admin {
		return &UnauthorizedError{Caller: caller, Admin: g.admin}
	}
	return nil
}

// TransferAdmin hands the gate to newAdmin. Only the current admin may call it.
func (g *Gate) TransferAdmin(caller, newAdmin common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.admin {
		return &UnauthorizedError{Caller: caller, Admin: g.admin}
	}
	if newAdmin == (common.Address{}) {
		return fmt.Errorf("%w: new admin", ErrZeroAddress)
	}
	g.admin = newAdmin
	return nil
}
