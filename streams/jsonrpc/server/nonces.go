package server

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceTracker hands out one-use, strictly increasing nonces per signer.
type NonceTracker struct {
	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{nonces: make(map[common.Address]uint64)}
}

// Next returns the nonce the signer must use for its next write.
func (t *NonceTracker) Next(signer common.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nonces[signer]
}

// Use consumes nonce if it is the signer's next one.
func (t *NonceTracker) Use(signer common.Address, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.nonces[signer]
	if nonce != next {
		return &requestError{code: codeBadNonce, err: fmt.Errorf("bad nonce for %s: got %d, want %d", signer, nonce, next)}
	}
	t.nonces[signer] = next + 1
	return nil
}
