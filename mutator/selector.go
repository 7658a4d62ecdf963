package mutator

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SelectFunc picks the index of the pool id to mint. poolLen is at least 1 and
// the result must lie in [0, poolLen).
type SelectFunc func(caller common.Address, timestamp uint64, poolLen int) int

// SelectIndex derives the index from keccak256(caller ‖ uint256(timestamp)).
//
// This is NOT a secure randomness source: both inputs are known to the caller
// before submission. The reduction is modulo poolLen-1, so the last slot is
// never chosen while more than one id remains; that bias is kept for
// compatibility with deployed registries but is very likely unintended.
// Deployments that need fair or unpredictable picks should supply their own
// SelectFunc.
func SelectIndex(caller common.Address, timestamp uint64, poolLen int) int {
	if poolLen <= 1 {
		return 0
	}
	ts := uint256.NewInt(timestamp).Bytes32()
	hash := crypto.Keccak256(caller.Bytes(), ts[:])

	v := new(uint256.Int).SetBytes(hash)
	v.Mod(v, uint256.NewInt(uint64(poolLen-1)))
	return int(v.Uint64())
}
