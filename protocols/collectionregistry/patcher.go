package collectionregistry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Patcher constructs a new view by applying a diff to a previous one. The diff
// must start at the previous view's sequence. prev is not modified.
func Patcher(prev *CollectionRegistryView, diff RegistryDiff) (*CollectionRegistryView, error) {
	if prev.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("diff starts at sequence %d, view is at %d", diff.FromSequence, prev.Sequence)
	}

	next := copyView(prev)
	positions := make(map[common.Address]int, len(next.Collections))
	for i, c := range next.Collections {
		positions[c.Address] = i
	}

	for _, c := range diff.Updates {
		i, ok := positions[c.Address]
		if !ok {
			return nil, fmt.Errorf("cannot update unknown collection %s", c.Address)
		}
		next.Collections[i] = copyCollection(c)
	}
	for _, c := range diff.Additions {
		if _, ok := positions[c.Address]; ok {
			return nil, fmt.Errorf("cannot add existing collection %s", c.Address)
		}
		positions[c.Address] = len(next.Collections)
		next.Collections = append(next.Collections, copyCollection(c))
	}
	for _, e := range diff.IndexAdditions {
		next.TokenIndex = append(next.TokenIndex, TokenEntry{TokenID: copyBig(e.TokenID), Collection: e.Collection})
	}

	next.Sequence = diff.ToSequence
	return next, nil
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
