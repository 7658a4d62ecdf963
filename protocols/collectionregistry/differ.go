package collectionregistry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryDiff summarizes the changes between two registry views.
// Collections are never removed and the token index only grows, so a diff
// carries no deletions.
type RegistryDiff struct {
	FromSequence   uint64       `json:"fromSequence"`
	ToSequence     uint64       `json:"toSequence"`
	Additions      []Collection `json:"additions,omitempty"`
	Updates        []Collection `json:"updates,omitempty"`
	IndexAdditions []TokenEntry `json:"indexAdditions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d RegistryDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.IndexAdditions) == 0
}

// Differ calculates the difference between two views of the registry.
// Additions and updates keep the registration order of the new view.
func Differ(old, new *CollectionRegistryView) (RegistryDiff, error) {
	oldMap := make(map[common.Address]Collection, len(old.Collections))
	for _, c := range old.Collections {
		oldMap[c.Address] = c
	}

	var additions, updates []Collection
	for _, c := range new.Collections {
		prev, exists := oldMap[c.Address]
		if !exists {
			additions = append(additions, copyCollection(c))
			continue
		}
		if collectionChanged(prev, c) {
			updates = append(updates, copyCollection(c))
		}
		delete(oldMap, c.Address)
	}
	if len(oldMap) != 0 {
		return RegistryDiff{}, fmt.Errorf("%w: %d collections missing from newer view", ErrInconsistentView, len(oldMap))
	}

	if len(new.TokenIndex) < len(old.TokenIndex) {
		return RegistryDiff{}, fmt.Errorf("%w: token index shrank from %d to %d", ErrInconsistentView, len(old.TokenIndex), len(new.TokenIndex))
	}
	var indexAdditions []TokenEntry
	for _, e := range new.TokenIndex[len(old.TokenIndex):] {
		indexAdditions = append(indexAdditions, TokenEntry{TokenID: copyBig(e.TokenID), Collection: e.Collection})
	}

	return RegistryDiff{
		FromSequence:   old.Sequence,
		ToSequence:     new.Sequence,
		Additions:      additions,
		Updates:        updates,
		IndexAdditions: indexAdditions,
	}, nil
}

func collectionChanged(a, b Collection) bool {
	if a.Paused != b.Paused || !bigEqual(a.Fee, b.Fee) || len(a.Pool) != len(b.Pool) {
		return true
	}
	for i := range a.Pool {
		if !bigEqual(a.Pool[i], b.Pool[i]) {
			return true
		}
	}
	return false
}
