package collectionregistry

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatcher(t *testing.T) {
	t.Run("differ and patcher round trip", func(t *testing.T) {
		s := newTestSystem(t)
		require.NoError(t, s.AddCollection(testAdmin, collectionA, u256s(1, 2, 3), uint256.NewInt(10), nil))
		before := s.View()

		require.NoError(t, s.AddCollection(testAdmin, collectionB, u256s(4, 5), uint256.NewInt(20), nil))
		require.NoError(t, consume(s, func(txn *Txn) error {
			_, err := txn.RemovePoolAt(collectionA, 0)
			return err
		}))
		require.NoError(t, s.PauseCollection(testAdmin, collectionB))
		after := s.View()

		diff, err := Differ(before, after)
		require.NoError(t, err)

		patched, err := Patcher(before, diff)
		require.NoError(t, err)
		assert.Equal(t, after.Sequence, patched.Sequence)
		require.Len(t, patched.Collections, 2)
		for i := range after.Collections {
			assert.Equal(t, after.Collections[i].Address, patched.Collections[i].Address)
			assert.Equal(t, poolIDs(after.Collections[i].Pool), poolIDs(patched.Collections[i].Pool))
			assert.Equal(t, after.Collections[i].Paused, patched.Collections[i].Paused)
			assert.Equal(t, 0, after.Collections[i].Fee.Cmp(patched.Collections[i].Fee))
		}
		require.Len(t, patched.TokenIndex, len(after.TokenIndex))
		for i := range after.TokenIndex {
			assert.Equal(t, 0, after.TokenIndex[i].TokenID.Cmp(patched.TokenIndex[i].TokenID))
			assert.Equal(t, after.TokenIndex[i].Collection, patched.TokenIndex[i].Collection)
		}

		// the patched view must be restorable
		_, err = NewCollectionRegistryFromView(patched)
		assert.NoError(t, err)
	})

	t.Run("does not modify the previous view", func(t *testing.T) {
		prev := &CollectionRegistryView{Sequence: 1, Collections: []Collection{newTestCollection(collectionA, 10, false, 1, 2)}}
		diff := RegistryDiff{
			FromSequence: 1,
			ToSequence:   2,
			Updates:      []Collection{newTestCollection(collectionA, 10, true, 2)},
		}
		next, err := Patcher(prev, diff)
		require.NoError(t, err)
		assert.True(t, next.Collections[0].Paused)
		assert.False(t, prev.Collections[0].Paused)
		assert.Len(t, prev.Collections[0].Pool, 2)
	})

	t.Run("rejects a sequence gap", func(t *testing.T) {
		prev := &CollectionRegistryView{Sequence: 3}
		_, err := Patcher(prev, RegistryDiff{FromSequence: 2, ToSequence: 4})
		assert.Error(t, err)
	})

	t.Run("rejects unknown updates and repeated additions", func(t *testing.T) {
		prev := &CollectionRegistryView{Sequence: 1, Collections: []Collection{newTestCollection(collectionA, 10, false, 1)}}

		_, err := Patcher(prev, RegistryDiff{FromSequence: 1, ToSequence: 2, Updates: []Collection{newTestCollection(collectionB, 1, false)}})
		assert.Error(t, err)

		_, err = Patcher(prev, RegistryDiff{FromSequence: 1, ToSequence: 2, Additions: []Collection{newTestCollection(collectionA, 1, false, 5)}})
		assert.Error(t, err)
	})
}
