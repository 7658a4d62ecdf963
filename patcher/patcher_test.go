package patcher

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------------
// --- Helpers ---
// --------------------------------------------------------------------------------

var punks = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")

func makeState(sequence uint64, pool ...int64) *engine.State {
	ids := make([]*big.Int, len(pool))
	index := make([]collectionregistry.TokenEntry, len(pool))
	for i, id := range pool {
		ids[i] = big.NewInt(id)
		index[i] = collectionregistry.TokenEntry{TokenID: big.NewInt(id), Collection: punks}
	}
	return &engine.State{
		Timestamp: uint64(time.Now().UnixNano()),
		Registry: &collectionregistry.CollectionRegistryView{
			Sequence:    sequence,
			Collections: []collectionregistry.Collection{{Address: punks, Pool: ids, Fee: big.NewInt(10)}},
			TokenIndex:  index,
		},
	}
}

// --------------------------------------------------------------------------------
// --- Main Test Suite ---
// --------------------------------------------------------------------------------

func TestStatePatcher_HappyPath(t *testing.T) {
	patcher, err := NewStatePatcher(&StatePatcherConfig{})
	require.NoError(t, err)

	oldState := makeState(4, 1, 2, 3)
	newPool := []*big.Int{big.NewInt(1), big.NewInt(3)}
	diff := &differ.StateDiff{
		Timestamp:    99,
		FromSequence: 4,
		ToSequence:   5,
		Registry: collectionregistry.RegistryDiff{
			FromSequence: 4,
			ToSequence:   5,
			Updates:      []collectionregistry.Collection{{Address: punks, Pool: newPool, Fee: big.NewInt(10)}},
		},
	}

	newState, err := patcher.Patch(oldState, diff)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), newState.Timestamp)
	assert.Equal(t, uint64(5), newState.Sequence())
	require.Len(t, newState.Registry.Collections, 1)
	assert.Len(t, newState.Registry.Collections[0].Pool, 2)

	// Immutability
	assert.Len(t, oldState.Registry.Collections[0].Pool, 3, "old state must not be modified")
	assert.Equal(t, uint64(4), oldState.Sequence())
}

func TestStatePatcher_SequenceMismatch(t *testing.T) {
	patcher, err := NewStatePatcher(&StatePatcherConfig{})
	require.NoError(t, err)

	oldState := makeState(4, 1)
	_, err = patcher.Patch(oldState, &differ.StateDiff{FromSequence: 3, ToSequence: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch fromSequence")

	_, err = patcher.Patch(oldState, &differ.StateDiff{
		FromSequence: 4,
		ToSequence:   5,
		Registry:     collectionregistry.RegistryDiff{FromSequence: 4, ToSequence: 6},
	})
	assert.Error(t, err)

	_, err = patcher.Patch(&engine.State{}, &differ.StateDiff{})
	assert.Error(t, err)
}

func TestStatePatcher_RegistryPatcherError(t *testing.T) {
	boom := errors.New("boom")
	patcher, err := NewStatePatcher(&StatePatcherConfig{
		RegistryPatcher: func(*collectionregistry.CollectionRegistryView, collectionregistry.RegistryDiff) (*collectionregistry.CollectionRegistryView, error) {
			return nil, boom
		},
	})
	require.NoError(t, err)

	_, err = patcher.Patch(makeState(1, 1), &differ.StateDiff{
		FromSequence: 1,
		ToSequence:   2,
		Registry:     collectionregistry.RegistryDiff{FromSequence: 1, ToSequence: 2},
	})
	assert.ErrorIs(t, err, boom)
}
