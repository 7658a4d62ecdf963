package differ

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var punks = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")

func newTestDiffer(t *testing.T, registryDiffer RegistryDiffer) *StateDiffer {
	t.Helper()
	d, err := NewStateDiffer(&StateDifferConfig{
		RegistryDiffer: registryDiffer,
		Registry:       prometheus.NewRegistry(),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return d
}

func stateAt(sequence uint64, paused bool) *engine.State {
	return &engine.State{
		Registry: &collectionregistry.CollectionRegistryView{
			Sequence: sequence,
			Collections: []collectionregistry.Collection{
				{Address: punks, Pool: []*big.Int{big.NewInt(1)}, Paused: paused, Fee: big.NewInt(1)},
			},
			TokenIndex: []collectionregistry.TokenEntry{{TokenID: big.NewInt(1), Collection: punks}},
		},
	}
}

func TestNewStateDiffer_Config(t *testing.T) {
	_, err := NewStateDiffer(&StateDifferConfig{Logger: slog.Default()})
	assert.Error(t, err)
	_, err = NewStateDiffer(&StateDifferConfig{Registry: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestStateDiffer_Diff(t *testing.T) {
	t.Run("computes registry changes", func(t *testing.T) {
		d := newTestDiffer(t, nil)
		diff, err := d.Diff(stateAt(3, false), stateAt(4, true))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), diff.FromSequence)
		assert.Equal(t, uint64(4), diff.ToSequence)
		assert.NotZero(t, diff.Timestamp)
		require.Len(t, diff.Registry.Updates, 1)
		assert.True(t, diff.Registry.Updates[0].Paused)
		assert.False(t, diff.IsEmpty())
	})

	t.Run("identical states produce an empty diff", func(t *testing.T) {
		d := newTestDiffer(t, nil)
		diff, err := d.Diff(stateAt(3, false), stateAt(3, false))
		require.NoError(t, err)
		assert.True(t, diff.IsEmpty())
	})

	t.Run("rejects missing registries and rewinds", func(t *testing.T) {
		d := newTestDiffer(t, nil)
		_, err := d.Diff(&engine.State{}, stateAt(1, false))
		assert.Error(t, err)
		_, err = d.Diff(stateAt(5, false), stateAt(4, false))
		assert.Error(t, err)
	})

	t.Run("propagates registry differ errors", func(t *testing.T) {
		boom := errors.New("boom")
		d := newTestDiffer(t, func(_, _ *collectionregistry.CollectionRegistryView) (collectionregistry.RegistryDiff, error) {
			return collectionregistry.RegistryDiff{}, boom
		})
		_, err := d.Diff(stateAt(1, false), stateAt(2, false))
		assert.ErrorIs(t, err, boom)
	})
}
