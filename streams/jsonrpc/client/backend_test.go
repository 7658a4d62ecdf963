package client

import (
	"crypto/ecdsa"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-mutator/access"
	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	engineAddr = common.HexToAddress("0xE000000000000000000000000000000000000E01")
	punks      = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBackend is a complete mutator server with an empty registry.
type testBackend struct {
	server    *server.Server
	registry  *collectionregistry.CollectionSystem
	adminKey  *ecdsa.PrivateKey
	holderKey *ecdsa.PrivateKey
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	logger := testLogger()

	adminKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	holderKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	gate, err := access.NewGate(crypto.PubkeyToAddress(adminKey.PublicKey))
	require.NoError(t, err)
	registry, err := collectionregistry.NewCollectionSystem(&collectionregistry.Config{
		Authorizer: gate,
		Logger:     logger,
		Registry:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	book := ledger.NewBook()
	eng, err := mutator.NewEngine(&mutator.Config{
		Address:            engineAddr,
		Registry:           registry,
		Ledger:             book,
		Gate:               gate,
		BaseURI:            "https://mutants.example/",
		Logger:             logger,
		PrometheusRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	})
	require.NoError(t, err)

	s, err := server.NewServer(&server.Config{
		Engine:     eng,
		Registry:   registry,
		Book:       book,
		Differ:     stateDiffer,
		Logger:     logger,
		BufferSize: 16,
	})
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	return &testBackend{server: s, registry: registry, adminKey: adminKey, holderKey: holderKey}
}
