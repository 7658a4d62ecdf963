package client

import (
	"context"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/engine"
	"github.com/defistate/defistate-mutator/patcher"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Setup: Mock RPC Server ---

type mockRegistryStreamer struct {
	events []*wire.SubscriptionEvent
	t      *testing.T
}

func (api *mockRegistryStreamer) SubscribeRegistryStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	go func() {
		for _, event := range api.events {
			select {
			case <-rpcSub.Err():
				return
			default:
				if err := notifier.Notify(rpcSub.ID, event); err != nil {
					api.t.Logf("Error notifying subscriber: %v", err)
					return
				}
			}
		}
	}()
	return rpcSub, nil
}

// startMockStreamer serves events to every subscriber on addr ("127.0.0.1:0"
// picks a free port). It returns the websocket URL and a stop function.
func startMockStreamer(t *testing.T, addr string, events []*wire.SubscriptionEvent) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName(wire.MutatorNamespace, &mockRegistryStreamer{events: events, t: t}))
	httpServer := &http.Server{Handler: srv.WebsocketHandler([]string{"*"})}
	go func() { _ = httpServer.Serve(ln) }()

	stop := func() {
		srv.Stop()
		_ = httpServer.Close()
	}
	t.Cleanup(stop)
	return "ws://" + ln.Addr().String(), stop
}

// --- Test Helpers & Data Generation ---

func mustEvent(t *testing.T, eventType string, payload any) *wire.SubscriptionEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &wire.SubscriptionEvent{Type: eventType, Payload: data, SentAt: time.Now().UnixNano()}
}

func stateAt(sequence uint64, fee int64) *engine.State {
	return &engine.State{
		Timestamp: uint64(time.Now().UnixNano()),
		Registry: &collectionregistry.CollectionRegistryView{
			Sequence: sequence,
			Collections: []collectionregistry.Collection{
				{Address: punks, Pool: []*big.Int{big.NewInt(7)}, Fee: big.NewInt(fee)},
			},
			TokenIndex: []collectionregistry.TokenEntry{{TokenID: big.NewInt(7), Collection: punks}},
		},
	}
}

func diffBetween(from, to uint64, fee int64) *differ.StateDiff {
	return &differ.StateDiff{
		Timestamp:    uint64(time.Now().UnixNano()),
		FromSequence: from,
		ToSequence:   to,
		Registry: collectionregistry.RegistryDiff{
			FromSequence: from,
			ToSequence:   to,
			Updates: []collectionregistry.Collection{
				{Address: punks, Pool: []*big.Int{big.NewInt(7)}, Fee: big.NewInt(fee)},
			},
		},
	}
}

func generateTestEvents(t *testing.T) []*wire.SubscriptionEvent {
	return []*wire.SubscriptionEvent{
		mustEvent(t, wire.EventFull, stateAt(3, 10)),
		mustEvent(t, wire.EventDiff, diffBetween(3, 4, 20)),
		{Type: wire.EventFull, Payload: json.RawMessage(`{"registry":{"sequence":"not-a-number"}}`)},
		mustEvent(t, wire.EventFull, stateAt(9, 10)),
	}
}

func newStatePatcher(t *testing.T) StatePatcherFunc {
	t.Helper()
	p, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{})
	require.NoError(t, err)
	return p.Patch
}

func receiveState(t *testing.T, ch <-chan *engine.State, timeout time.Duration) *engine.State {
	t.Helper()
	select {
	case state := <-ch:
		return state
	case <-time.After(timeout):
		t.Fatal("timed out waiting for state")
		return nil
	}
}

// --- Tests ---

func TestNewClient_Config(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Logger: testLogger(), BufferSize: 1, StatePatcher: newStatePatcher(t)})
	assert.ErrorContains(t, err, "URL")
	_, err = NewClient(context.Background(), Config{URL: "ws://x", Logger: testLogger(), StatePatcher: newStatePatcher(t)})
	assert.ErrorContains(t, err, "BufferSize")
	_, err = NewClient(context.Background(), Config{URL: "ws://x", BufferSize: 1})
	assert.ErrorContains(t, err, "Logger")
	_, err = NewClient(context.Background(), Config{URL: "ws://x", Logger: testLogger(), BufferSize: 1})
	assert.ErrorContains(t, err, "StatePatcher")
}

func TestClient_SuccessfulSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, _ := startMockStreamer(t, "127.0.0.1:0", generateTestEvents(t)[:1])
	client, err := NewClient(ctx, Config{
		URL:          url,
		Logger:       testLogger(),
		BufferSize:   10,
		StatePatcher: newStatePatcher(t),
	})
	require.NoError(t, err)

	state := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(3), state.Sequence())
	require.Len(t, state.Registry.Collections, 1)
	assert.Equal(t, punks, state.Registry.Collections[0].Address)
}

func TestClient_DiffReconstruction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, _ := startMockStreamer(t, "127.0.0.1:0", generateTestEvents(t)[:2])
	client, err := NewClient(ctx, Config{
		URL:          url,
		Logger:       testLogger(),
		BufferSize:   10,
		StatePatcher: newStatePatcher(t),
	})
	require.NoError(t, err)

	first := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(3), first.Sequence())

	second := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(4), second.Sequence())
	assert.Equal(t, int64(20), second.Registry.Collections[0].Fee.Int64())
	assert.Equal(t, int64(10), first.Registry.Collections[0].Fee.Int64(), "patching must not touch the previous state")
}

func TestClient_DropsMalformedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := generateTestEvents(t)
	url, _ := startMockStreamer(t, "127.0.0.1:0", []*wire.SubscriptionEvent{events[0], events[2], events[3]})
	client, err := NewClient(ctx, Config{
		URL:          url,
		Logger:       testLogger(),
		BufferSize:   10,
		StatePatcher: newStatePatcher(t),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(3), receiveState(t, client.State(), 2*time.Second).Sequence())
	assert.Equal(t, uint64(9), receiveState(t, client.State(), 2*time.Second).Sequence())
}

func TestClient_Reconnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url, stop := startMockStreamer(t, "127.0.0.1:0", []*wire.SubscriptionEvent{mustEvent(t, wire.EventFull, stateAt(1, 10))})
	client, err := NewClient(ctx, Config{
		URL:          url,
		Logger:       testLogger(),
		BufferSize:   10,
		StatePatcher: newStatePatcher(t),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), receiveState(t, client.State(), 2*time.Second).Sequence())

	stop()
	time.Sleep(100 * time.Millisecond)

	startMockStreamer(t, strings.TrimPrefix(url, "ws://"), []*wire.SubscriptionEvent{mustEvent(t, wire.EventFull, stateAt(2, 10))})
	assert.Equal(t, uint64(2), receiveState(t, client.State(), 5*time.Second).Sequence())
}

func TestClient_FollowsLiveServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newTestBackend(t)
	ts := httptest.NewServer(b.server)
	defer ts.Close()

	client, err := NewClient(ctx, Config{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http"),
		Logger:       testLogger(),
		BufferSize:   10,
		StatePatcher: newStatePatcher(t),
	})
	require.NoError(t, err)

	initial := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(0), initial.Sequence())

	admin, holder := newTestCallers(t, b)
	require.NoError(t, admin.Mint(ctx, punks, holder.Signer(), big.NewInt(1)))
	require.NoError(t, admin.Mint(ctx, punks, holder.Signer(), big.NewInt(2)))
	require.NoError(t, admin.AddCollection(ctx, punks, []*big.Int{big.NewInt(7), big.NewInt(8)}, big.NewInt(5)))

	added := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(1), added.Sequence())
	require.Len(t, added.Registry.Collections, 1)
	assert.Len(t, added.Registry.TokenIndex, 2)

	require.NoError(t, holder.SetApprovalForAll(ctx, punks, engineAddr, true))
	receipt, err := holder.Mutate(ctx, big.NewInt(1), big.NewInt(2), punks, big.NewInt(5))
	require.NoError(t, err)

	mutated := receiveState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(2), mutated.Sequence())
	pool := mutated.Registry.Collections[0].Pool
	require.Len(t, pool, 1)
	assert.NotZero(t, pool[0].Cmp(receipt.Minted), "minted id must leave the pool")
	assert.Len(t, mutated.Registry.TokenIndex, 2, "minted ids stay indexed")
}

// --- StreamProcessor Tests ---

func TestStreamProcessor_FullAndDiffFlow(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), 10, newStatePatcher(t))
	events := generateTestEvents(t)

	full, err := json.Marshal(events[0])
	require.NoError(t, err)
	require.NoError(t, sp.ProcessMessage(full))
	assert.Equal(t, uint64(3), receiveState(t, sp.State(), time.Second).Sequence())

	diff, err := json.Marshal(events[1])
	require.NoError(t, err)
	require.NoError(t, sp.ProcessMessage(diff))
	state := receiveState(t, sp.State(), time.Second)
	assert.Equal(t, uint64(4), state.Sequence())
	assert.Equal(t, int64(20), state.Registry.Collections[0].Fee.Int64())
}

func TestStreamProcessor_ValidationErrors(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), 10, newStatePatcher(t))
	events := generateTestEvents(t)

	diff, _ := json.Marshal(events[1])
	err := sp.ProcessMessage(diff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "received diff before full state")

	assert.Error(t, sp.ProcessMessage([]byte(`{not-json}`)))
	assert.Error(t, sp.ProcessMessage([]byte(`{"type":"snapshot","payload":{}}`)))
	assert.Error(t, sp.ProcessMessage([]byte(`{"type":"full","payload":{"timestamp":1}}`)), "full state without registry")
}

func TestStreamProcessor_OutOfOrderDiff(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), 10, newStatePatcher(t))
	events := generateTestEvents(t)

	full, _ := json.Marshal(events[0])
	require.NoError(t, sp.ProcessMessage(full))
	<-sp.State()

	gap, _ := json.Marshal(mustEvent(t, wire.EventDiff, diffBetween(5, 6, 30)))
	require.NoError(t, sp.ProcessMessage(gap))

	select {
	case <-sp.State():
		t.Fatal("should not emit state for out-of-order diff")
	default:
	}
}
