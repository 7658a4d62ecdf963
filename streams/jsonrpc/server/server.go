package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
	"github.com/ethereum/go-ethereum/rpc"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies of the JSON-RPC server.
type Config struct {
	Engine   *mutator.Engine
	Registry *collectionregistry.CollectionSystem
	Book     *ledger.Book
	Differ   *differ.StateDiffer
	Logger   Logger
	// BufferSize bounds the registry views queued per stream subscriber.
	BufferSize uint
	// AllowedOrigins for websocket connections; empty allows all.
	AllowedOrigins []string
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Book == nil {
		return errors.New("config: Book is required")
	}
	if c.Differ == nil {
		return errors.New("config: Differ is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

// Server exposes the mutator and ledger namespaces over HTTP and websocket.
type Server struct {
	rpc    *rpc.Server
	ws     http.Handler
	nonces *NonceTracker
	logger Logger
}

func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	nonces := NewNonceTracker()
	rpcServer := rpc.NewServer()

	mutatorAPI := &MutatorAPI{
		engine:     cfg.Engine,
		registry:   cfg.Registry,
		differ:     cfg.Differ,
		nonces:     nonces,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
	}
	if err := rpcServer.RegisterName(wire.MutatorNamespace, mutatorAPI); err != nil {
		return nil, err
	}
	ledgerAPI := &LedgerAPI{
		book:   cfg.Book,
		engine: cfg.Engine,
		nonces: nonces,
		logger: cfg.Logger,
	}
	if err := rpcServer.RegisterName(wire.LedgerNamespace, ledgerAPI); err != nil {
		return nil, err
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		rpc:    rpcServer,
		ws:     rpcServer.WebsocketHandler(origins),
		nonces: nonces,
		logger: cfg.Logger,
	}, nil
}

// ServeHTTP routes websocket upgrades to the websocket handler and everything
// else to the plain HTTP JSON-RPC handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebsocket(r) {
		s.ws.ServeHTTP(w, r)
		return
	}
	s.rpc.ServeHTTP(w, r)
}

// RPC returns the underlying server, e.g. for rpc.DialInProc.
func (s *Server) RPC() *rpc.Server {
	return s.rpc
}

// Stop closes all connections and cancels active subscriptions.
func (s *Server) Stop() {
	s.rpc.Stop()
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
