package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-mutator/access"
	"github.com/defistate/defistate-mutator/cmd/mutatord/config"
	"github.com/defistate/defistate-mutator/differ"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/store"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/server"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	close := func() {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rootLogger, prometheus.DefaultRegisterer); err != nil {
		rootLogger.Error("Mutator stopped with error", "error", err)
		stop()
		close()
	}
}

// node is the assembled daemon.
type node struct {
	store    *store.BadgerStore
	registry *collectionregistry.CollectionSystem
	book     *ledger.Book
	engine   *mutator.Engine
	server   *server.Server
}

// newNode opens the store, restores the registry and wires every component.
// The caller must close node.store.
func newNode(ctx context.Context, cfg *config.MutatorConfig, logger *slog.Logger, reg prometheus.Registerer) (*node, error) {
	st, err := store.OpenBadger(ctx, cfg.DataDir, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	n, err := assemble(st, cfg, logger, reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return n, nil
}

func assemble(st *store.BadgerStore, cfg *config.MutatorConfig, logger *slog.Logger, reg prometheus.Registerer) (*node, error) {
	view, err := st.ReadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	tokens, operators, err := st.ReadLedger()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	rec, err := st.ReadEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to read engine record: %w", err)
	}
	applied, err := st.GenesisApplied()
	if err != nil {
		return nil, err
	}
	fresh := view.Sequence == 0 && len(tokens) == 0 && len(operators) == 0 && rec == nil
	if !applied && !fresh {
		return nil, errors.New("store holds state from an incomplete genesis; remove the data directory")
	}

	admin, baseURI := cfg.Admin, cfg.BaseURI
	var fees *uint256.Int
	if rec != nil {
		if rec.Admin != cfg.Admin {
			logger.Warn("Stored admin overrides configured admin", "stored", rec.Admin, "configured", cfg.Admin)
		}
		admin, baseURI = rec.Admin, rec.BaseURI
		if rec.Fees != nil {
			var overflow bool
			if fees, overflow = uint256.FromBig(rec.Fees); overflow {
				return nil, fmt.Errorf("stored fees %s overflow uint256", rec.Fees)
			}
		}
	}

	gate, err := access.NewGate(admin)
	if err != nil {
		return nil, err
	}
	registry, err := collectionregistry.NewCollectionSystemFromView(view, &collectionregistry.Config{
		Authorizer: gate,
		Logger:     logger.With("component", "collection-registry"),
		Registry:   reg,
		Store:      st,
	})
	if err != nil {
		return nil, err
	}

	book, err := ledger.RestoreBook(st, tokens, operators)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger: %w", err)
	}
	eng, err := mutator.NewEngine(&mutator.Config{
		Address:  cfg.Address,
		Registry: registry,
		Ledger:   book,
		Gate:     gate,
		BaseURI:  baseURI,
		NewBatch: func() mutator.Batch {
			return st.NewBatch()
		},
		Fees:               fees,
		Logger:             logger.With("component", "mutator"),
		PrometheusRegistry: reg,
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		if err := seedGenesis(cfg, book, eng); err != nil {
			return nil, fmt.Errorf("failed to seed genesis: %w", err)
		}
		if err := st.MarkGenesisApplied(); err != nil {
			return nil, err
		}
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Registry: reg,
		Logger:   logger.With("component", "differ"),
	})
	if err != nil {
		return nil, err
	}

	srv, err := server.NewServer(&server.Config{
		Engine:         eng,
		Registry:       registry,
		Book:           book,
		Differ:         stateDiffer,
		Logger:         logger.With("component", "jsonrpc-server"),
		BufferSize:     cfg.StreamBufferSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Mutator assembled",
		"engine", cfg.Address,
		"admin", admin,
		"sequence", registry.Sequence(),
		"collections", len(registry.View().Collections),
		"tokens", len(tokens),
		"persistent", cfg.DataDir != "",
	)
	return &node{store: st, registry: registry, book: book, engine: eng, server: srv}, nil
}

func run(ctx context.Context, cfg *config.MutatorConfig, logger *slog.Logger, reg prometheus.Registerer) error {
	n, err := newNode(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer n.store.Close()
	defer n.server.Stop()

	servers := []*http.Server{{Addr: cfg.ListenAddr, Handler: n.server}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux})
	}

	serveErr := make(chan error, len(servers))
	for _, s := range servers {
		logger.Info("Listening", "addr", s.Addr)
		go func(s *http.Server) {
			serveErr <- s.ListenAndServe()
		}(s)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if serr := s.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("HTTP server shutdown failed", "addr", s.Addr, "error", serr)
		}
	}
	return err
}

func loadConfig() (*config.MutatorConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
