package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Config and Main Struct ---
type RegistryDiffer func(old, new *collectionregistry.CollectionRegistryView) (collectionregistry.RegistryDiff, error)

// StateDifferConfig holds the registry differ and dependencies.
type StateDifferConfig struct {
	// RegistryDiffer defaults to collectionregistry.Differ.
	RegistryDiffer RegistryDiffer
	Registry       prometheus.Registerer
	Logger         Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer is the main differ engine, with metrics and logging.
type StateDiffer struct {
	metrics        *Metrics
	logger         Logger
	registryDiffer RegistryDiffer
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	registryDiffer := cfg.RegistryDiffer
	if registryDiffer == nil {
		registryDiffer = collectionregistry.Differ
	}

	return &StateDiffer{
		metrics:        NewMetrics(cfg.Registry),
		logger:         cfg.Logger,
		registryDiffer: registryDiffer,
	}, nil
}

// Diff computes the changes from old to new. Both states must carry a registry
// view and new must not be older than old.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer totalTimer.ObserveDuration()

	stateDiff, err := d.diff(old, new)
	if err != nil {
		d.metrics.diffsTotal.WithLabelValues("error").Inc()
		d.logger.Warn("Failed to diff states", "error", err)
		return nil, err
	}
	d.metrics.diffsTotal.WithLabelValues("ok").Inc()
	return stateDiff, nil
}

func (d *StateDiffer) diff(old, new *engine.State) (*StateDiff, error) {
	if old == nil || new == nil || old.Registry == nil || new.Registry == nil {
		return nil, errors.New("StateDiffer received state without registry")
	}
	if new.Sequence() < old.Sequence() {
		return nil, fmt.Errorf("new state sequence %d is older than %d", new.Sequence(), old.Sequence())
	}

	registryDiff, err := d.registryDiffer(old.Registry, new.Registry)
	if err != nil {
		return nil, err
	}

	return &StateDiff{
		Timestamp:    uint64(time.Now().UnixNano()),
		FromSequence: old.Sequence(),
		ToSequence:   new.Sequence(),
		Registry:     registryDiff,
	}, nil
}
