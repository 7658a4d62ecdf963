package patcher

import (
	"fmt"

	differ "github.com/defistate/defistate-mutator/differ"
	engine "github.com/defistate/defistate-mutator/engine"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
)

// --- Type Definitions ---

// RegistryPatcher applies a registry diff to a previous view.
//
// CONTRACT: implementations MUST NOT mutate 'prev'. They must create a copy.
type RegistryPatcher func(prev *collectionregistry.CollectionRegistryView, diff collectionregistry.RegistryDiff) (*collectionregistry.CollectionRegistryView, error)

// --- Config and Main Struct ---

type StatePatcherConfig struct {
	// RegistryPatcher defaults to collectionregistry.Patcher.
	RegistryPatcher RegistryPatcher
}

// StatePatcher is the engine for applying state updates.
type StatePatcher struct {
	registryPatcher RegistryPatcher
}

// NewStatePatcher constructs a new patcher from a configuration.
func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	registryPatcher := cfg.RegistryPatcher
	if registryPatcher == nil {
		registryPatcher = collectionregistry.Patcher
	}
	return &StatePatcher{
		registryPatcher: registryPatcher,
	}, nil
}

// --- Implementation ---

// Patch creates a new State by applying the Diff to the Old State.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	// 1. Integrity Check
	if oldState.Registry == nil {
		return nil, fmt.Errorf("patcher: state has no registry")
	}
	if oldState.Sequence() != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (state=%d, diff=%d)", oldState.Sequence(), diff.FromSequence)
	}
	if diff.Registry.FromSequence != diff.FromSequence || diff.Registry.ToSequence != diff.ToSequence {
		return nil, fmt.Errorf("patcher: registry diff spans %d..%d, state diff spans %d..%d",
			diff.Registry.FromSequence, diff.Registry.ToSequence, diff.FromSequence, diff.ToSequence)
	}

	// 2. Apply Diff
	registry, err := p.registryPatcher(oldState.Registry, diff.Registry)
	if err != nil {
		return nil, fmt.Errorf("patcher: failed to patch registry: %w", err)
	}

	// 3. Return Final State
	return &engine.State{
		Timestamp: diff.Timestamp, // The time the diff was calculated
		Registry:  registry,
	}, nil
}
