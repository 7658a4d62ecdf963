package differ

import (
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateDiff represents a summary of changes FromSequence to ToSequence.
type StateDiff struct {
	Timestamp    uint64                          `json:"timestamp"`
	FromSequence uint64                          `json:"fromSequence"`
	ToSequence   uint64                          `json:"toSequence"`
	Registry     collectionregistry.RegistryDiff `json:"registry"`
}

// IsEmpty returns true if the diff carries no registry changes.
func (d *StateDiff) IsEmpty() bool {
	return d.Registry.IsEmpty()
}
