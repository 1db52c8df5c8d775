// Package opid mints the run identifiers that tag one orchestrator
// invocation end to end: log lines, the checkpoint document, and the
// Remote Archive snapshots all carry the same RunID.
package opid

import "github.com/google/uuid"

// RunID identifies a single orchestrator run.
type RunID string

// New mints a fresh RunID.
func New() RunID {
	return RunID(uuid.New().String())
}

// Empty reports whether id was never assigned.
func (id RunID) Empty() bool {
	return id == ""
}

func (id RunID) String() string {
	return string(id)
}
