package ragstore

import "github.com/aurora-assistant/ragmemory/internal/session"

// Event names published on an Engine's Bus.
const (
	EventIngested         = "ragstore.ingested"
	EventRetrieved        = "ragstore.retrieved"
	EventMaintenanceCycle = "ragstore.maintenance_cycle"
)

// IngestedEvent is published after a chunk is successfully added.
type IngestedEvent struct {
	Key     session.Key
	ChunkID string
	Source  string
}

// RetrievedEvent is published after a retrieval call returns.
type RetrievedEvent struct {
	Key      session.Key
	Strategy string
	Query    string
	Results  int
}

// MaintenanceCycleEvent is published after RunMaintenanceCycle runs
// (i.e. whenever the signals qualified and the pass actually executed).
type MaintenanceCycleEvent struct {
	ConsolidationStrengthened int
	ConsolidationForgotten    int
	CompactionRan             bool
	OptimizerApplied          bool
}
