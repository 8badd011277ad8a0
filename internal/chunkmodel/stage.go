package chunkmodel

// NtsStage is the Novelty/Thalamic/Sensory-inspired staging label
// assigned to a chunk at ingestion and consulted by the NTS_CASCADE
// retrieval strategy.
type NtsStage string

const (
	StageSensory  NtsStage = "SENSORY"
	StageWorking  NtsStage = "WORKING"
	StageEpisodic NtsStage = "EPISODIC"
	StageSemantic NtsStage = "SEMANTIC"
)

// Durability is the stage-durability weight consulted by NTS_CASCADE's
// 0.13 term.
func (s NtsStage) Durability() float64 {
	switch s {
	case StageSensory:
		return 0.30
	case StageWorking:
		return 0.55
	case StageEpisodic:
		return 0.80
	case StageSemantic:
		return 1.00
	default:
		return 0.30
	}
}

// TTLMinutes is the nominal dwell time of the stage, used by
// NTS_CASCADE's recency-in-stage term.
func (s NtsStage) TTLMinutes() float64 {
	switch s {
	case StageSensory:
		return 30
	case StageWorking:
		return 24 * 60
	case StageEpisodic:
		return 7 * 24 * 60
	case StageSemantic:
		return 365 * 24 * 60
	default:
		return 30
	}
}
