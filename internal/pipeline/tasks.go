// Package pipeline defines the bus task payloads exchanged between stages
// and validates them against embedded JSON Schemas on consume.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Stage labels used in logs and metrics.
const (
	StageSearch   = "search"
	StageAnalysis = "analysis"
	StageArchive  = "archive"
)

// Phase selects the analysis behavior requested by an AnalyzeTask.
type Phase string

// PhaseAnalyze is the only implemented phase. "generate_queries" is reserved
// for a future query-planning stage and is rejected until that stage exists.
const PhaseAnalyze Phase = "analyze"

// ErrUnknownPhase reports an AnalyzeTask phase this worker does not implement.
var ErrUnknownPhase = errors.New("unknown analyze phase")

// Validate accepts the empty phase (legacy producers) and "analyze".
func (p Phase) Validate() error {
	if p == "" || p == PhaseAnalyze {
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownPhase, string(p))
}

// SearchTask asks a search worker to gather results for a topic.
type SearchTask struct {
	RequestID uuid.UUID `json:"request_id"`
	Topic     string    `json:"topic"`
}

// AnalyzeTask asks an analysis worker to summarize persisted results.
type AnalyzeTask struct {
	RequestID uuid.UUID `json:"request_id"`
	Topic     string    `json:"topic"`
	Phase     Phase     `json:"phase,omitempty"`
}

// ArchiveTask asks the archiver to persist a completed request projection.
type ArchiveTask struct {
	RequestID uuid.UUID `json:"request_id"`
}
