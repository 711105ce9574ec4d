package service

import (
	"sync"

	"github.com/vkadlec/judikat/internal/domain"
)

// ProgressTracker receives per-unit progress from pipeline stages. Jobs
// implement it to expose live progress; stages only ever talk to this
// interface.
type ProgressTracker interface {
	// SetStage announces the stage about to run.
	SetStage(stage string)

	// AddTotal grows the expected unit count for the current stage.
	AddTotal(n int)

	// UnitDone records the outcome of one unit of work.
	UnitDone(outcome domain.Outcome)

	// Note records an error that degraded a unit without failing it, such
	// as a single unreadable page of an otherwise converted document.
	Note(se domain.StageError)

	// Cancelled reports whether the run should stop dispatching new units.
	Cancelled() bool
}

// StageStats is a standalone ProgressTracker that just counts. Used by the
// CLI entrypoints and in tests where no job wraps the run.
type StageStats struct {
	mu        sync.Mutex
	Stage     string
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []domain.StageError
}

func (s *StageStats) SetStage(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stage = stage
}

func (s *StageStats) AddTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total += n
}

func (s *StageStats) UnitDone(outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	switch {
	case outcome.Skipped:
		s.Skipped++
	case outcome.OK():
		s.Succeeded++
	default:
		s.Failed++
		s.Errors = append(s.Errors, outcome.StageErr())
	}
}

func (s *StageStats) Note(se domain.StageError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, se)
}

func (s *StageStats) Cancelled() bool {
	return false
}
