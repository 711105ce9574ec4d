package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vkadlec/judikat/internal/domain"
)

// Job is the runtime record of one submitted pipeline run. It doubles as
// the progress tracker handed to stages, so stage counters and the snapshot
// view share one lock.
type Job struct {
	mu sync.Mutex

	id        string
	kind      domain.JobKind
	params    domain.JobParams
	state     domain.JobState
	progress  domain.JobProgress
	errors    []domain.StageError
	createdAt time.Time
	startedAt *time.Time
	doneAt    *time.Time

	cancelled atomic.Bool
}

func newJob(kind domain.JobKind, params domain.JobParams) *Job {
	return &Job{
		id:        uuid.New().String(),
		kind:      kind,
		params:    params,
		state:     domain.JobQueued,
		createdAt: time.Now(),
	}
}

// ID returns the job's identifier.
func (j *Job) ID() string {
	return j.id
}

// SetStage announces the stage about to run.
func (j *Job) SetStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Stage = stage
}

// AddTotal grows the expected unit count.
func (j *Job) AddTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Total += n
}

// UnitDone records the outcome of one unit of work.
func (j *Job) UnitDone(outcome domain.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Processed++
	switch {
	case outcome.Skipped:
		j.progress.Skipped++
	case outcome.OK():
		j.progress.Succeeded++
	default:
		j.progress.Failed++
		j.errors = append(j.errors, outcome.StageErr())
	}
}

// Note records an error that degraded a unit without failing it.
func (j *Job) Note(se domain.StageError) {
	j.recordError(se)
}

// Cancelled reports whether cancellation has been requested. Stages poll
// this before dispatching each unit.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// RequestCancel flags the job for cooperative cancellation. Dispatched
// units still run to completion.
func (j *Job) RequestCancel() {
	j.cancelled.Store(true)
}

func (j *Job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.state = domain.JobRunning
	j.startedAt = &now
}

func (j *Job) finish(state domain.JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	now := time.Now()
	j.state = state
	j.doneAt = &now
}

func (j *Job) recordError(se domain.StageError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, se)
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Terminal()
}

// Snapshot returns a deep copy of the job's current state, safe to serialize
// while the job keeps running.
func (j *Job) Snapshot() domain.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := domain.JobSnapshot{
		ID:        j.id,
		Kind:      j.kind,
		Params:    j.params,
		State:     j.state,
		Progress:  j.progress,
		CreatedAt: j.createdAt,
	}
	snap.Params.Keywords = append([]string(nil), j.params.Keywords...)
	if len(j.errors) > 0 {
		snap.Errors = append([]domain.StageError(nil), j.errors...)
	}
	if j.startedAt != nil {
		t := *j.startedAt
		snap.StartedAt = &t
	}
	if j.doneAt != nil {
		t := *j.doneAt
		snap.CompletedAt = &t
	}
	return snap
}
