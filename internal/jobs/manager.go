package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/service"
)

// Stage interfaces keep the manager decoupled from stage construction;
// tests drive the manager with stubs.
type (
	Crawler interface {
		Run(ctx context.Context, tr service.ProgressTracker, keywords []string, opts service.CrawlOptions)
	}
	Downloader interface {
		Run(ctx context.Context, tr service.ProgressTracker, decisions []domain.Decision, opts service.DownloadOptions)
	}
	Converter interface {
		Run(ctx context.Context, tr service.ProgressTracker, decisions []domain.Decision, opts service.OCROptions)
	}
	Exporter interface {
		Run(ctx context.Context, tr service.ProgressTracker, eclis []string, bundleName string)
	}
)

// Per-run stage options derived from the submitted parameters. Zero-valued
// fields fall back to the process configuration inside each stage.
func crawlOptions(p domain.JobParams) service.CrawlOptions {
	return service.CrawlOptions{LimitPerKeyword: p.LimitPerKeyword}
}

func downloadOptions(p domain.JobParams) service.DownloadOptions {
	return service.DownloadOptions{Force: p.Force, Workers: p.DownloadWorkers}
}

func ocrOptions(p domain.JobParams) service.OCROptions {
	return service.OCROptions{
		Force:    p.Force,
		Workers:  p.OCRWorkers,
		Language: p.Language,
		DPI:      p.DPI,
	}
}

// DecisionStore is the slice of the repository the manager needs for stage
// selection and the index stage.
type DecisionStore interface {
	GetByECLI(ctx context.Context, ecli string) (*domain.Decision, error)
	ListNeedingDownload(ctx context.Context, limit int) ([]domain.Decision, error)
	ListNeedingOCR(ctx context.Context, limit int) ([]domain.Decision, error)
	ListByStatus(ctx context.Context, status domain.DecisionStatus, limit, offset int) ([]domain.Decision, error)
	MarkIndexed(ctx context.Context, ecli string) error
	RebuildIndex(ctx context.Context) (int, error)
}

// Deps bundles the stage implementations a manager drives.
type Deps struct {
	Crawler    Crawler
	Downloader Downloader
	Converter  Converter
	Exporter   Exporter
	Store      DecisionStore
}

// Manager owns the job registry: submission, conflict detection, status,
// cooperative cancellation, and retention of finished jobs.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string // submission order, oldest first
	running map[domain.JobKind]string

	deps      Deps
	retention int
	logger    *logger.Logger
}

// NewManager creates a job manager retaining up to retention terminal jobs.
func NewManager(deps Deps, retention int, log *logger.Logger) *Manager {
	if retention <= 0 {
		retention = 50
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Manager{
		jobs:      make(map[string]*Job),
		running:   make(map[domain.JobKind]string),
		deps:      deps,
		retention: retention,
		logger:    log,
	}
}

// Submit registers a job and starts it asynchronously. At most one job of a
// given kind runs at a time; a second submission returns ErrJobConflict.
func (m *Manager) Submit(ctx context.Context, kind domain.JobKind, params domain.JobParams) (domain.JobSnapshot, error) {
	if !domain.ValidKind(kind) {
		return domain.JobSnapshot{}, fmt.Errorf("unknown job kind %q", kind)
	}

	m.mu.Lock()
	if runningID, ok := m.running[kind]; ok {
		m.mu.Unlock()
		return domain.JobSnapshot{}, fmt.Errorf("%w: %s job %s is still running", domain.ErrJobConflict, kind, runningID)
	}

	j := newJob(kind, params)
	m.jobs[j.id] = j
	m.order = append(m.order, j.id)
	m.running[kind] = j.id
	m.pruneLocked()
	m.mu.Unlock()

	m.logger.WithFields(logger.Fields{
		logger.FieldJobID: j.id,
		"kind":            string(kind),
	}).Info("Job submitted")

	go m.run(j)

	return j.Snapshot(), nil
}

// Status returns a snapshot of the job, or ErrJobNotFound.
func (m *Manager) Status(id string) (domain.JobSnapshot, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.JobSnapshot{}, domain.ErrJobNotFound
	}
	return j.Snapshot(), nil
}

// List returns snapshots of all retained jobs, newest first.
func (m *Manager) List() []domain.JobSnapshot {
	m.mu.RLock()
	snaps := make([]domain.JobSnapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if j, ok := m.jobs[m.order[i]]; ok {
			snaps = append(snaps, j.Snapshot())
		}
	}
	m.mu.RUnlock()
	return snaps
}

// Cancel requests cooperative cancellation. Already-terminal jobs are left
// untouched and reported as-is.
func (m *Manager) Cancel(id string) (domain.JobSnapshot, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return domain.JobSnapshot{}, domain.ErrJobNotFound
	}
	if !j.terminal() {
		j.RequestCancel()
		m.logger.WithField(logger.FieldJobID, id).Info("Job cancellation requested")
	}
	return j.Snapshot(), nil
}

// pruneLocked drops the oldest terminal jobs beyond the retention limit.
// Caller must hold mu.
func (m *Manager) pruneLocked() {
	terminal := 0
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok && j.terminal() {
			terminal++
		}
	}
	if terminal <= m.retention {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		if terminal > m.retention && j.terminal() {
			delete(m.jobs, id)
			terminal--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// run executes the job's stage sequence and settles its terminal state.
func (m *Manager) run(j *Job) {
	ctx := m.logger.WithContext(context.Background())
	ctx = logger.SetJobID(ctx, j.id)
	log := logger.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			j.recordError(domain.StageError{Kind: domain.ErrKindInternal, Message: fmt.Sprintf("panic: %v", r)})
			j.finish(domain.JobFailed)
			log.WithField("panic", fmt.Sprintf("%v", r)).Error("Job panicked")
		}
		m.mu.Lock()
		if m.running[j.kind] == j.id {
			delete(m.running, j.kind)
		}
		m.mu.Unlock()
	}()

	j.markRunning()
	log.WithField("kind", string(j.kind)).Info("Job started")

	err := m.execute(ctx, j)

	switch {
	case j.Cancelled():
		j.finish(domain.JobCancelled)
	case err != nil:
		j.recordError(domain.StageError{Kind: domain.ErrKindInternal, Message: err.Error()})
		j.finish(domain.JobFailed)
	default:
		j.finish(domain.JobCompleted)
	}

	snap := j.Snapshot()
	log.WithFields(logger.Fields{
		"state":     string(snap.State),
		"processed": snap.Progress.Processed,
		"succeeded": snap.Progress.Succeeded,
		"failed":    snap.Progress.Failed,
		"skipped":   snap.Progress.Skipped,
	}).Info("Job finished")
}

// execute runs the stage sequence for the job's kind. Unit-level failures
// live in the job's counters; only run-level breakage is returned.
func (m *Manager) execute(ctx context.Context, j *Job) error {
	switch j.kind {
	case domain.JobCrawlOnly:
		m.deps.Crawler.Run(ctx, j, j.params.Keywords, crawlOptions(j.params))
		return nil

	case domain.JobDownloadMissing:
		return m.downloadStage(ctx, j)

	case domain.JobOCRMissing:
		if err := m.ocrStage(ctx, j); err != nil {
			return err
		}
		return m.indexStage(ctx, j)

	case domain.JobIndexOnly:
		return m.rebuildStage(ctx, j)

	case domain.JobFullPipeline:
		m.deps.Crawler.Run(ctx, j, j.params.Keywords, crawlOptions(j.params))
		if j.Cancelled() {
			return nil
		}
		if err := m.downloadStage(ctx, j); err != nil {
			return err
		}
		if j.Cancelled() {
			return nil
		}
		if err := m.ocrStage(ctx, j); err != nil {
			return err
		}
		if j.Cancelled() {
			return nil
		}
		return m.indexStage(ctx, j)

	case domain.JobSingleDocument:
		return m.singleDocument(ctx, j)

	case domain.JobExport:
		m.deps.Exporter.Run(ctx, j, j.params.Keywords, j.params.BundleName)
		return nil

	default:
		return fmt.Errorf("unknown job kind %q", j.kind)
	}
}

func (m *Manager) downloadStage(ctx context.Context, j *Job) error {
	decisions, err := m.deps.Store.ListNeedingDownload(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending downloads: %w", err)
	}
	m.deps.Downloader.Run(ctx, j, decisions, downloadOptions(j.params))
	return nil
}

func (m *Manager) ocrStage(ctx context.Context, j *Job) error {
	decisions, err := m.deps.Store.ListNeedingOCR(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending conversions: %w", err)
	}
	m.deps.Converter.Run(ctx, j, decisions, ocrOptions(j.params))
	return nil
}

// indexStage promotes converted decisions to indexed. The text is already
// in the store, so this is a bookkeeping pass.
func (m *Manager) indexStage(ctx context.Context, j *Job) error {
	j.SetStage("index")
	decisions, err := m.deps.Store.ListByStatus(ctx, domain.StatusOCRDone, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list converted decisions: %w", err)
	}
	j.AddTotal(len(decisions))
	for _, d := range decisions {
		if j.Cancelled() {
			j.UnitDone(domain.Outcome{ECLI: d.ECLI, Skipped: true})
			continue
		}
		if err := m.deps.Store.MarkIndexed(ctx, d.ECLI); err != nil {
			j.UnitDone(domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindInternal, Err: err})
			continue
		}
		j.UnitDone(domain.Outcome{ECLI: d.ECLI})
	}
	return nil
}

func (m *Manager) rebuildStage(ctx context.Context, j *Job) error {
	j.SetStage("index")
	j.AddTotal(1)
	count, err := m.deps.Store.RebuildIndex(ctx)
	if err != nil {
		j.UnitDone(domain.Outcome{ECLI: "index", Kind: domain.ErrKindInternal, Err: err})
		return nil
	}
	logger.FromContext(ctx).WithField(logger.FieldCount, count).Info("Index rebuilt")
	j.UnitDone(domain.Outcome{ECLI: "index"})
	return m.indexStage(ctx, j)
}

// singleDocument drives one ECLI through download, conversion, and indexing.
func (m *Manager) singleDocument(ctx context.Context, j *Job) error {
	ecli := j.params.TargetECLI
	if ecli == "" {
		return fmt.Errorf("single-document job requires a target ecli")
	}

	d, err := m.deps.Store.GetByECLI(ctx, ecli)
	if err != nil {
		return fmt.Errorf("unknown decision %s: %w", ecli, err)
	}

	if d.DocumentPath == "" || j.params.Force {
		m.deps.Downloader.Run(ctx, j, []domain.Decision{*d}, downloadOptions(j.params))
		if d, err = m.deps.Store.GetByECLI(ctx, ecli); err != nil {
			return err
		}
	}
	if j.Cancelled() || d.DocumentPath == "" {
		return nil
	}

	if d.FullText == "" || j.params.Force {
		m.deps.Converter.Run(ctx, j, []domain.Decision{*d}, ocrOptions(j.params))
		if d, err = m.deps.Store.GetByECLI(ctx, ecli); err != nil {
			return err
		}
	}
	if j.Cancelled() || d.FullText == "" {
		return nil
	}

	j.SetStage("index")
	j.AddTotal(1)
	if err := m.deps.Store.MarkIndexed(ctx, ecli); err != nil {
		j.UnitDone(domain.Outcome{ECLI: ecli, Kind: domain.ErrKindInternal, Err: err})
		return nil
	}
	j.UnitDone(domain.Outcome{ECLI: ecli})
	return nil
}
