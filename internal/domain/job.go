package domain

import "time"

// JobKind selects which stage sequence a submitted job drives.
type JobKind string

const (
	JobFullPipeline    JobKind = "full-pipeline"
	JobCrawlOnly       JobKind = "crawl-only"
	JobDownloadMissing JobKind = "download-missing"
	JobOCRMissing      JobKind = "ocr-missing"
	JobIndexOnly       JobKind = "index-only"
	JobSingleDocument  JobKind = "single-document"
	JobExport          JobKind = "export"
)

// ValidKind reports whether k is a known job kind.
func ValidKind(k JobKind) bool {
	switch k {
	case JobFullPipeline, JobCrawlOnly, JobDownloadMissing, JobOCRMissing,
		JobIndexOnly, JobSingleDocument, JobExport:
		return true
	}
	return false
}

// JobState represents the lifecycle state of a job.
// Queued -> Running -> {Completed, Failed, Cancelled}; terminal states are
// immutable once reached.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobParams carries the submission parameters for a pipeline run.
type JobParams struct {
	Keywords        []string `json:"keywords,omitempty"`
	LimitPerKeyword int      `json:"limit_per_keyword,omitempty"`
	TargetECLI      string   `json:"target_ecli,omitempty"`
	Force           bool     `json:"force,omitempty"`

	// Concurrency overrides; zero means the configured default.
	DownloadWorkers int `json:"download_workers,omitempty"`
	OCRWorkers      int `json:"ocr_workers,omitempty"`

	// OCR overrides.
	Language string `json:"language,omitempty"`
	DPI      int    `json:"dpi,omitempty"`

	// Export parameters.
	BundleName string `json:"bundle_name,omitempty"`
}

// JobProgress is a point-in-time view of a running job's counters.
type JobProgress struct {
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// JobSnapshot is an immutable copy of a job's state, safe to hand to callers
// at any time, including after termination.
type JobSnapshot struct {
	ID          string       `json:"id"`
	Kind        JobKind      `json:"kind"`
	Params      JobParams    `json:"parameters"`
	State       JobState     `json:"state"`
	Progress    JobProgress  `json:"progress"`
	Errors      []StageError `json:"errors,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
