package domain

import "errors"

// ErrorKind classifies a stage failure for aggregation in job reports.
type ErrorKind string

const (
	// ErrKindTransientNetwork marks a retryable network failure (timeout,
	// 5xx, connection reset). Retried with backoff up to the attempt ceiling.
	ErrKindTransientNetwork ErrorKind = "transient_network"

	// ErrKindValidation marks a malformed or undersized fetched document.
	// Not auto-retried within a run; surfaced for manual follow-up.
	ErrKindValidation ErrorKind = "validation"

	// ErrKindParse marks an unparseable crawl result page. Recorded per
	// keyword, never aborts the job.
	ErrKindParse ErrorKind = "parse"

	// ErrKindOCRPage marks a single failed page. The page is skipped and
	// the document continues.
	ErrKindOCRPage ErrorKind = "ocr_page"

	// ErrKindOCRTimeout marks a document whose cumulative OCR time exceeded
	// the ceiling. Retryable on a later job run.
	ErrKindOCRTimeout ErrorKind = "ocr_timeout"

	// ErrKindDuplicateKey marks a re-discovery of a known ECLI. Merged into
	// the existing record, never propagated as a failure.
	ErrKindDuplicateKey ErrorKind = "duplicate_key"

	// ErrKindJobConflict marks a rejected submission because a job of the
	// same kind is already running.
	ErrKindJobConflict ErrorKind = "job_conflict"

	// ErrKindInternal covers unexpected store or filesystem failures.
	ErrKindInternal ErrorKind = "internal"
)

// ErrJobConflict is returned by Submit when a job of the requested kind is
// already running.
var ErrJobConflict = errors.New("a job of this kind is already running")

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// StageError is one entry in a job's aggregated error list.
type StageError struct {
	ECLI    string    `json:"ecli"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Outcome is the typed result of one stage work unit. Every stage operation
// yields an Outcome instead of raising past the job boundary.
type Outcome struct {
	ECLI     string
	Kind     ErrorKind
	Err      error
	Attempts int
	Skipped  bool
}

// OK reports whether the unit reached the stage's success state.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// StageErr converts a failed outcome into a job report entry.
func (o Outcome) StageErr() StageError {
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	return StageError{ECLI: o.ECLI, Kind: o.Kind, Message: msg}
}
