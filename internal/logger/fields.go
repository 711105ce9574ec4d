package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldJobID is the pipeline job ID.
	FieldJobID = "job_id"

	// FieldECLI is the decision identifier a worker is processing.
	FieldECLI = "ecli"

	// FieldStage is the pipeline stage name (crawl, download, ocr, index).
	FieldStage = "stage"

	// FieldKeyword is the crawl keyword being queried.
	FieldKeyword = "keyword"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldSource is the crawl source identifier.
	FieldSource = "source"
)

// Metric fields used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldSize is the data size in bytes.
	FieldSize = "size"

	// FieldStatus is the operation status.
	FieldStatus = "status"

	// FieldAttempt is the retry attempt number.
	FieldAttempt = "attempt"
)
