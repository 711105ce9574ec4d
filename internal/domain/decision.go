package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DecisionStatus represents the ingestion status of a decision record.
// Transitions move forward through the pipeline; "failed" is reachable from
// any non-terminal state and is re-attemptable on a later job run.
type DecisionStatus string

const (
	StatusDiscovered  DecisionStatus = "discovered"
	StatusDownloading DecisionStatus = "downloading"
	StatusDownloaded  DecisionStatus = "downloaded"
	StatusOCRPending  DecisionStatus = "ocr_pending"
	StatusOCRDone     DecisionStatus = "ocr_done"
	StatusIndexed     DecisionStatus = "indexed"
	StatusFailed      DecisionStatus = "failed"
)

// StringArray is a custom type for storing string slices as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Decision represents one judicial ruling tracked through the pipeline.
// ECLI is the stable external identifier and the primary key; artifact paths
// and full text are filled in as the corresponding stage completes.
type Decision struct {
	ECLI                   string         `gorm:"type:text;primaryKey" json:"ecli"`
	Title                  string         `gorm:"type:text" json:"title"`
	Date                   *time.Time     `gorm:"index:idx_decisions_date" json:"date,omitempty"`
	SourceURL              string         `gorm:"type:text" json:"source_url,omitempty"`
	DocumentPath           string         `gorm:"type:text" json:"document_path,omitempty"`
	SearchableDocumentPath string         `gorm:"type:text" json:"searchable_document_path,omitempty"`
	FullText               string         `gorm:"type:text" json:"full_text,omitempty"`
	Keywords               StringArray    `gorm:"type:text" json:"keywords"`
	Status                 DecisionStatus `gorm:"type:text;index:idx_decisions_status;default:discovered" json:"status"`
	ErrorKind              string         `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorMessage           string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Decision.
func (Decision) TableName() string {
	return "decisions"
}

// HasDocument reports whether a source document has been fetched.
func (d *Decision) HasDocument() bool {
	return d.DocumentPath != ""
}

// HasText reports whether searchable text is available.
func (d *Decision) HasText() bool {
	return d.FullText != ""
}

// SearchResult is a decision matched by a full-text query, with a relevance
// rank (lower is better) and an optional snippet around the first match.
type SearchResult struct {
	Decision
	Rank    float64 `json:"rank"`
	Snippet string  `json:"snippet,omitempty"`
}

// DecisionStats holds aggregate counts over the decision store.
type DecisionStats struct {
	Total    int64                    `json:"total"`
	ByStatus map[DecisionStatus]int64 `json:"by_status"`
	WithText int64                    `json:"with_fulltext"`
}
