package source

import (
	"context"
	"time"
)

// Candidate is a decision discovered by a source, before any download.
type Candidate struct {
	ECLI      string
	Title     string
	SourceURL string
	Date      *time.Time
	Docket    string
}

// Source defines the interface for judicial decision sources.
type Source interface {
	// ID returns the stable identifier for this source.
	ID() string

	// Search returns candidates matching the keyword, up to limit.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - keyword: case-insensitive search term.
	//   - limit: maximum number of candidates, 0 for no limit.
	// Returns:
	//   - []Candidate: matching candidates, deduplicated by ECLI.
	//   - error: non-nil when the source cannot be queried or parsed.
	Search(ctx context.Context, keyword string, limit int) ([]Candidate, error)
}
