package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vkadlec/judikat/internal/domain"
	"gorm.io/gorm"
)

// DecisionRepository persists decision records and serves full-text queries.
// Mutations are serialized through a single-writer mutex; readers see either
// the pre- or post-write state (sqlite WAL / postgres MVCC).
type DecisionRepository struct {
	db *gorm.DB

	// mu serializes writes across stages and jobs.
	mu sync.Mutex

	// ftsEnabled is true when the sqlite build carries FTS5. Falls back to
	// LIKE matching with occurrence ranking otherwise.
	ftsEnabled bool
}

// NewDecisionRepository creates the repository and prepares the full-text
// shadow table when the driver supports FTS5.
func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	r := &DecisionRepository{db: db}
	if db.Dialector.Name() == "sqlite" {
		err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(
			ecli UNINDEXED,
			title,
			full_text
		)`).Error
		r.ftsEnabled = err == nil
	}
	return r
}

// FTSEnabled reports whether FTS5 ranking is active.
func (r *DecisionRepository) FTSEnabled() bool {
	return r.ftsEnabled
}

// GetByECLI retrieves a decision by its ECLI.
func (r *DecisionRepository) GetByECLI(ctx context.Context, ecli string) (*domain.Decision, error) {
	var d domain.Decision
	if err := r.db.WithContext(ctx).First(&d, "ecli = ?", ecli).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ExistsByECLI checks whether a decision with the given ECLI exists.
func (r *DecisionRepository) ExistsByECLI(ctx context.Context, ecli string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Decision{}).Where("ecli = ?", ecli).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Upsert merges the incoming record into the stored one keyed by ECLI.
// A new record is inserted as-is. For an existing record only empty fields
// are filled; a populated full_text is never overwritten with an empty one,
// and the stored status is kept so re-discovery never regresses the pipeline.
func (r *DecisionRepository) Upsert(ctx context.Context, d *domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing domain.Decision
	err := r.db.WithContext(ctx).First(&existing, "ecli = ?", d.ECLI).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if d.Status == "" {
			d.Status = domain.StatusDiscovered
		}
		if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
			return fmt.Errorf("failed to create decision: %w", err)
		}
		return r.syncFTS(ctx, d.ECLI, d.Title, d.FullText)
	}
	if err != nil {
		return fmt.Errorf("failed to load decision: %w", err)
	}

	merged := mergeDecision(&existing, d)
	if err := r.db.WithContext(ctx).Save(merged).Error; err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	return r.syncFTS(ctx, merged.ECLI, merged.Title, merged.FullText)
}

// mergeDecision fills empty fields of dst from src without regressing
// populated ones. Returns dst.
func mergeDecision(dst, src *domain.Decision) *domain.Decision {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Date == nil {
		dst.Date = src.Date
	}
	if dst.SourceURL == "" {
		dst.SourceURL = src.SourceURL
	}
	if dst.DocumentPath == "" {
		dst.DocumentPath = src.DocumentPath
	}
	if dst.SearchableDocumentPath == "" {
		dst.SearchableDocumentPath = src.SearchableDocumentPath
	}
	if dst.FullText == "" {
		dst.FullText = src.FullText
	}
	for _, kw := range src.Keywords {
		found := false
		for _, have := range dst.Keywords {
			if have == kw {
				found = true
				break
			}
		}
		if !found {
			dst.Keywords = append(dst.Keywords, kw)
		}
	}
	return dst
}

// Save stores stage-produced updates to a loaded record. Unlike Upsert it
// overwrites fields, but it still refuses to erase a populated full_text.
func (r *DecisionRepository) Save(ctx context.Context, d *domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.FullText == "" {
		var existing domain.Decision
		err := r.db.WithContext(ctx).Select("full_text").First(&existing, "ecli = ?", d.ECLI).Error
		if err == nil && existing.FullText != "" {
			d.FullText = existing.FullText
		}
	}
	if err := r.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return r.syncFTS(ctx, d.ECLI, d.Title, d.FullText)
}

// UpdateStatus transitions a decision's status and records the failure kind
// when the transition is to failed.
func (r *DecisionRepository) UpdateStatus(ctx context.Context, ecli string, status domain.DecisionStatus, kind domain.ErrorKind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	updates := map[string]interface{}{
		"status":        status,
		"error_kind":    string(kind),
		"error_message": message,
		"updated_at":    time.Now(),
	}
	return r.db.WithContext(ctx).Model(&domain.Decision{}).Where("ecli = ?", ecli).Updates(updates).Error
}

// syncFTS replaces the full-text index entry for one decision.
// Caller must hold mu.
func (r *DecisionRepository) syncFTS(ctx context.Context, ecli, title, fullText string) error {
	if !r.ftsEnabled {
		return nil
	}
	if err := r.db.WithContext(ctx).Exec("DELETE FROM decisions_fts WHERE ecli = ?", ecli).Error; err != nil {
		return fmt.Errorf("failed to clear index entry: %w", err)
	}
	if fullText == "" && title == "" {
		return nil
	}
	if err := r.db.WithContext(ctx).Exec(
		"INSERT INTO decisions_fts (ecli, title, full_text) VALUES (?, ?, ?)",
		ecli, title, fullText,
	).Error; err != nil {
		return fmt.Errorf("failed to write index entry: %w", err)
	}
	return nil
}

// RebuildIndex replays title and full_text for all records into the
// full-text index. The index is derivable from stored text alone, so this
// never re-crawls or re-OCRs.
func (r *DecisionRepository) RebuildIndex(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ftsEnabled {
		if err := r.db.WithContext(ctx).Exec("DELETE FROM decisions_fts").Error; err != nil {
			return 0, fmt.Errorf("failed to clear index: %w", err)
		}
	}

	var decisions []domain.Decision
	if err := r.db.WithContext(ctx).Select("ecli", "title", "full_text").Find(&decisions).Error; err != nil {
		return 0, fmt.Errorf("failed to list decisions: %w", err)
	}

	count := 0
	for _, d := range decisions {
		if d.FullText == "" && d.Title == "" {
			continue
		}
		if err := r.syncFTS(ctx, d.ECLI, d.Title, d.FullText); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// MarkIndexed transitions a text-bearing decision to indexed.
func (r *DecisionRepository) MarkIndexed(ctx context.Context, ecli string) error {
	return r.UpdateStatus(ctx, ecli, domain.StatusIndexed, "", "")
}

// ListNeedingDownload returns decisions eligible for the download stage:
// discovered or previously failed, with no fetched document yet.
func (r *DecisionRepository) ListNeedingDownload(ctx context.Context, limit int) ([]domain.Decision, error) {
	var decisions []domain.Decision
	q := r.db.WithContext(ctx).
		Where("status IN ?", []domain.DecisionStatus{domain.StatusDiscovered, domain.StatusFailed}).
		Where("document_path = '' OR document_path IS NULL").
		Where("source_url <> ''").
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

// ListNeedingOCR returns decisions with a fetched document but no text yet.
func (r *DecisionRepository) ListNeedingOCR(ctx context.Context, limit int) ([]domain.Decision, error) {
	var decisions []domain.Decision
	q := r.db.WithContext(ctx).
		Where("status IN ?", []domain.DecisionStatus{domain.StatusDownloaded, domain.StatusOCRPending, domain.StatusFailed}).
		Where("document_path <> ''").
		Where("full_text = '' OR full_text IS NULL").
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

// ListByStatus retrieves decisions by status with pagination.
func (r *DecisionRepository) ListByStatus(ctx context.Context, status domain.DecisionStatus, limit, offset int) ([]domain.Decision, error) {
	var decisions []domain.Decision
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status   domain.DecisionStatus
	DateFrom *time.Time
	DateTo   *time.Time
}

// List retrieves decisions, newest first, honoring the filter.
func (r *DecisionRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]domain.Decision, error) {
	q := r.db.WithContext(ctx).Model(&domain.Decision{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.DateFrom != nil {
		q = q.Where("date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("date <= ?", *filter.DateTo)
	}
	var decisions []domain.Decision
	if err := q.Limit(limit).Offset(offset).Order("date DESC, created_at DESC").Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

// Search returns decisions ranked by full-text relevance, most relevant
// first, ties broken by date descending. Restartable via offset.
func (r *DecisionRepository) Search(ctx context.Context, query string, limit, offset int) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if r.ftsEnabled {
		return r.searchFTS(ctx, query, limit, offset)
	}
	return r.searchLike(ctx, query, limit, offset)
}

func (r *DecisionRepository) searchFTS(ctx context.Context, query string, limit, offset int) ([]domain.SearchResult, error) {
	var results []domain.SearchResult
	err := r.db.WithContext(ctx).Raw(`
		SELECT d.*, bm25(decisions_fts) AS rank
		FROM decisions_fts
		JOIN decisions d ON d.ecli = decisions_fts.ecli
		WHERE decisions_fts MATCH ?
		ORDER BY rank, d.date DESC
		LIMIT ? OFFSET ?`,
		ftsQuery(query), limit, offset,
	).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	return results, nil
}

// ftsQuery quotes each token so reserved FTS5 syntax in user input cannot
// break the query.
func ftsQuery(query string) string {
	tokens := strings.Fields(query)
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, ``)+`"`)
	}
	return strings.Join(quoted, " ")
}

// searchLike is the fallback when FTS5 is unavailable: substring match with
// occurrence-count ranking computed in memory.
func (r *DecisionRepository) searchLike(ctx context.Context, query string, limit, offset int) ([]domain.SearchResult, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	q := r.db.WithContext(ctx).Model(&domain.Decision{})
	for _, t := range tokens {
		pattern := "%" + t + "%"
		q = q.Where("LOWER(full_text) LIKE ? OR LOWER(title) LIKE ?", pattern, pattern)
	}
	var decisions []domain.Decision
	if err := q.Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("fallback query failed: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(decisions))
	for _, d := range decisions {
		hay := strings.ToLower(d.FullText + " " + d.Title)
		occurrences := 0
		for _, t := range tokens {
			occurrences += strings.Count(hay, t)
		}
		// Negative so that smaller rank means more relevant, matching bm25.
		results = append(results, domain.SearchResult{Decision: d, Rank: -float64(occurrences)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank < results[j].Rank
		}
		di, dj := results[i].Date, results[j].Date
		if di == nil || dj == nil {
			return dj == nil && di != nil
		}
		return di.After(*dj)
	})

	if offset >= len(results) {
		return nil, nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats returns counts by status and the total record count.
func (r *DecisionRepository) Stats(ctx context.Context) (*domain.DecisionStats, error) {
	stats := &domain.DecisionStats{ByStatus: make(map[domain.DecisionStatus]int64)}

	if err := r.db.WithContext(ctx).Model(&domain.Decision{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	type statusCount struct {
		Status domain.DecisionStatus
		Count  int64
	}
	var rows []statusCount
	if err := r.db.WithContext(ctx).Model(&domain.Decision{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
	}

	if err := r.db.WithContext(ctx).Model(&domain.Decision{}).
		Where("full_text <> ''").
		Count(&stats.WithText).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
