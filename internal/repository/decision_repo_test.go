package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vkadlec/judikat/internal/config"
	"github.com/vkadlec/judikat/internal/domain"
)

func testRepo(t *testing.T) *DecisionRepository {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		AutoMigrate: true,
	}
	db, err := InitDB(cfg)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	return NewDecisionRepository(db)
}

func TestUpsertInsertsNew(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	d := &domain.Decision{
		ECLI:      "CZ:NSS:1-A-1",
		Title:     "Daňové rozhodnutí",
		SourceURL: "http://court/1",
		Keywords:  domain.StringArray{"daň"},
	}
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.GetByECLI(ctx, "CZ:NSS:1-A-1")
	if err != nil {
		t.Fatalf("GetByECLI: %v", err)
	}
	if got.Status != domain.StatusDiscovered {
		t.Errorf("status = %s, want discovered", got.Status)
	}
	if got.Title != "Daňové rozhodnutí" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestUpsertMergeNeverRegressesText(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	full := &domain.Decision{
		ECLI:     "CZ:NSS:2-B-2",
		Title:    "Titled",
		FullText: "converted decision text",
		Status:   domain.StatusOCRDone,
		Keywords: domain.StringArray{"daň"},
	}
	if err := repo.Upsert(ctx, full); err != nil {
		t.Fatalf("Upsert full: %v", err)
	}

	// Re-discovery of the same ECLI with no text and an earlier status.
	rediscovered := &domain.Decision{
		ECLI:     "CZ:NSS:2-B-2",
		Status:   domain.StatusDiscovered,
		Keywords: domain.StringArray{"poplatek"},
	}
	if err := repo.Upsert(ctx, rediscovered); err != nil {
		t.Fatalf("Upsert rediscovered: %v", err)
	}

	got, err := repo.GetByECLI(ctx, "CZ:NSS:2-B-2")
	if err != nil {
		t.Fatalf("GetByECLI: %v", err)
	}
	if got.FullText != "converted decision text" {
		t.Errorf("full_text regressed to %q", got.FullText)
	}
	if got.Status != domain.StatusOCRDone {
		t.Errorf("status regressed to %s", got.Status)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("keywords = %v, want both merged", got.Keywords)
	}
}

func TestSaveKeepsExistingText(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	d := &domain.Decision{ECLI: "CZ:NSS:3-C-3", FullText: "kept text", Status: domain.StatusOCRDone}
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	update := &domain.Decision{ECLI: "CZ:NSS:3-C-3", Status: domain.StatusIndexed}
	if err := repo.Save(ctx, update); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, _ := repo.GetByECLI(ctx, "CZ:NSS:3-C-3")
	if got.FullText != "kept text" {
		t.Errorf("Save erased full_text: %q", got.FullText)
	}
	if got.Status != domain.StatusIndexed {
		t.Errorf("status = %s, want indexed", got.Status)
	}
}

func TestUpdateStatusRecordsErrorKind(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, &domain.Decision{ECLI: "CZ:NSS:4-D-4"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "CZ:NSS:4-D-4", domain.StatusFailed, domain.ErrKindValidation, "too small"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := repo.GetByECLI(ctx, "CZ:NSS:4-D-4")
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if got.ErrorKind != string(domain.ErrKindValidation) {
		t.Errorf("error_kind = %q", got.ErrorKind)
	}
	if got.ErrorMessage != "too small" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
}

func TestListNeedingDownload(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	seed := []*domain.Decision{
		{ECLI: "CZ:NSS:10-A-1", SourceURL: "http://c/1", Status: domain.StatusDiscovered},
		{ECLI: "CZ:NSS:10-B-2", SourceURL: "http://c/2", Status: domain.StatusFailed},
		{ECLI: "CZ:NSS:10-C-3", SourceURL: "http://c/3", Status: domain.StatusDownloaded, DocumentPath: "/tmp/c.pdf"},
		{ECLI: "CZ:NSS:10-D-4", Status: domain.StatusDiscovered}, // no source url
	}
	for _, d := range seed {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert %s: %v", d.ECLI, err)
		}
	}

	pending, err := repo.ListNeedingDownload(ctx, 0)
	if err != nil {
		t.Fatalf("ListNeedingDownload: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, d := range pending {
		if d.DocumentPath != "" || d.SourceURL == "" {
			t.Errorf("unexpected pending decision: %+v", d)
		}
	}
}

func TestListNeedingOCR(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	seed := []*domain.Decision{
		{ECLI: "CZ:NSS:11-A-1", DocumentPath: "/tmp/a.pdf", Status: domain.StatusDownloaded},
		{ECLI: "CZ:NSS:11-B-2", DocumentPath: "/tmp/b.pdf", FullText: "done", Status: domain.StatusOCRDone},
		{ECLI: "CZ:NSS:11-C-3", Status: domain.StatusDiscovered},
	}
	for _, d := range seed {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	pending, err := repo.ListNeedingOCR(ctx, 0)
	if err != nil {
		t.Fatalf("ListNeedingOCR: %v", err)
	}
	if len(pending) != 1 || pending[0].ECLI != "CZ:NSS:11-A-1" {
		t.Errorf("pending = %+v, want only the downloaded untconverted one", pending)
	}
}

func TestSearchTokenMatch(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	docs := []*domain.Decision{
		{ECLI: "CZ:NSS:20-A-1", Title: "one", FullText: "rozhodnutí o správě daní a poplatků", Status: domain.StatusIndexed},
		{ECLI: "CZ:NSS:20-B-2", Title: "two", FullText: "stavební povolení obce", Status: domain.StatusIndexed},
		{ECLI: "CZ:NSS:20-C-3", Title: "three", FullText: "daní se zabývá i toto rozhodnutí, daní opakovaně", Status: domain.StatusIndexed},
	}
	for _, d := range docs {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	results, err := repo.Search(ctx, "daní", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.ECLI == "CZ:NSS:20-B-2" {
			t.Error("non-matching decision returned")
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	repo := testRepo(t)
	results, err := repo.Search(context.Background(), "   ", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 for empty query", len(results))
	}
}

func TestRebuildIndexCountsTextBearing(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, &domain.Decision{ECLI: "CZ:NSS:30-A-1", FullText: "nějaký text"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &domain.Decision{ECLI: "CZ:NSS:30-B-2"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	count, err := repo.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if count != 1 {
		t.Errorf("rebuilt %d entries, want 1", count)
	}

	// Text stays searchable after the rebuild.
	results, err := repo.Search(ctx, "nějaký", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestStats(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	now := time.Now()
	seed := []*domain.Decision{
		{ECLI: "CZ:NSS:40-A-1", Status: domain.StatusDiscovered, Date: &now},
		{ECLI: "CZ:NSS:40-B-2", Status: domain.StatusDiscovered},
		{ECLI: "CZ:NSS:40-C-3", Status: domain.StatusIndexed, FullText: "text"},
	}
	for _, d := range seed {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[domain.StatusDiscovered] != 2 {
		t.Errorf("discovered = %d, want 2", stats.ByStatus[domain.StatusDiscovered])
	}
	if stats.WithText != 1 {
		t.Errorf("with_text = %d, want 1", stats.WithText)
	}
}
