package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/storage"
)

// memStore records status transitions and saved decisions in memory.
type memStore struct {
	mu       sync.Mutex
	saved    map[string]domain.Decision
	statuses map[string][]domain.DecisionStatus
	kinds    map[string]domain.ErrorKind
}

func newMemStore() *memStore {
	return &memStore{
		saved:    make(map[string]domain.Decision),
		statuses: make(map[string][]domain.DecisionStatus),
		kinds:    make(map[string]domain.ErrorKind),
	}
}

func (m *memStore) Save(_ context.Context, d *domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[d.ECLI] = *d
	m.statuses[d.ECLI] = append(m.statuses[d.ECLI], d.Status)
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, ecli string, status domain.DecisionStatus, kind domain.ErrorKind, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[ecli] = append(m.statuses[ecli], status)
	m.kinds[ecli] = kind
	return nil
}

func (m *memStore) lastStatus(ecli string) domain.DecisionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.statuses[ecli]
	if len(hist) == 0 {
		return ""
	}
	return hist[len(hist)-1]
}

// scriptedFetcher returns a scripted sequence of responses per URL.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchStep
}

type fetchStep struct {
	body []byte
	err  error
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	steps := f.scripts[url]
	if len(steps) == 0 {
		return nil, fmt.Errorf("unscripted url %s", url)
	}
	step := steps[0]
	f.scripts[url] = steps[1:]
	return step.body, step.err
}

func validPDF(size int) []byte {
	body := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), size)...)
	return body
}

func testArtifacts(t *testing.T) *storage.ArtifactStore {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewArtifactStore(dir+"/docs", dir+"/searchable", dir+"/export")
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	return s
}

func fastConfig() DownloadConfig {
	return DownloadConfig{
		Workers:         2,
		MaxAttempts:     3,
		BackoffBase:     time.Millisecond,
		BackoffCap:      5 * time.Millisecond,
		MinDocumentSize: 100,
	}
}

func TestDownloadMixedOutcomes(t *testing.T) {
	store := newMemStore()
	fetcher := &scriptedFetcher{scripts: map[string][]fetchStep{
		// Two transient failures, then success: must succeed on attempt 3.
		"http://court/a": {
			{err: fmt.Errorf("%w: timeout", ErrTransient)},
			{err: fmt.Errorf("%w: timeout", ErrTransient)},
			{body: validPDF(500)},
		},
		// Undersized body: validation failure, no retry.
		"http://court/b": {
			{body: []byte("%PDF-tiny")},
		},
		// Immediate success.
		"http://court/c": {
			{body: validPDF(500)},
		},
	}}

	c := NewDownloadCoordinator(store, testArtifacts(t), fetcher, fastConfig())

	decisions := []domain.Decision{
		{ECLI: "CZ:NSS:1-A-1", SourceURL: "http://court/a", Status: domain.StatusDiscovered},
		{ECLI: "CZ:NSS:2-B-2", SourceURL: "http://court/b", Status: domain.StatusDiscovered},
		{ECLI: "CZ:NSS:3-C-3", SourceURL: "http://court/c", Status: domain.StatusDiscovered},
	}

	stats := &StageStats{}
	c.Run(context.Background(), stats, decisions, DownloadOptions{})

	if stats.Processed != 3 {
		t.Errorf("processed = %d, want 3", stats.Processed)
	}
	if stats.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", stats.Succeeded)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}

	if got := store.lastStatus("CZ:NSS:1-A-1"); got != domain.StatusDownloaded {
		t.Errorf("decision a status = %s, want downloaded", got)
	}
	if got := store.lastStatus("CZ:NSS:2-B-2"); got != domain.StatusFailed {
		t.Errorf("decision b status = %s, want failed", got)
	}
	if store.kinds["CZ:NSS:2-B-2"] != domain.ErrKindValidation {
		t.Errorf("decision b kind = %s, want validation", store.kinds["CZ:NSS:2-B-2"])
	}

	if d, ok := store.saved["CZ:NSS:1-A-1"]; !ok || d.DocumentPath == "" {
		t.Error("decision a should have a document path after retry success")
	}
}

func TestDownloadExhaustsRetries(t *testing.T) {
	store := newMemStore()
	fetcher := &scriptedFetcher{scripts: map[string][]fetchStep{
		"http://court/x": {
			{err: fmt.Errorf("%w: 503", ErrTransient)},
			{err: fmt.Errorf("%w: 503", ErrTransient)},
			{err: fmt.Errorf("%w: 503", ErrTransient)},
		},
	}}

	c := NewDownloadCoordinator(store, testArtifacts(t), fetcher, fastConfig())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:9-X-9", SourceURL: "http://court/x", Status: domain.StatusDiscovered},
	}, DownloadOptions{})

	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if store.kinds["CZ:NSS:9-X-9"] != domain.ErrKindTransientNetwork {
		t.Errorf("kind = %s, want transient_network", store.kinds["CZ:NSS:9-X-9"])
	}
	if got := store.lastStatus("CZ:NSS:9-X-9"); got != domain.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestDownloadSkipsAlreadyDownloaded(t *testing.T) {
	store := newMemStore()
	fetcher := &scriptedFetcher{scripts: map[string][]fetchStep{}}

	c := NewDownloadCoordinator(store, testArtifacts(t), fetcher, fastConfig())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:5-D-5", SourceURL: "http://court/d", DocumentPath: "/tmp/d.pdf", Status: domain.StatusDownloaded},
	}, DownloadOptions{})

	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	if stats.Succeeded != 0 || stats.Failed != 0 {
		t.Errorf("unexpected outcomes: %+v", stats)
	}
}

func TestDownloadNotPDFRejected(t *testing.T) {
	store := newMemStore()
	fetcher := &scriptedFetcher{scripts: map[string][]fetchStep{
		"http://court/h": {
			{body: append([]byte("<html>error page"), bytes.Repeat([]byte(" "), 200)...)},
		},
	}}

	c := NewDownloadCoordinator(store, testArtifacts(t), fetcher, fastConfig())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:7-H-7", SourceURL: "http://court/h", Status: domain.StatusDiscovered},
	}, DownloadOptions{})

	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if store.kinds["CZ:NSS:7-H-7"] != domain.ErrKindValidation {
		t.Errorf("kind = %s, want validation", store.kinds["CZ:NSS:7-H-7"])
	}
}

// concurrencyFetcher tracks the peak number of in-flight Fetch calls.
type concurrencyFetcher struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (f *concurrencyFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	f.cur++
	if f.cur > f.peak {
		f.peak = f.cur
	}
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.cur--
	f.mu.Unlock()
	return validPDF(500), nil
}

func TestDownloadWorkersOverride(t *testing.T) {
	store := newMemStore()
	fetcher := &concurrencyFetcher{}

	cfg := fastConfig()
	cfg.Workers = 4
	c := NewDownloadCoordinator(store, testArtifacts(t), fetcher, cfg)

	var decisions []domain.Decision
	for i := 0; i < 6; i++ {
		decisions = append(decisions, domain.Decision{
			ECLI:      fmt.Sprintf("CZ:NSS:%d-W-%d", i, i),
			SourceURL: fmt.Sprintf("http://court/w%d", i),
			Status:    domain.StatusDiscovered,
		})
	}

	stats := &StageStats{}
	c.Run(context.Background(), stats, decisions, DownloadOptions{Workers: 1})

	if stats.Succeeded != 6 {
		t.Fatalf("succeeded = %d, want 6", stats.Succeeded)
	}
	if fetcher.peak != 1 {
		t.Errorf("peak concurrency = %d, want 1 with the override", fetcher.peak)
	}
}
