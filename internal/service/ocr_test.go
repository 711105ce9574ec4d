package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vkadlec/judikat/internal/domain"
)

// fakeRunner simulates pdftoppm and tesseract. Rasterization writes the
// configured number of page files; recognition returns scripted text per
// page number, or an error for pages listed in failPages.
type fakeRunner struct {
	pages     int
	pageText  map[int]string
	failPages map[int]bool
	delay     time.Duration

	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if strings.Contains(name, "pdftoppm") {
		prefix := args[len(args)-1]
		for i := 1; i <= r.pages; i++ {
			path := fmt.Sprintf("%s-%02d.png", prefix, i)
			if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	// tesseract <page> stdout -l <lang>
	page := pageNumber(args[0])
	if r.failPages[page] {
		return nil, []byte("recognition error"), fmt.Errorf("exit status 1")
	}
	if text, ok := r.pageText[page]; ok {
		return []byte(text), nil, nil
	}
	return []byte(fmt.Sprintf("page %d text", page)), nil, nil
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	var n int
	fmt.Sscanf(base[idx+1:], "%d", &n)
	return n
}

func writeFakePDF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "doc.pdf")
	// Carries the signature but no parseable text layer, forcing the
	// rasterization path.
	if err := os.WriteFile(path, []byte("%PDF-1.4 scanned"), 0o644); err != nil {
		t.Fatalf("write fake pdf: %v", err)
	}
	return path
}

func newTestConverter(t *testing.T, store decisionStore, runner Runner) *OCRConverter {
	t.Helper()
	return NewOCRConverter(store, testArtifacts(t), runner, OCRConfig{
		Workers:       2,
		Language:      "ces",
		DPI:           150,
		TextThreshold: 400,
		DocTimeout:    5 * time.Second,
	})
}

func TestOCRConcatenatesPagesInOrder(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{
		pages: 3,
		pageText: map[int]string{
			1: "first page",
			2: "second page",
			3: "third page",
		},
	}
	c := newTestConverter(t, store, runner)

	docPath := writeFakePDF(t, t.TempDir())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:1-A-1", DocumentPath: docPath, Status: domain.StatusDownloaded},
	}, OCROptions{})

	if stats.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1 (errors: %v)", stats.Succeeded, stats.Errors)
	}
	d := store.saved["CZ:NSS:1-A-1"]
	want := "first page\n\f\nsecond page\n\f\nthird page"
	if d.FullText != want {
		t.Errorf("full_text = %q, want %q", d.FullText, want)
	}
	if d.Status != domain.StatusOCRDone {
		t.Errorf("status = %s, want ocr_done", d.Status)
	}
	if d.SearchableDocumentPath == "" {
		t.Error("searchable document path not set")
	}
}

func TestOCRPageFailureIsolated(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{
		pages:     3,
		pageText:  map[int]string{1: "alpha", 3: "gamma"},
		failPages: map[int]bool{2: true},
	}
	c := newTestConverter(t, store, runner)

	docPath := writeFakePDF(t, t.TempDir())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:2-B-2", DocumentPath: docPath, Status: domain.StatusDownloaded},
	}, OCROptions{})

	if stats.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1 (errors: %v)", stats.Succeeded, stats.Errors)
	}
	d := store.saved["CZ:NSS:2-B-2"]
	if !strings.Contains(d.FullText, "alpha") || !strings.Contains(d.FullText, "gamma") {
		t.Errorf("surviving pages missing from text: %q", d.FullText)
	}
	// The failed page keeps its slot so page positions stay stable.
	want := "alpha\n\f\n\n\f\ngamma"
	if d.FullText != want {
		t.Errorf("full_text = %q, want %q", d.FullText, want)
	}
	// The lost page is on record even though the document succeeded.
	if len(stats.Errors) != 1 {
		t.Fatalf("errors = %d, want 1 noted page loss: %+v", len(stats.Errors), stats.Errors)
	}
	if stats.Errors[0].Kind != domain.ErrKindOCRPage || stats.Errors[0].ECLI != "CZ:NSS:2-B-2" {
		t.Errorf("noted error = %+v, want ocr_page for CZ:NSS:2-B-2", stats.Errors[0])
	}
}

func TestOCRAllPagesFailedIsFailure(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{
		pages:     2,
		failPages: map[int]bool{1: true, 2: true},
	}
	c := newTestConverter(t, store, runner)

	docPath := writeFakePDF(t, t.TempDir())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:3-C-3", DocumentPath: docPath, Status: domain.StatusDownloaded},
	}, OCROptions{})

	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if store.kinds["CZ:NSS:3-C-3"] != domain.ErrKindOCRPage {
		t.Errorf("kind = %s, want ocr_page", store.kinds["CZ:NSS:3-C-3"])
	}
	if got := store.lastStatus("CZ:NSS:3-C-3"); got != domain.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestOCRDocumentTimeout(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{pages: 1, delay: 200 * time.Millisecond}
	c := NewOCRConverter(store, testArtifacts(t), runner, OCRConfig{
		Workers:       1,
		TextThreshold: 400,
		DocTimeout:    50 * time.Millisecond,
	})

	docPath := writeFakePDF(t, t.TempDir())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:4-D-4", DocumentPath: docPath, Status: domain.StatusDownloaded},
	}, OCROptions{})

	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if store.kinds["CZ:NSS:4-D-4"] != domain.ErrKindOCRTimeout {
		t.Errorf("kind = %s, want ocr_timeout", store.kinds["CZ:NSS:4-D-4"])
	}
}

func TestOCRSkipsConvertedUnlessForced(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{pages: 1}
	c := newTestConverter(t, store, runner)

	docPath := writeFakePDF(t, t.TempDir())
	decisions := []domain.Decision{
		{ECLI: "CZ:NSS:5-E-5", DocumentPath: docPath, FullText: "already converted", Status: domain.StatusOCRDone},
	}

	stats := &StageStats{}
	c.Run(context.Background(), stats, decisions, OCROptions{})
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}

	forced := &StageStats{}
	c.Run(context.Background(), forced, decisions, OCROptions{Force: true})
	if forced.Succeeded != 1 {
		t.Errorf("forced run succeeded = %d, want 1 (errors: %v)", forced.Succeeded, forced.Errors)
	}
}

func TestOCROverridesLanguageAndDPI(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{pages: 1, pageText: map[int]string{1: "text"}}
	c := newTestConverter(t, store, runner)

	docPath := writeFakePDF(t, t.TempDir())
	stats := &StageStats{}
	c.Run(context.Background(), stats, []domain.Decision{
		{ECLI: "CZ:NSS:8-G-8", DocumentPath: docPath, Status: domain.StatusDownloaded},
	}, OCROptions{Language: "eng", DPI: 200})

	if stats.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1 (errors: %v)", stats.Succeeded, stats.Errors)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	var sawRaster, sawRecognize bool
	for _, call := range runner.calls {
		args := strings.Join(call, " ")
		if strings.Contains(call[0], "pdftoppm") {
			sawRaster = true
			if !strings.Contains(args, "-r 200") {
				t.Errorf("pdftoppm args = %q, want -r 200", args)
			}
		}
		if strings.Contains(call[0], "tesseract") {
			sawRecognize = true
			if !strings.Contains(args, "-l eng") {
				t.Errorf("tesseract args = %q, want -l eng", args)
			}
		}
	}
	if !sawRaster || !sawRecognize {
		t.Errorf("expected both tools to run, calls: %v", runner.calls)
	}
}

func TestOCRDeterministicForSameInput(t *testing.T) {
	runner := &fakeRunner{
		pages:    2,
		pageText: map[int]string{1: "one", 2: "two"},
	}
	docPath := writeFakePDF(t, t.TempDir())

	var outputs []string
	for i := 0; i < 2; i++ {
		store := newMemStore()
		c := newTestConverter(t, store, runner)
		stats := &StageStats{}
		c.Run(context.Background(), stats, []domain.Decision{
			{ECLI: "CZ:NSS:6-F-6", DocumentPath: docPath, Status: domain.StatusDownloaded},
		}, OCROptions{})
		outputs = append(outputs, store.saved["CZ:NSS:6-F-6"].FullText)
	}
	if outputs[0] != outputs[1] {
		t.Errorf("conversion not deterministic: %q vs %q", outputs[0], outputs[1])
	}
}
