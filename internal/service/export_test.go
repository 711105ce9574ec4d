package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vkadlec/judikat/internal/domain"
)

// emptyExportStore satisfies exportStore with no decisions.
type emptyExportStore struct{}

func (emptyExportStore) GetByECLI(_ context.Context, ecli string) (*domain.Decision, error) {
	return nil, fmt.Errorf("not found: %s", ecli)
}

func (emptyExportStore) ListByStatus(_ context.Context, _ domain.DecisionStatus, _, _ int) ([]domain.Decision, error) {
	return nil, nil
}

// fakeArchive records the order of archive operations.
type fakeArchive struct {
	mu       sync.Mutex
	existing map[string]bool
	ops      []string
	uploaded map[string][]byte
}

func newFakeArchive(existing ...string) *fakeArchive {
	a := &fakeArchive{existing: make(map[string]bool), uploaded: make(map[string][]byte)}
	for _, key := range existing {
		a.existing[key] = true
	}
	return a
}

func (a *fakeArchive) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, "upload "+key)
	a.existing[key] = true
	a.uploaded[key] = body
	return nil
}

func (a *fakeArchive) GetURL(key string) string {
	return "https://archive.test/" + key
}

func (a *fakeArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, "delete "+key)
	delete(a.existing, key)
	return nil
}

func (a *fakeArchive) Exists(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, "exists "+key)
	return a.existing[key], nil
}

func writeBundleFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 merged"), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestUploadBundleFirstExport(t *testing.T) {
	archive := newFakeArchive()
	s := NewExportService(emptyExportStore{}, testArtifacts(t), archive)

	path := writeBundleFile(t)
	if err := s.uploadBundle(context.Background(), path, "rocnik-2023"); err != nil {
		t.Fatalf("uploadBundle: %v", err)
	}

	key := "exports/rocnik-2023.pdf"
	want := []string{"exists " + key, "upload " + key}
	if len(archive.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", archive.ops, want)
	}
	for i, op := range want {
		if archive.ops[i] != op {
			t.Errorf("op[%d] = %q, want %q", i, archive.ops[i], op)
		}
	}
	if string(archive.uploaded[key]) != "%PDF-1.4 merged" {
		t.Errorf("uploaded body = %q", archive.uploaded[key])
	}
}

func TestUploadBundleReplacesExisting(t *testing.T) {
	key := "exports/rocnik-2023.pdf"
	archive := newFakeArchive(key)
	s := NewExportService(emptyExportStore{}, testArtifacts(t), archive)

	path := writeBundleFile(t)
	if err := s.uploadBundle(context.Background(), path, "rocnik-2023"); err != nil {
		t.Fatalf("uploadBundle: %v", err)
	}

	want := []string{"exists " + key, "delete " + key, "upload " + key}
	if len(archive.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", archive.ops, want)
	}
	for i, op := range want {
		if archive.ops[i] != op {
			t.Errorf("op[%d] = %q, want %q", i, archive.ops[i], op)
		}
	}
	if !archive.existing[key] {
		t.Error("bundle missing from archive after replace")
	}
}
