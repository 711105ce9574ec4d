package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore resolves and prepares local paths for downloaded documents,
// searchable documents, and exported bundles.
type ArtifactStore struct {
	DocumentsDir  string
	SearchableDir string
	ExportDir     string
}

// NewArtifactStore creates the store and ensures all directories exist.
func NewArtifactStore(documentsDir, searchableDir, exportDir string) (*ArtifactStore, error) {
	s := &ArtifactStore{
		DocumentsDir:  documentsDir,
		SearchableDir: searchableDir,
		ExportDir:     exportDir,
	}
	for _, dir := range []string{documentsDir, searchableDir, exportDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// SafeECLI turns an ECLI into a filesystem-safe name. ECLIs carry colons
// which are not portable across filesystems.
func SafeECLI(ecli string) string {
	safe := strings.ReplaceAll(ecli, ":", "_")
	safe = strings.ReplaceAll(safe, "/", "_")
	return safe
}

// DocumentPath returns the canonical path for a fetched document.
func (s *ArtifactStore) DocumentPath(ecli string) string {
	return filepath.Join(s.DocumentsDir, SafeECLI(ecli)+".pdf")
}

// SearchablePath returns the canonical path for the searchable rendition.
func (s *ArtifactStore) SearchablePath(ecli string) string {
	return filepath.Join(s.SearchableDir, SafeECLI(ecli)+".pdf")
}

// ExportPath returns the path for a named export bundle.
func (s *ArtifactStore) ExportPath(name string) string {
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	return filepath.Join(s.ExportDir, name)
}

// WriteDocument atomically writes a fetched document and returns its path.
// The write goes through a temp file so a crash never leaves a partial
// document at the canonical path.
func (s *ArtifactStore) WriteDocument(ecli string, data []byte) (string, error) {
	path := s.DocumentPath(ecli)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize document: %w", err)
	}
	return path, nil
}
