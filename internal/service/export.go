package service

import (
	"context"
	"fmt"
	"os"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/storage"
)

const stageExport = "export"

// exportStore is the slice of the repository the export stage needs.
type exportStore interface {
	GetByECLI(ctx context.Context, ecli string) (*domain.Decision, error)
	ListByStatus(ctx context.Context, status domain.DecisionStatus, limit, offset int) ([]domain.Decision, error)
}

// ExportService bundles searchable documents into a single merged file,
// optionally pushing the bundle to the archive.
type ExportService struct {
	store     exportStore
	artifacts *storage.ArtifactStore
	archive   storage.Archive
}

// NewExportService creates an export service. archive may be nil.
func NewExportService(store exportStore, artifacts *storage.ArtifactStore, archive storage.Archive) *ExportService {
	return &ExportService{store: store, artifacts: artifacts, archive: archive}
}

// Run merges the searchable documents of the given ECLIs (or, when none are
// given, of all indexed decisions) into a named bundle. One unit per
// decision plus one for the merge itself.
func (s *ExportService) Run(ctx context.Context, tr ProgressTracker, eclis []string, bundleName string) {
	tr.SetStage(stageExport)

	log := logger.FromContext(ctx).WithField(logger.FieldStage, stageExport)

	if len(eclis) == 0 {
		indexed, err := s.store.ListByStatus(ctx, domain.StatusIndexed, 0, 0)
		if err != nil {
			tr.AddTotal(1)
			tr.UnitDone(domain.Outcome{ECLI: bundleName, Kind: domain.ErrKindInternal, Err: err})
			return
		}
		for _, d := range indexed {
			eclis = append(eclis, d.ECLI)
		}
	}

	tr.AddTotal(len(eclis) + 1)

	var files []string
	for _, ecli := range eclis {
		if tr.Cancelled() || ctx.Err() != nil {
			tr.UnitDone(domain.Outcome{ECLI: ecli, Skipped: true})
			continue
		}
		d, err := s.store.GetByECLI(ctx, ecli)
		if err != nil {
			tr.UnitDone(domain.Outcome{ECLI: ecli, Kind: domain.ErrKindValidation, Err: err})
			continue
		}
		path := d.SearchableDocumentPath
		if path == "" {
			path = d.DocumentPath
		}
		if path == "" {
			tr.UnitDone(domain.Outcome{ECLI: ecli, Kind: domain.ErrKindValidation, Err: fmt.Errorf("no document for %s", ecli)})
			continue
		}
		if _, err := os.Stat(path); err != nil {
			tr.UnitDone(domain.Outcome{ECLI: ecli, Kind: domain.ErrKindValidation, Err: fmt.Errorf("missing artifact: %w", err)})
			continue
		}
		files = append(files, path)
		tr.UnitDone(domain.Outcome{ECLI: ecli})
	}

	if len(files) == 0 {
		tr.UnitDone(domain.Outcome{ECLI: bundleName, Kind: domain.ErrKindValidation, Err: fmt.Errorf("no documents to export")})
		return
	}

	outPath := s.artifacts.ExportPath(bundleName)
	if err := MergeDocuments(files, outPath); err != nil {
		tr.UnitDone(domain.Outcome{ECLI: bundleName, Kind: domain.ErrKindInternal, Err: err})
		return
	}
	log.WithFields(logger.Fields{
		logger.FieldCount: len(files),
		"bundle":          outPath,
	}).Info("Bundle created")

	if s.archive != nil {
		if err := s.uploadBundle(ctx, outPath, bundleName); err != nil {
			log.WithError(err).Warn("Bundle archive upload failed")
		}
	}
	tr.UnitDone(domain.Outcome{ECLI: bundleName})
}

func (s *ExportService) uploadBundle(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := "exports/" + name + ".pdf"
	exists, err := s.archive.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		// Re-exporting a bundle replaces the archived object.
		if err := s.archive.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := s.archive.Upload(ctx, key, f, info.Size(), "application/pdf"); err != nil {
		return err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"key": key,
		"url": s.archive.GetURL(key),
	}).Info("Bundle archived")
	return nil
}
