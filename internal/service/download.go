package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/storage"
)

const stageDownload = "download"

var pdfMagic = []byte("%PDF-")

// decisionStore is the slice of the repository the download stage needs.
type decisionStore interface {
	Save(ctx context.Context, d *domain.Decision) error
	UpdateStatus(ctx context.Context, ecli string, status domain.DecisionStatus, kind domain.ErrorKind, message string) error
}

// DownloadConfig holds retry and validation parameters for the download stage.
type DownloadConfig struct {
	Workers         int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MinDocumentSize int
}

// DownloadOptions carries per-run overrides; zero values keep the configured
// defaults.
type DownloadOptions struct {
	Force   bool
	Workers int
}

// DownloadCoordinator fetches decision documents concurrently with
// per-document retry. A document failure never stops the run.
type DownloadCoordinator struct {
	store     decisionStore
	artifacts *storage.ArtifactStore
	fetcher   Fetcher
	cfg       DownloadConfig
}

// NewDownloadCoordinator creates a download coordinator.
func NewDownloadCoordinator(store decisionStore, artifacts *storage.ArtifactStore, fetcher Fetcher, cfg DownloadConfig) *DownloadCoordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &DownloadCoordinator{
		store:     store,
		artifacts: artifacts,
		fetcher:   fetcher,
		cfg:       cfg,
	}
}

// Run downloads the given decisions through a worker pool, reporting each
// unit to the tracker. Cancellation stops dispatch; in-flight documents
// finish and are reported.
func (c *DownloadCoordinator) Run(ctx context.Context, tr ProgressTracker, decisions []domain.Decision, opts DownloadOptions) {
	tr.SetStage(stageDownload)
	tr.AddTotal(len(decisions))

	workers := c.cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	log := logger.FromContext(ctx).WithField(logger.FieldStage, stageDownload)
	log.WithField(logger.FieldCount, len(decisions)).Info("Starting downloads")

	itemsChan := make(chan domain.Decision, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range itemsChan {
				tr.UnitDone(c.downloadOne(ctx, d, opts.Force))
			}
		}()
	}

	for _, d := range decisions {
		if tr.Cancelled() || ctx.Err() != nil {
			// Undispatched units still count as processed-skipped so the
			// totals reconcile after a cancel.
			tr.UnitDone(domain.Outcome{ECLI: d.ECLI, Skipped: true})
			continue
		}
		itemsChan <- d
	}
	close(itemsChan)
	wg.Wait()
}

// downloadOne fetches a single document with retry and validation.
func (c *DownloadCoordinator) downloadOne(ctx context.Context, d domain.Decision, force bool) domain.Outcome {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldStage: stageDownload,
		logger.FieldECLI:  d.ECLI,
	})

	if d.DocumentPath != "" && !force {
		return domain.Outcome{ECLI: d.ECLI, Skipped: true}
	}
	if d.SourceURL == "" {
		_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindValidation, "no source url")
		return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindValidation, Err: errors.New("no source url")}
	}

	if err := c.store.UpdateStatus(ctx, d.ECLI, domain.StatusDownloading, "", ""); err != nil {
		return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindInternal, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := Jitter(Backoff(attempt-1, c.cfg.BackoffBase, c.cfg.BackoffCap), 0.2)
			log.WithFields(logger.Fields{
				logger.FieldAttempt: attempt + 1,
				"delay":             delay.String(),
			}).Debug("Retrying download")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindTransientNetwork, "cancelled during retry wait")
				return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindTransientNetwork, Err: ctx.Err(), Attempts: attempt}
			}
		}

		body, err := c.fetcher.Fetch(ctx, d.SourceURL)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrTransient) {
				continue
			}
			// Permanent fetch error, no point retrying.
			_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindValidation, err.Error())
			return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindValidation, Err: err, Attempts: attempt + 1}
		}

		if err := c.validate(body); err != nil {
			_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindValidation, err.Error())
			return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindValidation, Err: err, Attempts: attempt + 1}
		}

		path, err := c.artifacts.WriteDocument(d.ECLI, body)
		if err != nil {
			_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindInternal, err.Error())
			return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindInternal, Err: err, Attempts: attempt + 1}
		}

		d.DocumentPath = path
		d.Status = domain.StatusDownloaded
		d.ErrorKind = ""
		d.ErrorMessage = ""
		if err := c.store.Save(ctx, &d); err != nil {
			return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindInternal, Err: err, Attempts: attempt + 1}
		}

		log.WithFields(logger.Fields{
			logger.FieldSize:    len(body),
			logger.FieldAttempt: attempt + 1,
		}).Info("Document downloaded")
		return domain.Outcome{ECLI: d.ECLI, Attempts: attempt + 1}
	}

	_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindTransientNetwork, lastErr.Error())
	log.WithError(lastErr).Warn("Download failed after retries")
	return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindTransientNetwork, Err: lastErr, Attempts: c.cfg.MaxAttempts}
}

// validate rejects bodies that are not plausible documents: error pages,
// truncated responses, HTML stubs.
func (c *DownloadCoordinator) validate(body []byte) error {
	if len(body) < c.cfg.MinDocumentSize {
		return fmt.Errorf("document too small: %d bytes", len(body))
	}
	if !bytes.HasPrefix(body, pdfMagic) {
		return errors.New("response is not a PDF document")
	}
	return nil
}
