package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/storage"
)

const stageOCR = "ocr"

// pageSeparator joins recognized pages in reading order. The form feed keeps
// page boundaries recoverable from the stored text.
const pageSeparator = "\n\f\n"

// OCRConfig holds recognition parameters.
type OCRConfig struct {
	Workers       int
	Language      string
	DPI           int
	TextThreshold int
	PageTimeout   time.Duration
	DocTimeout    time.Duration
	PdftoppmBin   string
	TesseractBin  string
}

// OCROptions carries per-run overrides; zero values keep the configured
// defaults.
type OCROptions struct {
	Force    bool
	Workers  int
	Language string
	DPI      int
}

// OCRConverter turns fetched documents into text and a searchable rendition.
// Documents with a usable native text layer skip rasterization entirely.
type OCRConverter struct {
	store      decisionStore
	artifacts  *storage.ArtifactStore
	runner     Runner
	searchable *SearchableBuilder
	cfg        OCRConfig
}

// NewOCRConverter creates an OCR converter.
func NewOCRConverter(store decisionStore, artifacts *storage.ArtifactStore, runner Runner, cfg OCRConfig) *OCRConverter {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Language == "" {
		cfg.Language = "ces"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = 400
	}
	if cfg.DocTimeout <= 0 {
		cfg.DocTimeout = 120 * time.Second
	}
	if cfg.PdftoppmBin == "" {
		cfg.PdftoppmBin = "pdftoppm"
	}
	if cfg.TesseractBin == "" {
		cfg.TesseractBin = "tesseract"
	}
	return &OCRConverter{
		store:      store,
		artifacts:  artifacts,
		runner:     runner,
		searchable: NewSearchableBuilder(),
		cfg:        cfg,
	}
}

// Run converts the given decisions one document at a time. Page recognition
// within a document is concurrent; documents are sequential so a single run
// never holds more than one document's page images.
func (c *OCRConverter) Run(ctx context.Context, tr ProgressTracker, decisions []domain.Decision, opts OCROptions) {
	tr.SetStage(stageOCR)
	tr.AddTotal(len(decisions))

	cfg := c.cfg
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Language != "" {
		cfg.Language = opts.Language
	}
	if opts.DPI > 0 {
		cfg.DPI = opts.DPI
	}

	log := logger.FromContext(ctx).WithField(logger.FieldStage, stageOCR)
	log.WithField(logger.FieldCount, len(decisions)).Info("Starting conversion")

	for _, d := range decisions {
		if tr.Cancelled() || ctx.Err() != nil {
			tr.UnitDone(domain.Outcome{ECLI: d.ECLI, Skipped: true})
			continue
		}
		tr.UnitDone(c.convertOne(ctx, tr, cfg, d, opts.Force))
	}
}

// convertOne processes a single document under the per-document ceiling.
func (c *OCRConverter) convertOne(ctx context.Context, tr ProgressTracker, cfg OCRConfig, d domain.Decision, force bool) domain.Outcome {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldStage: stageOCR,
		logger.FieldECLI:  d.ECLI,
	})

	if d.FullText != "" && !force {
		return domain.Outcome{ECLI: d.ECLI, Skipped: true}
	}
	if d.DocumentPath == "" {
		_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, domain.ErrKindValidation, "no document to convert")
		return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindValidation, Err: errors.New("no document to convert")}
	}

	docCtx, cancel := context.WithTimeout(ctx, cfg.DocTimeout)
	defer cancel()

	_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusOCRPending, "", "")

	text, searchablePath, err := c.convert(docCtx, tr, cfg, d.ECLI, d.DocumentPath, log)
	if err != nil {
		kind := domain.ErrKindOCRPage
		if errors.Is(docCtx.Err(), context.DeadlineExceeded) {
			kind = domain.ErrKindOCRTimeout
		}
		// Status writes go through the parent context so a document timeout
		// does not lose the failure record.
		_ = c.store.UpdateStatus(ctx, d.ECLI, domain.StatusFailed, kind, err.Error())
		log.WithError(err).Warn("Conversion failed")
		return domain.Outcome{ECLI: d.ECLI, Kind: kind, Err: err}
	}

	d.FullText = text
	d.SearchableDocumentPath = searchablePath
	d.Status = domain.StatusOCRDone
	d.ErrorKind = ""
	d.ErrorMessage = ""
	if err := c.store.Save(ctx, &d); err != nil {
		return domain.Outcome{ECLI: d.ECLI, Kind: domain.ErrKindInternal, Err: err}
	}

	log.WithField(logger.FieldSize, len(text)).Info("Document converted")
	return domain.Outcome{ECLI: d.ECLI}
}

// convert extracts text and produces the searchable artifact path.
func (c *OCRConverter) convert(ctx context.Context, tr ProgressTracker, cfg OCRConfig, ecli, docPath string, log *logger.Logger) (string, string, error) {
	native, err := NativeText(docPath)
	if err != nil {
		log.WithError(err).Debug("Native text extraction failed, rasterizing")
	}
	if len(strings.TrimSpace(native)) >= cfg.TextThreshold {
		// Document already carries a text layer; the original is its own
		// searchable rendition.
		searchable := c.artifacts.SearchablePath(ecli)
		if err := copyFile(docPath, searchable); err != nil {
			return "", "", fmt.Errorf("failed to copy searchable document: %w", err)
		}
		log.Debug("Using native text layer")
		return native, searchable, nil
	}

	pages, tmpDir, err := c.rasterize(ctx, cfg, docPath)
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(tmpDir)

	texts, recognized, err := c.recognizePages(ctx, tr, cfg, ecli, pages, log)
	if err != nil {
		return "", "", err
	}
	if recognized == 0 {
		return "", "", fmt.Errorf("no page produced text (%d pages)", len(pages))
	}

	searchable := c.artifacts.SearchablePath(ecli)
	if err := c.searchable.Build(pages, texts, searchable); err != nil {
		// The text is what search needs; fall back to the original bytes
		// for the artifact rather than dropping the document.
		log.WithError(err).Warn("Searchable rendition failed, keeping original")
		if err := copyFile(docPath, searchable); err != nil {
			return "", "", fmt.Errorf("failed to copy searchable document: %w", err)
		}
	}

	return strings.Join(texts, pageSeparator), searchable, nil
}

// NativeText extracts the document's embedded text layer in page order.
func NativeText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, pageSeparator), nil
}

// rasterize renders the document into per-page PNGs inside a temp dir and
// returns the sorted page paths.
func (c *OCRConverter) rasterize(ctx context.Context, cfg OCRConfig, docPath string) ([]string, string, error) {
	tmpDir, err := os.MkdirTemp("", "judikat-ocr-*")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	_, stderr, err := c.runner.Run(ctx, cfg.PdftoppmBin,
		"-r", fmt.Sprintf("%d", cfg.DPI),
		"-png",
		docPath,
		prefix,
	)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, "", fmt.Errorf("rasterization failed: %v (%s)", err, strings.TrimSpace(string(stderr)))
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil || len(pages) == 0 {
		os.RemoveAll(tmpDir)
		return nil, "", fmt.Errorf("rasterization produced no pages")
	}
	// pdftoppm zero-pads page numbers uniformly per run, so lexical order
	// is page order.
	sort.Strings(pages)
	return pages, tmpDir, nil
}

// recognizePages runs tesseract over the pages through a bounded pool.
// A failed page yields an empty slot; order is preserved and the loss is
// noted on the tracker.
func (c *OCRConverter) recognizePages(ctx context.Context, tr ProgressTracker, cfg OCRConfig, ecli string, pages []string, log *logger.Logger) ([]string, int, error) {
	texts := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pageCtx := gctx
			if cfg.PageTimeout > 0 {
				var cancel context.CancelFunc
				pageCtx, cancel = context.WithTimeout(gctx, cfg.PageTimeout)
				defer cancel()
			}
			stdout, stderr, err := c.runner.Run(pageCtx, cfg.TesseractBin, page, "stdout", "-l", cfg.Language)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"page":   filepath.Base(page),
					"stderr": truncate(strings.TrimSpace(string(stderr)), 512),
				}).Warn("Page recognition failed")
				tr.Note(domain.StageError{
					ECLI:    ecli,
					Kind:    domain.ErrKindOCRPage,
					Message: fmt.Sprintf("page %s: %v", filepath.Base(page), err),
				})
				return nil
			}
			texts[i] = strings.TrimSpace(string(stdout))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	recognized := 0
	for _, t := range texts {
		if t != "" {
			recognized++
		}
	}
	return texts, recognized, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
