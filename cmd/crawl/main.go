package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vkadlec/judikat/internal/config"
	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/repository"
	"github.com/vkadlec/judikat/internal/service"
	"github.com/vkadlec/judikat/internal/source"
	"github.com/vkadlec/judikat/internal/source/nss"
	"github.com/vkadlec/judikat/internal/source/regional"
	"github.com/vkadlec/judikat/internal/source/sbirka"
	"github.com/vkadlec/judikat/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "judikat-crawl",
	})
	logger.SetDefaultLogger(appLogger)

	keywordsFlag := flag.String("keywords", "", "Comma-separated search keywords")
	limit := flag.Int("limit", 0, "Maximum candidates per keyword (0 = configured default)")
	stages := flag.String("stages", "all", "Stages to run: crawl, download, ocr, all")
	target := flag.String("ecli", "", "Process a single decision by ECLI")
	force := flag.Bool("force", false, "Re-process already completed decisions")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *limit > 0 {
		cfg.Crawl.LimitPerKeyword = *limit
	}

	keywords := splitKeywords(*keywordsFlag)
	runCrawl := *stages == "all" || strings.Contains(*stages, "crawl")
	runDownload := *stages == "all" || strings.Contains(*stages, "download")
	runOCR := *stages == "all" || strings.Contains(*stages, "ocr")
	if runCrawl && len(keywords) == 0 && *target == "" {
		appLogger.Fatal("No keywords given; use -keywords or -ecli")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	repo := repository.NewDecisionRepository(db)

	artifacts, err := storage.NewArtifactStore(cfg.Storage.DocumentsDir, cfg.Storage.SearchableDir, cfg.Storage.ExportDir)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize artifact store")
	}

	sources := []source.Source{
		nss.NewAdapter(nss.Config{
			RegistryURL: cfg.Crawl.RegistryURL,
			CacheDir:    cfg.Storage.CacheDir,
			CacheTTL:    cfg.Crawl.RegistryCacheTTL,
			UserAgent:   cfg.Crawl.UserAgent,
		}),
	}
	if cfg.Crawl.FeedEnabled {
		sources = append(sources, sbirka.NewAdapter(cfg.Crawl.FeedURL, cfg.Crawl.UserAgent))
	}
	if cfg.Crawl.RegionalEnabled {
		sources = append(sources, regional.NewAdapter(regional.Config{
			PortalURL: cfg.Crawl.PortalURL,
			Delay:     cfg.Crawl.Delay,
			UserAgent: cfg.Crawl.UserAgent,
		}))
	}

	crawlService := service.NewCrawlService(repo, service.CrawlConfig{
		Delay:           cfg.Crawl.Delay,
		LimitPerKeyword: cfg.Crawl.LimitPerKeyword,
	}, sources...)

	fetcher := service.NewHTTPFetcher(cfg.Download.RequestTimeout, cfg.Crawl.UserAgent)
	downloader := service.NewDownloadCoordinator(repo, artifacts, fetcher, service.DownloadConfig{
		Workers:         cfg.Download.Workers,
		MaxAttempts:     cfg.Download.MaxAttempts,
		BackoffBase:     cfg.Download.BackoffBase,
		BackoffCap:      cfg.Download.BackoffCap,
		MinDocumentSize: cfg.Download.MinDocumentSize,
	})

	converter := service.NewOCRConverter(repo, artifacts, service.ExecRunner{}, service.OCRConfig{
		Workers:       cfg.OCR.Workers,
		Language:      cfg.OCR.Language,
		DPI:           cfg.OCR.DPI,
		TextThreshold: cfg.OCR.TextThreshold,
		PageTimeout:   cfg.OCR.PageTimeout,
		DocTimeout:    cfg.OCR.DocTimeout,
		PdftoppmBin:   cfg.OCR.PdftoppmBin,
		TesseractBin:  cfg.OCR.TesseractBin,
	})

	// SIGINT stops dispatching new work; in-flight units finish.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = appLogger.WithContext(ctx)

	stats := &service.StageStats{}

	if *target != "" {
		runSingle(ctx, appLogger, repo, downloader, converter, stats, *target, *force)
		report(appLogger, stats)
		return
	}

	if runCrawl {
		crawlService.Run(ctx, stats, keywords, service.CrawlOptions{})
	}
	if runDownload && ctx.Err() == nil {
		pending, err := repo.ListNeedingDownload(ctx, 0)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list pending downloads")
		}
		downloader.Run(ctx, stats, pending, service.DownloadOptions{Force: *force})
	}
	if runOCR && ctx.Err() == nil {
		pending, err := repo.ListNeedingOCR(ctx, 0)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list pending conversions")
		}
		converter.Run(ctx, stats, pending, service.OCROptions{Force: *force})

		converted, err := repo.ListByStatus(ctx, domain.StatusOCRDone, 0, 0)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list converted decisions")
		}
		for _, d := range converted {
			if err := repo.MarkIndexed(ctx, d.ECLI); err != nil {
				appLogger.WithError(err).WithField(logger.FieldECLI, d.ECLI).Error("Failed to index decision")
			}
		}
	}

	report(appLogger, stats)
}

func runSingle(
	ctx context.Context,
	log *logger.Logger,
	repo *repository.DecisionRepository,
	downloader *service.DownloadCoordinator,
	converter *service.OCRConverter,
	stats *service.StageStats,
	ecli string,
	force bool,
) {
	d, err := repo.GetByECLI(ctx, ecli)
	if err != nil {
		log.WithError(err).Fatal("Unknown decision")
	}
	if d.DocumentPath == "" || force {
		downloader.Run(ctx, stats, []domain.Decision{*d}, service.DownloadOptions{Force: force})
		if d, err = repo.GetByECLI(ctx, ecli); err != nil {
			log.WithError(err).Fatal("Failed to reload decision")
		}
	}
	if d.DocumentPath == "" {
		return
	}
	if d.FullText == "" || force {
		converter.Run(ctx, stats, []domain.Decision{*d}, service.OCROptions{Force: force})
		if d, err = repo.GetByECLI(ctx, ecli); err != nil {
			log.WithError(err).Fatal("Failed to reload decision")
		}
	}
	if d.FullText != "" {
		if err := repo.MarkIndexed(ctx, ecli); err != nil {
			log.WithError(err).Error("Failed to index decision")
		}
	}
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func report(log *logger.Logger, stats *service.StageStats) {
	log.WithFields(logger.Fields{
		"processed": stats.Processed,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	}).Info("Run finished")
	for _, se := range stats.Errors {
		log.WithFields(logger.Fields{
			logger.FieldECLI: se.ECLI,
			"kind":           string(se.Kind),
		}).Warn(se.Message)
	}
}
