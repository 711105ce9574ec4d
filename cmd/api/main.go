package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vkadlec/judikat/internal/api"
	"github.com/vkadlec/judikat/internal/api/middleware"
	"github.com/vkadlec/judikat/internal/config"
	"github.com/vkadlec/judikat/internal/jobs"
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
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "judikat-api",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	repo := repository.NewDecisionRepository(db)

	artifacts, err := storage.NewArtifactStore(cfg.Storage.DocumentsDir, cfg.Storage.SearchableDir, cfg.Storage.ExportDir)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize artifact store")
	}

	archive, err := storage.NewArchive(&cfg.Archive)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize archive")
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

	exporter := service.NewExportService(repo, artifacts, archive)

	manager := jobs.NewManager(jobs.Deps{
		Crawler:    crawlService,
		Downloader: downloader,
		Converter:  converter,
		Exporter:   exporter,
		Store:      repo,
	}, cfg.Jobs.Retention, appLogger)

	searchService := service.NewSearchService(repo)

	router := api.SetupRouter(repo, searchService, manager, appLogger, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
