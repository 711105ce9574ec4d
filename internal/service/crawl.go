package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/source"
)

const stageCrawl = "crawl"

// crawlStore is the slice of the repository the crawl stage needs.
type crawlStore interface {
	Upsert(ctx context.Context, d *domain.Decision) error
}

// CrawlConfig holds discovery parameters.
type CrawlConfig struct {
	Delay           time.Duration
	LimitPerKeyword int
}

// CrawlOptions carries per-run overrides; zero values keep the configured
// defaults.
type CrawlOptions struct {
	LimitPerKeyword int
}

// CrawlService discovers decision candidates keyword by keyword and merges
// them into the repository. One unit of work is one keyword per source; a
// keyword that fails to parse is a failed unit, not a failed run.
type CrawlService struct {
	store   crawlStore
	sources []source.Source
	cfg     CrawlConfig
}

// NewCrawlService creates a crawl service over the given sources.
func NewCrawlService(store crawlStore, cfg CrawlConfig, sources ...source.Source) *CrawlService {
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.LimitPerKeyword <= 0 {
		cfg.LimitPerKeyword = 100
	}
	return &CrawlService{store: store, sources: sources, cfg: cfg}
}

// Run queries every source for every keyword with a minimum inter-request
// delay. Candidates are deduplicated by ECLI within the run; known decisions
// that are already past discovery keep their state through the merge.
func (s *CrawlService) Run(ctx context.Context, tr ProgressTracker, keywords []string, opts CrawlOptions) {
	tr.SetStage(stageCrawl)
	tr.AddTotal(len(keywords) * len(s.sources))

	limit := s.cfg.LimitPerKeyword
	if opts.LimitPerKeyword > 0 {
		limit = opts.LimitPerKeyword
	}

	log := logger.FromContext(ctx).WithField(logger.FieldStage, stageCrawl)
	log.WithField(logger.FieldCount, len(keywords)).Info("Starting discovery")

	seen := make(map[string]bool)
	first := true
	for _, keyword := range keywords {
		for _, src := range s.sources {
			unit := fmt.Sprintf("%s/%s", src.ID(), keyword)
			if tr.Cancelled() || ctx.Err() != nil {
				tr.UnitDone(domain.Outcome{ECLI: unit, Skipped: true})
				continue
			}
			if !first {
				select {
				case <-time.After(Jitter(s.cfg.Delay, 0.25)):
				case <-ctx.Done():
				}
			}
			first = false
			// The delay may have been cut short by a cancel; a unit that
			// never ran counts as skipped, not as a source failure.
			if tr.Cancelled() || ctx.Err() != nil {
				tr.UnitDone(domain.Outcome{ECLI: unit, Skipped: true})
				continue
			}
			tr.UnitDone(s.crawlKeyword(ctx, src, keyword, limit, seen))
		}
	}
}

// crawlKeyword runs one keyword against one source and merges the results.
func (s *CrawlService) crawlKeyword(ctx context.Context, src source.Source, keyword string, limit int, seen map[string]bool) domain.Outcome {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldStage:   stageCrawl,
		logger.FieldSource:  src.ID(),
		logger.FieldKeyword: keyword,
	})

	unit := fmt.Sprintf("%s/%s", src.ID(), keyword)

	candidates, err := src.Search(ctx, keyword, limit)
	if err != nil {
		log.WithError(err).Warn("Keyword discovery failed")
		return domain.Outcome{ECLI: unit, Kind: domain.ErrKindParse, Err: err}
	}

	stored := 0
	for _, cand := range candidates {
		if cand.ECLI == "" || seen[cand.ECLI] {
			continue
		}
		seen[cand.ECLI] = true

		// Decisions already moving through the pipeline keep their state;
		// the merge still records the new keyword.
		d := &domain.Decision{
			ECLI:      cand.ECLI,
			Title:     cand.Title,
			Date:      cand.Date,
			SourceURL: cand.SourceURL,
			Keywords:  domain.StringArray{keyword},
			Status:    domain.StatusDiscovered,
		}
		if err := s.store.Upsert(ctx, d); err != nil {
			log.WithError(err).WithField(logger.FieldECLI, cand.ECLI).Error("Failed to store candidate")
			continue
		}
		stored++
	}

	log.WithFields(logger.Fields{
		"found":  len(candidates),
		"stored": stored,
	}).Info("Keyword discovered")
	return domain.Outcome{ECLI: unit}
}
