package nss

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/xuri/excelize/v2"

	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/source"
)

const SourceID = "nss"

// Column headers of the open-data registry workbook.
const (
	colDocket     = "Spisová značka"
	colCaseType   = "Typ věci"
	colParties    = "Účastnící řízení s anonymizovanými fyzickými osobami"
	colDecided    = "Datum rozhodnutí"
	colReceived   = "Došlo"
)

const detailURLPrefix = "https://vyhledavac.nssoud.cz/?spisova_znacka="

// Adapter implements Source over the NSS open-data xlsx registry. The
// registry is a single workbook republished periodically; it is cached on
// disk and refetched only after the TTL expires.
type Adapter struct {
	client    *resty.Client
	registry  string
	cachePath string
	cacheTTL  time.Duration
}

// Config holds the NSS adapter configuration.
type Config struct {
	RegistryURL string
	CacheDir    string
	CacheTTL    time.Duration
	UserAgent   string
}

// NewAdapter creates a new NSS open-data adapter.
func NewAdapter(cfg Config) *Adapter {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetHeader("User-Agent", cfg.UserAgent)
	return &Adapter{
		client:    client,
		registry:  cfg.RegistryURL,
		cachePath: filepath.Join(cfg.CacheDir, "nss_registry.xlsx"),
		cacheTTL:  cfg.CacheTTL,
	}
}

// ID returns the stable identifier for this source.
func (a *Adapter) ID() string {
	return SourceID
}

// Search downloads (or reuses) the registry workbook and returns candidates
// whose case type or parties match any word of the keyword.
func (a *Adapter) Search(ctx context.Context, keyword string, limit int) ([]source.Candidate, error) {
	path, err := a.fetchRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return a.filterRegistry(ctx, path, keyword, limit)
}

// fetchRegistry returns the local registry path, downloading a fresh copy
// when the cached one is older than the TTL.
func (a *Adapter) fetchRegistry(ctx context.Context) (string, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldSource, SourceID)

	if info, err := os.Stat(a.cachePath); err == nil {
		age := time.Since(info.ModTime())
		if age < a.cacheTTL {
			log.WithField("age_hours", int(age.Hours())).Debug("using cached registry")
			return a.cachePath, nil
		}
	}

	log.WithField("url", a.registry).Info("downloading registry")
	resp, err := a.client.R().
		SetContext(ctx).
		SetOutput(a.cachePath).
		Get(a.registry)
	if err != nil {
		// A stale cache beats no data at all.
		if _, statErr := os.Stat(a.cachePath); statErr == nil {
			log.WithError(err).Warn("registry refresh failed, using stale cache")
			return a.cachePath, nil
		}
		return "", fmt.Errorf("failed to download registry: %w", err)
	}
	if resp.IsError() {
		if _, statErr := os.Stat(a.cachePath); statErr == nil {
			log.WithField(logger.FieldStatus, resp.StatusCode()).Warn("registry refresh failed, using stale cache")
			return a.cachePath, nil
		}
		return "", fmt.Errorf("registry download returned status %d", resp.StatusCode())
	}

	log.WithField(logger.FieldSize, resp.Size()).Info("registry downloaded")
	return a.cachePath, nil
}

// filterRegistry streams workbook rows and collects matching candidates.
func (a *Adapter) filterRegistry(ctx context.Context, path, keyword string, limit int) ([]source.Candidate, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("registry workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read registry rows: %w", err)
	}
	defer rows.Close()

	// Header row maps column names to indexes; the registry layout has
	// shifted between publications so nothing is assumed positional.
	if !rows.Next() {
		return nil, fmt.Errorf("registry workbook is empty")
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	docketIdx, ok := cols[colDocket]
	if !ok {
		return nil, fmt.Errorf("registry workbook missing column %q", colDocket)
	}

	words := strings.Fields(strings.ToLower(keyword))
	if len(words) == 0 {
		return nil, nil
	}

	var candidates []source.Candidate
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		if limit > 0 && len(candidates) >= limit {
			break
		}
		row, err := rows.Columns()
		if err != nil {
			continue
		}
		docket := strings.TrimSpace(cell(row, docketIdx))
		if docket == "" {
			continue
		}

		caseType := cell(row, cols[colCaseType])
		parties := cell(row, cols[colParties])
		haystack := strings.ToLower(caseType + " " + parties)

		matched := false
		for _, w := range words {
			if strings.Contains(haystack, w) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		title := strings.TrimSpace(caseType)
		if title == "" {
			title = docket
		}
		candidates = append(candidates, source.Candidate{
			ECLI:      SynthesizeECLI(docket),
			Title:     title,
			SourceURL: detailURLPrefix + url.QueryEscape(docket),
			Date:      parseDate(cell(row, dateIdx(cols))),
			Docket:    docket,
		})
	}

	return candidates, nil
}

// dateIdx prefers the decision date column, falling back to the filing date.
func dateIdx(cols map[string]int) int {
	if i, ok := cols[colDecided]; ok {
		return i
	}
	if i, ok := cols[colReceived]; ok {
		return i
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// SynthesizeECLI builds the canonical identifier from a docket number.
// Docket spaces become dashes so the result stays a single token.
func SynthesizeECLI(docket string) string {
	return "CZ:NSS:" + strings.ReplaceAll(strings.TrimSpace(docket), " ", "-")
}

// parseDate accepts the date formats seen in registry exports.
func parseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "02.01.2006", "1/2/06 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
