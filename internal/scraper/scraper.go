// Package scraper runs locally executed sources: it fetches each source URL,
// archives the raw pages and returns a manifest of what was collected.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/insights-collector/internal/collector"
	collyfetcher "github.com/JakeFAU/insights-collector/internal/fetcher/colly"
	"github.com/JakeFAU/insights-collector/internal/metrics"
	"github.com/JakeFAU/insights-collector/internal/policy/ratelimit"
)

// ErrNoTargets is returned when a source has no fetchable URL.
var ErrNoTargets = errors.New("no urls to scrape")

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (collyfetcher.Page, error)
}

// Config tunes the scraper.
type Config struct {
	// Parallelism bounds concurrent fetches per task.
	Parallelism int
	// MaxPages caps URLs per task; zero means no cap.
	MaxPages int
}

// PageResult describes one fetched URL in the returned manifest.
type PageResult struct {
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	URI    string `json:"uri,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Manifest is the success payload of a scraped source.
type Manifest struct {
	Source  collector.SourceType `json:"source"`
	Fetched int                  `json:"fetched"`
	Failed  int                  `json:"failed"`
	Pages   []PageResult         `json:"pages"`
}

// PageScraper implements collector.Scraper.
type PageScraper struct {
	fetcher  Fetcher
	archiver collector.Archiver
	limiter  *ratelimit.Limiter
	cfg      Config
	logger   *zap.Logger
}

var _ collector.Scraper = (*PageScraper)(nil)

// New builds a PageScraper. archiver and limiter may be nil.
func New(fetcher Fetcher, archiver collector.Archiver, limiter *ratelimit.Limiter, cfg Config, logger *zap.Logger) *PageScraper {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageScraper{
		fetcher:  fetcher,
		archiver: archiver,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.Named("scraper"),
	}
}

// Scrape fetches every URL of the task's source. Individual page failures are
// recorded in the manifest; the task fails only when no page succeeds.
func (s *PageScraper) Scrape(ctx context.Context, task collector.Task) (json.RawMessage, error) {
	targets := Targets(task.Source)
	if s.cfg.MaxPages > 0 && len(targets) > s.cfg.MaxPages {
		targets = targets[:s.cfg.MaxPages]
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	pages := make([]PageResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, target := range targets {
		g.Go(func() error {
			pages[i] = s.fetchOne(gctx, task, target)
			// Page errors stay in the manifest; only cancellation stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", task.Source.Type, err)
	}

	manifest := Manifest{Source: task.Source.Type, Pages: pages}
	var firstErr string
	for _, p := range pages {
		if p.Error != "" {
			manifest.Failed++
			if firstErr == "" {
				firstErr = p.Error
			}
			continue
		}
		manifest.Fetched++
	}
	if manifest.Fetched == 0 {
		return nil, fmt.Errorf("all %d page(s) failed: %s", len(pages), firstErr)
	}
	s.logger.Info("source scraped",
		zap.String("job_id", task.JobID),
		zap.String("source_type", string(task.Source.Type)),
		zap.Int("fetched", manifest.Fetched),
		zap.Int("failed", manifest.Failed))

	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

func (s *PageScraper) fetchOne(ctx context.Context, task collector.Task, target string) PageResult {
	res := PageResult{URL: target}
	if err := s.limiter.WaitURL(ctx, target); err != nil {
		res.Error = err.Error()
		return res
	}
	header := http.Header{}
	if len(task.Source.Countries) > 0 {
		header.Set("Accept-Language", task.Source.Countries[0])
	}
	page, err := s.fetcher.Fetch(ctx, target, header)
	res.Status = page.StatusCode
	if err != nil {
		metrics.ObservePage(target, statusLabel(page.StatusCode, "error"))
		s.logger.Warn("page fetch failed",
			zap.String("job_id", task.JobID),
			zap.String("url", target),
			zap.Error(err))
		res.Error = err.Error()
		return res
	}
	metrics.ObservePage(target, statusLabel(page.StatusCode, "ok"))
	res.Bytes = len(page.Body)
	if s.archiver == nil {
		return res
	}
	uri, err := s.archiver.Archive(ctx, task.JobID, task.Source.Type, page.Body)
	if err != nil {
		s.logger.Warn("archive page failed", zap.String("url", target), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.URI = uri
	return res
}

// Targets returns the source URLs plus any identifiers that are absolute
// http(s) URLs, normalized and de-duplicated in order.
func Targets(source collector.SourceConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range append(append([]string(nil), source.URLs...), source.Identifiers...) {
		target, ok := normalizeURL(raw)
		if !ok {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func statusLabel(code int, fallback string) string {
	if code == 0 {
		return fallback
	}
	return strconv.Itoa(code)
}
