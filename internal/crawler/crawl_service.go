package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal"
	"github.com/IliaW/cphi-crawler/internal/enrich"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/IliaW/cphi-crawler/internal/telemetry"
	"github.com/IliaW/cphi-crawler/internal/upstream"
)

const (
	minQueryLength = 2
	// maxPageLimit bounds a caller supplied extended limit.
	maxPageLimit = 1000
)

// CatalogLookup is the seam to the application's own product/supplier tables.
type CatalogLookup interface {
	LookupSupplier(ctx context.Context, productName string) (*model.SupplierInfo, error)
	IncrementSearchCount(ctx context.Context, query string) error
}

type OutcomeCache interface {
	GetOutcome(key string) (*model.CrawlOutcome, bool)
	SaveOutcome(key string, outcome *model.CrawlOutcome)
}

type Archiver interface {
	WriteOutcome(outcome *model.CrawlOutcome) (string, error)
}

type Enricher interface {
	Enrich(ctx context.Context, items []*model.EnrichedResult, maxConcurrent int) model.EnrichStats
}

// Dependencies are optional collaborators; nil members are skipped.
type Dependencies struct {
	Catalog CatalogLookup
	Cache   OutcomeCache
	Archive Archiver
	Metrics *telemetry.AppMetrics
}

type CommonCrawlerService struct {
	cfg        *config.CrawlerConfig
	fallback   *HeaderFallback
	normalizer *Normalizer
	enricher   Enricher
	deps       Dependencies
}

func NewCrawlService(cfg *config.CrawlerConfig, fetcher upstream.Fetcher, deps Dependencies) *CommonCrawlerService {
	normalizer := NewNormalizer(cfg.SiteURL, cfg.SourceLabel)
	search := upstream.NewSearchClient(fetcher, cfg.SiteURL, cfg.SearchPath, cfg.SiteID)
	detail := upstream.NewDetailClient(fetcher, cfg.SiteURL, cfg.SiteID, cfg.DetailVersion)
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NoopAppMetrics()
	}

	return &CommonCrawlerService{
		cfg:        cfg,
		fallback:   NewHeaderFallback(search, profile.DefaultProfiles(cfg.SiteURL), cfg.HeaderCooldown),
		normalizer: normalizer,
		enricher:   enrich.NewEngine(detail, cfg.Enrichment, normalizer.Absolute, cfg.DetailCacheTtl),
		deps:       deps,
	}
}

// Basic is the small crawl that runs next to a local database search.
func (c *CommonCrawlerService) Basic(ctx context.Context, query string) *model.CrawlOutcome {
	return c.Crawl(ctx, model.Basic, model.SearchQuery{Text: query})
}

// Extended is the "load more" crawl with a caller supplied window.
func (c *CommonCrawlerService) Extended(ctx context.Context, query string, limit, offset int) *model.CrawlOutcome {
	return c.Crawl(ctx, model.Extended, model.SearchQuery{Text: query, Limit: limit, Offset: offset})
}

// Crawl never fails: every problem ends up in the outcome.
func (c *CommonCrawlerService) Crawl(ctx context.Context, mode model.CrawlMode, q model.SearchQuery) *model.CrawlOutcome {
	startTime := time.Now()
	modeCfg := c.modeConfig(mode)
	q = c.window(mode, modeCfg, q)
	slog.Info("realtime crawl started.", slog.String("query", q.Text), slog.String("mode", string(mode)),
		slog.Int("limit", q.Limit), slog.Int("offset", q.Offset))

	if len(q.Text) < minQueryLength {
		return c.failure(mode, q, startTime, fmt.Sprintf("query must be at least %d characters", minQueryLength))
	}
	c.recordSearch(q.Text)

	key := cacheKey(mode, q)
	if c.deps.Cache != nil {
		if cached, ok := c.deps.Cache.GetOutcome(key); ok {
			slog.Info("crawl served from cache.", slog.String("query", q.Text))
			c.deps.Metrics.CacheHitCnt(1)
			cached.Cached = true
			cached.Query = q.Text
			return cached
		}
	}

	page, err := c.fallback.Search(ctx, q.Text, modeCfg.AttemptTimeout, modeCfg.OverallBudget)
	if err != nil {
		slog.Error("realtime crawl failed.", slog.String("query", q.Text), slog.String("err", err.Error()))
		c.deps.Metrics.FailedCrawlCnt(1)
		return c.failure(mode, q, startTime, ErrUpstreamUnreachable.Error())
	}

	results, filteredCount := c.normalizer.Normalize(page.Results, q.Offset, q.Limit)

	// Once the search is back the crawl runs to the end even if the caller
	// goes away; only the mode deadline bounds it.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), modeCfg.EnrichmentDeadline)
	defer cancel()
	complete := true
	if elapsed := time.Since(startTime); elapsed < modeCfg.EnrichmentDeadline {
		candidates := selectCandidates(results, min(modeCfg.EnrichCap, q.Limit))
		if len(candidates) > 0 {
			stats := c.enricher.Enrich(detached, candidates, c.cfg.Enrichment.MaxConcurrent)
			c.deps.Metrics.DetailSuccessCnt(int64(stats.TotalSuccess))
			c.deps.Metrics.DetailFailCnt(int64(stats.TotalAttempts - stats.TotalSuccess))
			complete = stats.TotalAttempts == len(candidates)
		}
	} else {
		slog.Warn("search used the whole budget, enrichment skipped.", slog.Duration("elapsed", elapsed))
		complete = false
	}
	c.fillFromCatalog(detached, results)

	p := Paginate(filteredCount, q.Offset, q.Limit, len(results))
	outcome := &model.CrawlOutcome{
		Query:          q.Text,
		Mode:           mode,
		Results:        results,
		Count:          len(results),
		TotalAvailable: p.TotalAvailable,
		HasMore:        p.HasMore,
		NextOffset:     p.NextOffset,
		Source:         c.cfg.SourceLabel,
		ProcessingTime: fmt.Sprintf("%dms", time.Since(startTime).Milliseconds()),
		Timestamp:      time.Now().UTC(),
		Success:        true,
	}
	slog.Info("realtime crawl finished.", slog.String("query", q.Text), slog.Int("count", outcome.Count),
		slog.Int("total", outcome.TotalAvailable), slog.Bool("has_more", outcome.HasMore),
		slog.String("time", outcome.ProcessingTime))
	c.deps.Metrics.SuccessfulCrawlCnt(1)

	// a partly enriched page must not be served to later callers
	if c.deps.Cache != nil && complete {
		c.deps.Cache.SaveOutcome(key, outcome)
	}
	c.archive(outcome)

	return outcome
}

func (c *CommonCrawlerService) modeConfig(mode model.CrawlMode) *config.ModeConfig {
	if mode == model.Extended {
		return c.cfg.Extended
	}
	return c.cfg.Basic
}

// window fixes the limit/offset the mode allows. Basic always returns the
// first page of its fixed size.
func (c *CommonCrawlerService) window(mode model.CrawlMode, modeCfg *config.ModeConfig, q model.SearchQuery) model.SearchQuery {
	q.Text = strings.TrimSpace(q.Text)
	if mode != model.Extended {
		q.Limit = modeCfg.Limit
		q.Offset = 0
		return q
	}
	if q.Limit <= 0 {
		q.Limit = modeCfg.Limit
	}
	q.Limit = min(q.Limit, maxPageLimit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// selectCandidates picks at most limit products of the page, in page order.
func selectCandidates(results []model.EnrichedResult, limit int) []*model.EnrichedResult {
	candidates := make([]*model.EnrichedResult, 0, limit)
	for i := range results {
		if len(candidates) >= limit {
			break
		}
		if results[i].Type == model.TypeProduct {
			candidates = append(candidates, &results[i])
		}
	}
	return candidates
}

// fillFromCatalog is best effort: lookup errors are logged and ignored.
func (c *CommonCrawlerService) fillFromCatalog(ctx context.Context, results []model.EnrichedResult) {
	if c.deps.Catalog == nil {
		return
	}
	for i := range results {
		item := &results[i]
		if item.Type != model.TypeProduct || item.Title == "" || item.Company != "" {
			continue
		}
		supplier, err := c.deps.Catalog.LookupSupplier(ctx, item.Title)
		if err != nil {
			slog.Warn("catalog lookup failed.", slog.String("title", item.Title), slog.String("err", err.Error()))
			continue
		}
		if supplier == nil || supplier.Name == "" {
			continue
		}
		item.Company = supplier.Name
		item.Country = supplier.Country
		item.CompanyTypes = supplier.SupplierType
		item.Verified = fmt.Sprintf("%t", supplier.Verified)
		item.CompanySource = model.CompanyFromCatalog
	}
}

// recordSearch is dispatched and detached: the caller never waits for the
// counter update and never sees its error.
func (c *CommonCrawlerService) recordSearch(query string) {
	if c.deps.Catalog == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.Catalog.IncrementSearchCount(ctx, query); err != nil {
			slog.Debug("failed to increment search count.", slog.String("query", query),
				slog.String("err", err.Error()))
		}
	}()
}

// archive is dispatched and detached like recordSearch. The outcome is not
// mutated after Crawl returns, so sharing it is safe.
func (c *CommonCrawlerService) archive(outcome *model.CrawlOutcome) {
	if c.deps.Archive == nil {
		return
	}
	go func() {
		if _, err := c.deps.Archive.WriteOutcome(outcome); err != nil {
			slog.Warn("failed to archive crawl outcome.", slog.String("query", outcome.Query),
				slog.String("err", err.Error()))
		}
	}()
}

func (c *CommonCrawlerService) failure(mode model.CrawlMode, q model.SearchQuery, startTime time.Time,
	msg string) *model.CrawlOutcome {
	return &model.CrawlOutcome{
		Query:          q.Text,
		Mode:           mode,
		Results:        []model.EnrichedResult{},
		Source:         c.cfg.SourceLabel,
		NextOffset:     q.Offset,
		ProcessingTime: fmt.Sprintf("%dms", time.Since(startTime).Milliseconds()),
		Timestamp:      time.Now().UTC(),
		Success:        false,
		Error:          msg,
	}
}

func cacheKey(mode model.CrawlMode, q model.SearchQuery) string {
	return internal.HashKey(fmt.Sprintf("%s|%s|%d|%d", mode, strings.ToLower(q.Text), q.Offset, q.Limit))
}
