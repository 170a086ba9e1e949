// Package enrich fills company details into product results from the
// marketplace's per-product documents.
//
// Candidates are processed in chunks of maxConcurrent. Chunks run strictly
// one after another; inside a chunk every item is dispatched at once, the
// i-th one delayed by i*ItemStagger. A chunk finishes when all of its items
// finished, whatever their outcome, and the next one starts after ChunkDelay.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/retry"
	"github.com/IliaW/cphi-crawler/internal/upstream"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

type DetailFetcher interface {
	Attempt(ctx context.Context, id model.ItemID, timeout time.Duration) (*model.DetailPayload, error)
}

type Engine struct {
	client   DetailFetcher
	cfg      *config.EnrichConfig
	absolute func(string) string
	details  *cache.Cache
}

// NewEngine creates an engine. absolute resolves site-relative links;
// detailTtl of zero disables the detail memo.
func NewEngine(client DetailFetcher, cfg *config.EnrichConfig, absolute func(string) string,
	detailTtl time.Duration) *Engine {
	e := &Engine{
		client:   client,
		cfg:      cfg,
		absolute: absolute,
	}
	if detailTtl > 0 {
		e.details = cache.New(detailTtl, 2*detailTtl)
	}
	return e
}

type patch struct {
	index  int
	detail *model.DetailPayload
	err    error
}

// Enrich mutates the given product results. Each task only sees a copy of its
// item's id; all writes happen here after the chunk's join.
func (e *Engine) Enrich(ctx context.Context, items []*model.EnrichedResult, maxConcurrent int) model.EnrichStats {
	start := time.Now()
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	candidates := make([]*model.EnrichedResult, 0, len(items))
	for _, item := range items {
		if item != nil && item.Type == model.TypeProduct {
			candidates = append(candidates, item)
		}
	}
	chunks := chunk(candidates, maxConcurrent)
	slog.Info("detail enrichment started.", slog.Int("items", len(candidates)),
		slog.Int("chunks", len(chunks)), slog.Int("max_concurrent", maxConcurrent))

	var stats model.EnrichStats
	for ci, c := range chunks {
		if ctx.Err() != nil {
			slog.Warn("detail enrichment interrupted.", slog.Int("chunk", ci+1),
				slog.String("err", ctx.Err().Error()))
			break
		}
		succeeded := e.runChunk(ctx, c)
		stats.TotalSuccess += succeeded
		stats.TotalAttempts += len(c)
		slog.Info("detail chunk done.", slog.Int("chunk", ci+1), slog.Int("of", len(chunks)),
			slog.Int("succeeded", succeeded), slog.Int("size", len(c)))

		if ci < len(chunks)-1 {
			if err := retry.Sleep(ctx, e.cfg.ChunkDelay); err != nil {
				break
			}
		}
	}

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.TotalSuccess) / float64(stats.TotalAttempts) * 100
	}
	stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	slog.Info("detail enrichment finished.", slog.Int("succeeded", stats.TotalSuccess),
		slog.Int("attempted", stats.TotalAttempts), slog.Int64("time_ms", stats.ProcessingTimeMs))

	return stats
}

func (e *Engine) runChunk(ctx context.Context, items []*model.EnrichedResult) int {
	out := make(chan patch, len(items))
	var g errgroup.Group
	for i, item := range items {
		id := item.ID
		g.Go(func() error {
			if err := retry.Sleep(ctx, time.Duration(i)*e.cfg.ItemStagger); err != nil {
				out <- patch{index: i, err: err}
				return err
			}
			detail, err := e.fetch(ctx, id)
			out <- patch{index: i, detail: detail, err: err}
			return err
		})
	}
	// a plain Group does not cancel siblings, so every item still reports
	if err := g.Wait(); err != nil {
		slog.Debug("detail chunk had failures.", slog.String("err", err.Error()))
	}
	close(out)

	succeeded := 0
	for p := range out {
		if p.err != nil {
			slog.Warn("detail unavailable, item left unenriched.", slog.String("id", string(items[p.index].ID)),
				slog.String("err", p.err.Error()))
			continue
		}
		e.apply(items[p.index], p.detail)
		succeeded++
	}

	return succeeded
}

func (e *Engine) fetch(ctx context.Context, id model.ItemID) (*model.DetailPayload, error) {
	if e.details != nil {
		if d, ok := e.details.Get(string(id)); ok {
			slog.Debug("detail served from memo.", slog.String("id", string(id)))
			return d.(*model.DetailPayload), nil
		}
	}

	policy := retry.Policy{
		MaxAttempts: e.cfg.DetailAttempts,
		Backoff:     retry.Linear(e.cfg.BackoffBase),
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, upstream.ErrInvalidItemID)
		},
		OnRetry: func(attempt int, err error) {
			slog.Debug("detail attempt failed, retrying.", slog.String("id", string(id)),
				slog.Int("attempt", attempt+1), slog.String("err", err.Error()))
		},
	}
	detail, _, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (*model.DetailPayload, error) {
		return e.client.Attempt(ctx, id, e.cfg.DetailTimeout)
	})
	if err != nil {
		return nil, err
	}
	if e.details != nil {
		e.details.Set(string(id), detail, cache.DefaultExpiration)
	}

	return detail, nil
}

func (e *Engine) apply(item *model.EnrichedResult, d *model.DetailPayload) {
	company := model.AsString(d.Supplier)
	if company == "" {
		company = model.AsString(d.CompanyName)
	}
	if company != "" {
		item.Company = company
		item.CompanySource = model.CompanyFromDetail
	}
	if country := model.AsString(d.Country); country != "" {
		item.Country = country
	}
	if types := model.AsString(d.CompanyTypes); types != "" {
		item.CompanyTypes = types
	}
	item.Verified = model.AsVerified(d.Verified)
	// the document's own link beats the slug guess
	if link := model.AsString(d.Link); link != "" {
		item.URL = e.absolute(link)
	}
}

func chunk(items []*model.EnrichedResult, size int) [][]*model.EnrichedResult {
	var chunks [][]*model.EnrichedResult
	for i := 0; i < len(items); i += size {
		chunks = append(chunks, items[i:min(i+size, len(items))])
	}
	return chunks
}
