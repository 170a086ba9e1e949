package crawler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/IliaW/cphi-crawler/internal/retry"
	"github.com/IliaW/cphi-crawler/internal/upstream"
	"github.com/rotisserie/eris"
)

// ErrUpstreamUnreachable is reported when no header profile got a usable page.
var ErrUpstreamUnreachable = eris.New("upstream unreachable")

type Searcher interface {
	Attempt(ctx context.Context, query string, p profile.HeaderProfile, timeout time.Duration) (*model.RawPage, error)
}

// HeaderFallback walks the profiles in order until one returns a parseable page.
type HeaderFallback struct {
	client   Searcher
	profiles []profile.HeaderProfile
	cooldown time.Duration
}

func NewHeaderFallback(client Searcher, profiles []profile.HeaderProfile, cooldown time.Duration) *HeaderFallback {
	return &HeaderFallback{client: client, profiles: profiles, cooldown: cooldown}
}

// Search returns the first successful page. Every profile gets exactly one
// attempt with its own timeout; the loop gives up early once budget is spent.
func (h *HeaderFallback) Search(ctx context.Context, query string, attemptTimeout,
	budget time.Duration) (*model.RawPage, error) {
	if len(h.profiles) == 0 {
		return nil, eris.Wrap(ErrUpstreamUnreachable, "no header profiles configured")
	}

	policy := retry.Policy{
		MaxAttempts: len(h.profiles),
		Backoff:     retry.Constant(h.cooldown),
		Budget:      budget,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, upstream.ErrFatal)
		},
	}
	page, attempts, err := retry.Do(ctx, policy, func(ctx context.Context, i int) (*model.RawPage, error) {
		p := h.profiles[i]
		slog.Debug("search attempt.", slog.Int("profile", i+1), slog.String("name", p.Name),
			slog.String("user_agent", p.Short()))
		page, err := h.client.Attempt(ctx, query, p, attemptTimeout)
		if err != nil {
			slog.Warn("search attempt failed.", slog.Int("profile", i+1), slog.String("name", p.Name),
				slog.String("err", err.Error()))
			return nil, err
		}
		slog.Debug("search attempt succeeded.", slog.Int("profile", i+1), slog.Int("hits", len(page.Results)))
		return page, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrBudgetExhausted) {
			slog.Warn("search budget exhausted.", slog.Int("attempts", attempts),
				slog.Duration("budget", budget))
		}
		return nil, eris.Wrapf(ErrUpstreamUnreachable, "%d of %d profiles tried: %v", attempts,
			len(h.profiles), err)
	}

	return page, nil
}
