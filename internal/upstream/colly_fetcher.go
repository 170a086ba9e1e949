package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/gocolly/colly"
	"github.com/rotisserie/eris"
)

// CollyFetcher builds a fresh collector per request so no state (visited
// urls, cookies) leaks between header profiles.
type CollyFetcher struct {
	transport http.RoundTripper
}

func NewCollyFetcher(transport http.RoundTripper) *CollyFetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CollyFetcher{transport: transport}
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string, p profile.HeaderProfile,
	timeout time.Duration) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(ErrRetryable, err.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := colly.NewCollector()
	c.WithTransport(&contextTransport{ctx: ctx, base: f.transport})
	c.SetRequestTimeout(timeout)
	c.UserAgent = p.UserAgent()

	resp := &Response{}
	c.OnRequest(func(r *colly.Request) {
		p.Apply(*r.Headers)
	})
	c.OnResponse(func(r *colly.Response) {
		resp.StatusCode = r.StatusCode
		resp.Body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		resp.StatusCode = r.StatusCode
		resp.Body = r.Body
	})

	err := c.Visit(url)
	if err != nil && resp.StatusCode == 0 {
		return nil, eris.Wrapf(ErrRetryable, "request failed: %v", err)
	}

	return resp, nil
}

// contextTransport binds every request of a collector to ctx, which colly
// has no API for.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
