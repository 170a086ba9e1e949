package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/rotisserie/eris"
)

var (
	// ErrRetryable marks failures that another attempt may fix: timeouts,
	// network errors, non-2xx statuses and unparseable bodies.
	ErrRetryable = eris.New("retryable upstream failure")
	// ErrFatal marks failures no retry can fix, like a malformed endpoint.
	ErrFatal = eris.New("fatal upstream failure")
	// ErrInvalidItemID is returned for ids outside the six digit detail layout.
	ErrInvalidItemID = eris.New("item id does not fit the detail layout")
)

type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode/100 == 2
}

// Fetcher performs exactly one GET with the given fingerprint. It never retries.
type Fetcher interface {
	Fetch(ctx context.Context, url string, p profile.HeaderProfile, timeout time.Duration) (*Response, error)
}

// NewFetcher picks the implementation for the configured crawl mechanism.
func NewFetcher(mechanism model.CrawlMechanism, transport http.RoundTripper) Fetcher {
	switch mechanism {
	case model.HeadlessBrowser:
		return NewBrowserFetcher()
	default:
		return NewCollyFetcher(transport)
	}
}
