package upstream

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
)

// SearchClient issues single attempts against the marketplace search endpoint.
// It is stateless; retrying with another profile is the caller's decision.
type SearchClient struct {
	fetcher  Fetcher
	endpoint string
	siteID   string
}

func NewSearchClient(fetcher Fetcher, siteURL, searchPath, siteID string) *SearchClient {
	return &SearchClient{
		fetcher:  fetcher,
		endpoint: strings.TrimRight(siteURL, "/") + searchPath,
		siteID:   siteID,
	}
}

func (c *SearchClient) SearchURL(query string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", eris.Wrapf(ErrFatal, "bad search endpoint %q", c.endpoint)
	}
	q := u.Query()
	q.Set("site", c.siteID)
	q.Set("types", "all")
	q.Set("name", query)
	q.Set("facets", "all")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Attempt performs one GET with p. The error wraps ErrRetryable or ErrFatal.
func (c *SearchClient) Attempt(ctx context.Context, query string, p profile.HeaderProfile,
	timeout time.Duration) (*model.RawPage, error) {
	searchURL, err := c.SearchURL(query)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Fetch(ctx, searchURL, p, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, eris.Wrapf(ErrRetryable, "search returned status %d", resp.StatusCode)
	}

	var page model.RawPage
	if err := jsoniter.Unmarshal(resp.Body, &page); err != nil {
		return nil, eris.Wrapf(ErrRetryable, "search body is not json: %v", err)
	}

	return &page, nil
}
