package upstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
)

const maxDetailID = 999_999

type DetailClient struct {
	fetcher Fetcher
	siteURL string
	siteID  string
	version string
	profile profile.HeaderProfile
}

func NewDetailClient(fetcher Fetcher, siteURL, siteID, version string) *DetailClient {
	siteURL = strings.TrimRight(siteURL, "/")
	return &DetailClient{
		fetcher: fetcher,
		siteURL: siteURL,
		siteID:  siteID,
		version: version,
		profile: profile.DetailProfile(siteURL),
	}
}

// DetailURL shards the zero-padded six digit id into three two digit
// segments, the layout the marketplace stores its documents under.
func (c *DetailClient) DetailURL(id model.ItemID) (string, error) {
	n, err := strconv.Atoi(string(id))
	if err != nil || n < 0 || n > maxDetailID {
		return "", eris.Wrapf(ErrInvalidItemID, "id %q", id)
	}
	padded := fmt.Sprintf("%06d", n)

	return fmt.Sprintf("%s/%s/product/%s/%s/%s/search%d_%s.json?v=%s", c.siteURL, c.siteID,
		padded[0:2], padded[2:4], padded[4:6], n, c.siteID, c.version), nil
}

// Attempt performs one GET of the detail document.
func (c *DetailClient) Attempt(ctx context.Context, id model.ItemID, timeout time.Duration) (*model.DetailPayload, error) {
	detailURL, err := c.DetailURL(id)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Fetch(ctx, detailURL, c.profile, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, eris.Wrapf(ErrRetryable, "detail returned status %d", resp.StatusCode)
	}

	var envelope model.DetailEnvelope
	if err := jsoniter.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, eris.Wrapf(ErrRetryable, "detail body is not json: %v", err)
	}
	payload := envelope.Payload()

	return &payload, nil
}
