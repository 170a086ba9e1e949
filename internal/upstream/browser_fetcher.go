package upstream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// BrowserFetcher loads the JSON endpoint in headless Chrome. Slower than
// CollyFetcher but passes checks that look at TLS and JS fingerprints.
type BrowserFetcher struct{}

func NewBrowserFetcher() *BrowserFetcher {
	return &BrowserFetcher{}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string, p profile.HeaderProfile,
	timeout time.Duration) (*Response, error) {
	tCtx, cancelTCtx := context.WithTimeout(ctx, timeout)
	defer cancelTCtx()
	bCtx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	var mu sync.Mutex
	resp := &Response{}
	chromedp.ListenTarget(bCtx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			if ev.Response.URL == url {
				mu.Lock()
				resp.StatusCode = int(ev.Response.Status)
				mu.Unlock()
			}
		case *network.EventRequestWillBeSent:
			if ev.RedirectResponse != nil {
				slog.Debug("redirected.", slog.String("url", ev.RedirectResponse.URL))
			}
		}
	})

	headers := network.Headers{}
	for k, v := range p.Headers {
		headers[k] = v
	}
	var body string
	err := chromedp.Run(bCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(url),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &body),
	)
	if err != nil {
		return nil, eris.Wrapf(ErrRetryable, "browser fetch failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	resp.Body = []byte(strings.TrimSpace(body))

	return resp, nil
}
