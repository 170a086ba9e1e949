package profile

import (
	"net/http"
	"strings"
)

// HeaderProfile is a named browser fingerprint sent to the marketplace.
type HeaderProfile struct {
	Name    string
	Headers map[string]string
}

func (p HeaderProfile) UserAgent() string {
	return p.Headers["User-Agent"]
}

// Apply copies the profile onto h. Existing values for the same keys are replaced.
func (p HeaderProfile) Apply(h http.Header) {
	for k, v := range p.Headers {
		h.Set(k, v)
	}
}

// Short is the user agent prefix used in log lines.
func (p HeaderProfile) Short() string {
	ua := p.UserAgent()
	if len(ua) > 50 {
		ua = ua[:50]
	}
	return strings.TrimSpace(ua)
}

// DefaultProfiles returns the fingerprints in the order they are tried. A new
// slice is returned on every call so callers can't mutate a shared table.
// Accept-Encoding is left to the transport so compressed bodies get decoded.
func DefaultProfiles(siteURL string) []HeaderProfile {
	referer := strings.TrimRight(siteURL, "/") + "/"
	origin := strings.TrimRight(siteURL, "/")
	return []HeaderProfile{
		{
			Name: "chrome",
			Headers: map[string]string{
				"Accept":             "application/json, text/plain, */*",
				"Accept-Language":    "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
				"Cache-Control":      "no-cache",
				"Pragma":             "no-cache",
				"Sec-Ch-Ua":          `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
				"Sec-Ch-Ua-Mobile":   "?0",
				"Sec-Ch-Ua-Platform": `"Windows"`,
				"Sec-Fetch-Dest":     "empty",
				"Sec-Fetch-Mode":     "cors",
				"Sec-Fetch-Site":     "same-origin",
				"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"X-Requested-With":   "XMLHttpRequest",
				"Referer":            referer,
				"Origin":             origin,
			},
		},
		{
			Name: "firefox",
			Headers: map[string]string{
				"Accept":           "application/json, text/javascript, */*; q=0.01",
				"Accept-Language":  "ko-KR,ko;q=0.8,en-US;q=0.5,en;q=0.3",
				"X-Requested-With": "XMLHttpRequest",
				"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
				"Referer":          referer,
				"Origin":           origin,
			},
		},
		{
			Name: "edge",
			Headers: map[string]string{
				"Accept":           "application/json, */*",
				"Accept-Language":  "ko-KR,ko;q=0.9,en;q=0.8",
				"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
				"Referer":          referer,
				"X-Requested-With": "XMLHttpRequest",
			},
		},
		{
			Name: "minimal",
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
				"Accept":     "*/*",
				"Referer":    referer,
			},
		},
	}
}

// DetailProfile is the fingerprint used for per-product detail documents.
func DetailProfile(siteURL string) HeaderProfile {
	return HeaderProfile{
		Name: "detail",
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Accept":     "application/json, */*",
			"Referer":    strings.TrimRight(siteURL, "/") + "/",
		},
	}
}
