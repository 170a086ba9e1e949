package crawler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/IliaW/cphi-crawler/internal/model"
)

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Normalizer turns raw marketplace hits into public results.
type Normalizer struct {
	siteURL string
	source  string
}

func NewNormalizer(siteURL, source string) *Normalizer {
	return &Normalizer{siteURL: strings.TrimRight(siteURL, "/"), source: source}
}

// Filter keeps products and companies, in upstream order.
func Filter(items []model.RawUpstreamItem) []model.RawUpstreamItem {
	filtered := make([]model.RawUpstreamItem, 0, len(items))
	for _, item := range items {
		if kind := model.AsString(item.Type); kind == model.TypeProduct || kind == model.TypeCompany {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Normalize filters items, cuts the offset/limit window and shapes it.
// The second value is the filtered count before the window is applied.
func (n *Normalizer) Normalize(items []model.RawUpstreamItem, offset, limit int) ([]model.EnrichedResult, int) {
	filtered := Filter(items)
	start, end := Window(len(filtered), offset, limit)

	results := make([]model.EnrichedResult, 0, end-start)
	for i := start; i < end; i++ {
		results = append(results, n.shape(filtered[i], i))
	}

	return results, len(filtered)
}

func (n *Normalizer) shape(item model.RawUpstreamItem, position int) model.EnrichedResult {
	id := model.AsString(item.ID)
	if id == "" {
		id = strconv.Itoa(position)
	}
	company := model.AsString(item.Company)
	if company == "" {
		company = model.AsString(item.Supplier)
	}

	return model.EnrichedResult{
		ID:           model.ItemID(id),
		Title:        model.AsString(item.Name),
		Type:         model.AsString(item.Type),
		Score:        model.AsFloat(item.Score),
		URL:          n.DeriveURL(item),
		FilterVal:    model.AsString(item.FilterVal),
		Company:      company,
		Country:      model.AsString(item.Country),
		CompanyTypes: model.AsString(item.CompanyTypes),
		Verified:     model.AsVerified(item.Verified),
		Source:       n.source,
		OriginalLink: model.AsString(item.Link),
		OriginalURL:  model.AsString(item.URL),
	}
}

// DeriveURL prefers the upstream link, then the upstream url, then a slug
// built from the name under the product or company path.
func (n *Normalizer) DeriveURL(item model.RawUpstreamItem) string {
	if link := model.AsString(item.Link); link != "" {
		return n.Absolute(link)
	}
	if u := model.AsString(item.URL); u != "" {
		return n.Absolute(u)
	}
	slug := Slug(model.AsString(item.Name))
	if slug == "" {
		return ""
	}
	return n.siteURL + "/" + model.AsString(item.Type) + "/" + slug + "/"
}

// Absolute resolves a site-relative link against the marketplace host.
func (n *Normalizer) Absolute(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return n.siteURL + link
}

// Slug lower-cases name, strips everything but letters, digits, spaces and
// hyphens, and joins words with single hyphens.
func Slug(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
