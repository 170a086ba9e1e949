package model

import (
	"strconv"
	"strings"
)

// RawUpstreamItem is one hit of the marketplace search. Every field is optional
// and may change type between deployments of the marketplace, so all of them
// are decoded loosely and flattened with AsString.
type RawUpstreamItem struct {
	ID           any `json:"id"`
	Name         any `json:"name"`
	Type         any `json:"type"`
	Link         any `json:"link"`
	URL          any `json:"url"`
	Score        any `json:"score"`
	FilterVal    any `json:"filterVal"`
	Company      any `json:"company"`
	Supplier     any `json:"supplier"`
	Country      any `json:"country"`
	CompanyTypes any `json:"companyTypes"`
	Verified     any `json:"verified"`
}

type RawPage struct {
	Results []RawUpstreamItem `json:"results"`
}

// DetailPayload is the per-product document. The marketplace wraps it in
// "result" on some versions and serves it flat on others.
type DetailPayload struct {
	Supplier     any `json:"supplier"`
	CompanyName  any `json:"companyname"`
	Country      any `json:"country"`
	CompanyTypes any `json:"companyTypes"`
	Verified     any `json:"verified"`
	Link         any `json:"link"`
}

type DetailEnvelope struct {
	Result *DetailPayload `json:"result"`
	DetailPayload
}

func (e DetailEnvelope) Payload() DetailPayload {
	if e.Result != nil {
		return *e.Result
	}
	return e.DetailPayload
}

// AsString flattens loosely typed JSON values to text.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := AsString(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func AsFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AsVerified maps the marketplace flag to "true"/"false".
func AsVerified(v any) string {
	switch strings.ToLower(AsString(v)) {
	case "true", "1", "yes", "y":
		return "true"
	default:
		return "false"
	}
}
