package crawler

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const site = "https://www.cphi-online.com"

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Aspirin":                          "aspirin",
		"  Acetylsalicylic Acid (USP)  ":   "acetylsalicylic-acid-usp",
		"Vitamin B12 -- Cyanocobalamin":    "vitamin-b12-cyanocobalamin",
		"-Leading/Trailing-":               "leadingtrailing",
		"Ibuprofen\t\tSodium\nSalt":        "ibuprofen-sodium-salt",
		"Ästhetik GmbH & Co. KG":           "sthetik-gmbh-co-kg",
		"!!!":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestDeriveURL_Precedence(t *testing.T) {
	n := NewNormalizer(site+"/", "CPHI Online")

	link := model.RawUpstreamItem{Name: "Aspirin Tablets", Type: "product", Link: "/products/aspirin-12345.html",
		URL: "/other/ignored"}
	assert.Equal(t, site+"/products/aspirin-12345.html", n.DeriveURL(link))

	absoluteLink := model.RawUpstreamItem{Name: "Aspirin", Type: "product", Link: "https://cdn.example.com/p/1"}
	assert.Equal(t, "https://cdn.example.com/p/1", n.DeriveURL(absoluteLink))

	urlOnly := model.RawUpstreamItem{Name: "Aspirin", Type: "company", URL: "companies/acme"}
	assert.Equal(t, site+"/companies/acme", n.DeriveURL(urlOnly))

	product := model.RawUpstreamItem{Name: "Aspirin Tablets", Type: "product"}
	assert.Equal(t, site+"/product/aspirin-tablets/", n.DeriveURL(product))

	company := model.RawUpstreamItem{Name: "Acme Pharma Ltd.", Type: "company"}
	assert.Equal(t, site+"/company/acme-pharma-ltd/", n.DeriveURL(company))

	assert.Equal(t, "", n.DeriveURL(model.RawUpstreamItem{Type: "product"}))
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(site, "CPHI Online")
	raw := []model.RawUpstreamItem{
		{ID: float64(1), Name: "Aspirin", Type: "product", Score: 2.5, Link: "/p/1", Supplier: "Acme",
			Verified: true, FilterVal: "api"},
		{ID: "x", Name: "Article about aspirin", Type: "article"},
		{ID: float64(2), Name: "Acme", Type: "company", Country: "India", CompanyTypes: []any{"Manufacturer"}},
		{Name: "No id", Type: "product"},
		{ID: float64(3), Name: "Event", Type: "event"},
	}

	results, total := n.Normalize(raw, 0, 10)
	require.Len(t, results, 3)
	assert.Equal(t, 3, total)

	assert.Equal(t, model.ItemID("1"), results[0].ID)
	assert.Equal(t, "Aspirin", results[0].Title)
	assert.Equal(t, 2.5, results[0].Score)
	assert.Equal(t, site+"/p/1", results[0].URL)
	assert.Equal(t, "/p/1", results[0].OriginalLink)
	assert.Equal(t, "Acme", results[0].Company)
	assert.Equal(t, "true", results[0].Verified)
	assert.Equal(t, "api", results[0].FilterVal)
	assert.Equal(t, "CPHI Online", results[0].Source)

	assert.Equal(t, "company", results[1].Type)
	assert.Equal(t, "Manufacturer", results[1].CompanyTypes)
	assert.Equal(t, "false", results[1].Verified)

	// position in the filtered list stands in for a missing id
	assert.Equal(t, model.ItemID("2"), results[2].ID)

	for _, r := range results {
		assert.Contains(t, []string{model.TypeProduct, model.TypeCompany}, r.Type)
	}
}

func TestNormalize_LooselyTypedFields(t *testing.T) {
	n := NewNormalizer(site, "CPHI Online")
	raw := []model.RawUpstreamItem{
		{ID: float64(2), Type: "company", Name: "Acme", Country: map[string]any{"code": "KR"}},
		{ID: float64(3), Type: "product", Name: float64(42), Link: []any{"a"}, Supplier: "Beta",
			Company: map[string]any{"name": "x"}},
		{ID: float64(4), Type: map[string]any{"kind": "product"}, Name: "Odd"},
	}

	results, total := n.Normalize(raw, 0, 10)
	require.Len(t, results, 2)
	assert.Equal(t, 2, total)

	assert.Equal(t, "Acme", results[0].Title)
	assert.Empty(t, results[0].Country)
	assert.Equal(t, site+"/company/acme/", results[0].URL)

	assert.Equal(t, "42", results[1].Title)
	assert.Equal(t, "Beta", results[1].Company)
	assert.Equal(t, site+"/a", results[1].URL)
}

func TestNormalize_Window(t *testing.T) {
	n := NewNormalizer(site, "CPHI Online")
	raw := make([]model.RawUpstreamItem, 0, 50)
	for i := 0; i < 50; i++ {
		kind := "product"
		if i%5 == 0 {
			kind = "news"
		}
		raw = append(raw, model.RawUpstreamItem{ID: float64(i), Name: "item", Type: kind})
	}

	results, total := n.Normalize(raw, 30, 20)
	assert.Equal(t, 40, total)
	require.Len(t, results, 10)
	assert.Equal(t, model.ItemID("38"), results[0].ID)

	results, _ = n.Normalize(raw, 100, 20)
	assert.Empty(t, results)

	results, total = n.Normalize(raw[:3], 1, math.MaxInt)
	assert.Equal(t, 2, total)
	require.Len(t, results, 1)
	assert.Equal(t, model.ItemID("2"), results[0].ID)
}

func TestItemIDJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A model.ItemID `json:"a"`
		B model.ItemID `json:"b"`
	}{A: "123", B: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":123,"b":"abc"}`, string(b))
}
