package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
)

const (
	minQueryLength       = 2
	defaultRealtimeLimit = 50
	maxBodyBytes         = 1 << 16
)

type Crawler interface {
	Basic(ctx context.Context, query string) *model.CrawlOutcome
	Extended(ctx context.Context, query string, limit, offset int) *model.CrawlOutcome
}

type realtimeRequest struct {
	Query          string `json:"query"`
	RealtimeLimit  int    `json:"realtimeLimit"`
	RealtimeOffset int    `json:"realtimeOffset"`
	RealtimeOnly   bool   `json:"realtimeOnly"`
}

type pagination struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	NextOffset int  `json:"nextOffset"`
	HasMore    bool `json:"hasMore"`
}

type realtimeResponse struct {
	Query      string              `json:"query"`
	SearchType string              `json:"searchType"`
	Realtime   *model.CrawlOutcome `json:"realtime"`
	Pagination pagination          `json:"pagination"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type SearchHandler struct {
	crawl Crawler
}

func NewSearchHandler(crawl Crawler) *SearchHandler {
	return &SearchHandler{crawl: crawl}
}

func NewRouter(h *SearchHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Post("/api/search/realtime", h.ServeRealtime)
	r.Mount("/debug", middleware.Profiler())

	return r
}

// ServeRealtime runs an extended crawl when realtimeOnly is set and a basic
// one otherwise. A failed crawl is still a 200 with success=false.
func (h *SearchHandler) ServeRealtime(w http.ResponseWriter, r *http.Request) {
	var req realtimeRequest
	if err := jsoniter.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Debug("invalid request body.", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if len(req.Query) < minQueryLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "search query must be at least 2 characters long"})
		return
	}

	var outcome *model.CrawlOutcome
	searchType := string(model.Basic)
	page := pagination{}
	if req.RealtimeOnly {
		searchType = "realtime"
		page.Limit = req.RealtimeLimit
		if page.Limit <= 0 {
			page.Limit = defaultRealtimeLimit
		}
		page.Offset = max(req.RealtimeOffset, 0)
		outcome = h.crawl.Extended(r.Context(), req.Query, page.Limit, page.Offset)
	} else {
		outcome = h.crawl.Basic(r.Context(), req.Query)
		page.Limit = outcome.Count
	}
	page.NextOffset = outcome.NextOffset
	page.HasMore = outcome.HasMore

	writeJSON(w, http.StatusOK, realtimeResponse{
		Query:      req.Query,
		SearchType: searchType,
		Realtime:   outcome,
		Pagination: page,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response.", slog.String("err", err.Error()))
	}
}
