package model

import (
	"strconv"
	"time"
)

type CrawlMechanism int

const (
	Curl CrawlMechanism = iota
	HeadlessBrowser
)

func (cm CrawlMechanism) String() string {
	if cm < Curl || cm > HeadlessBrowser {
		return "unknown"
	}
	return [...]string{"curl", "headless browser"}[cm]
}

// CrawlMode selects the budget and limits of one crawl invocation.
type CrawlMode string

const (
	Basic    CrawlMode = "basic"
	Extended CrawlMode = "extended"
)

const (
	TypeProduct = "product"
	TypeCompany = "company"
)

const (
	CompanyFromDetail  = "detail"
	CompanyFromCatalog = "catalog"
)

type SearchQuery struct {
	Text   string `json:"query"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ItemID keeps the upstream id as text and renders numeric ids as JSON numbers.
type ItemID string

func (id ItemID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

func (id *ItemID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	*id = ItemID(b)
	return nil
}

type EnrichedResult struct {
	ID            ItemID  `json:"id"`
	Title         string  `json:"title"`
	Type          string  `json:"type"`
	Score         float64 `json:"score"`
	URL           string  `json:"url"`
	FilterVal     string  `json:"filterVal"`
	Company       string  `json:"company"`
	Country       string  `json:"country"`
	CompanyTypes  string  `json:"companyTypes"`
	Verified      string  `json:"verified"`
	Source        string  `json:"source"`
	OriginalLink  string  `json:"originalLink"`
	OriginalURL   string  `json:"originalUrl"`
	CompanySource string  `json:"companySource,omitempty"`
}

type CrawlOutcome struct {
	Query          string           `json:"query"`
	Mode           CrawlMode        `json:"mode"`
	Results        []EnrichedResult `json:"results"`
	Count          int              `json:"count"`
	TotalAvailable int              `json:"totalAvailable"`
	HasMore        bool             `json:"hasMore"`
	NextOffset     int              `json:"nextOffset"`
	Source         string           `json:"source"`
	ProcessingTime string           `json:"processingTime"`
	Timestamp      time.Time        `json:"timestamp"`
	Success        bool             `json:"success"`
	Cached         bool             `json:"cached"`
	Error          string           `json:"error,omitempty"`
}

// EnrichStats is the aggregate of one enrichment run. Only logged.
type EnrichStats struct {
	TotalSuccess     int     `json:"totalSuccess"`
	TotalAttempts    int     `json:"totalAttempts"`
	SuccessRate      float64 `json:"successRate"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
}

// CrawlTask arrives over Kafka from the web application.
type CrawlTask struct {
	TaskID string    `json:"task_id"`
	Query  string    `json:"query"`
	Mode   CrawlMode `json:"mode"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// OutcomeMessage is published back to Kafka once a task is crawled.
type OutcomeMessage struct {
	TaskID  string        `json:"task_id"`
	Outcome *CrawlOutcome `json:"outcome"`
}

// SupplierInfo is what the local catalog knows about a product's supplier.
type SupplierInfo struct {
	Name         string
	Country      string
	SupplierType string
	Verified     bool
}
