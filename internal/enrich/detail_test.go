package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxConcurrent int) *config.EnrichConfig {
	return &config.EnrichConfig{
		MaxConcurrent:  maxConcurrent,
		ItemStagger:    time.Millisecond,
		ChunkDelay:     2 * time.Millisecond,
		DetailTimeout:  time.Second,
		DetailAttempts: 3,
		BackoffBase:    time.Millisecond,
	}
}

func absolute(base string) func(string) string {
	return func(link string) string {
		if strings.HasPrefix(link, "http") {
			return link
		}
		return base + link
	}
}

func products(ids ...string) []model.EnrichedResult {
	items := make([]model.EnrichedResult, 0, len(ids))
	for _, id := range ids {
		items = append(items, model.EnrichedResult{
			ID:       model.ItemID(id),
			Title:    "product " + id,
			Type:     model.TypeProduct,
			URL:      "https://www.cphi-online.com/product/product-" + id + "/",
			Verified: "false",
		})
	}
	return items
}

func pointers(items []model.EnrichedResult) []*model.EnrichedResult {
	ptrs := make([]*model.EnrichedResult, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	return ptrs
}

// detailServer serves /46/product/../searchN_46.json; fail decides how many
// leading attempts for an id get a 503.
func detailServer(t *testing.T, fail func(id string) int) (*httptest.Server, *sync.Map) {
	t.Helper()
	calls := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		id := strings.TrimSuffix(strings.TrimPrefix(name, "search"), "_46.json")
		counter, _ := calls.LoadOrStore(id, new(atomic.Int32))
		n := counter.(*atomic.Int32).Add(1)
		if int(n) <= fail(id) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"result":{"supplier":"Supplier %s","country":"India","companyTypes":"Manufacturer",`+
			`"verified":"true","link":"/products/%s-detail"}}`, id, id)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func callCount(calls *sync.Map, id string) int {
	v, ok := calls.Load(id)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

func TestEnrich_AllSucceed(t *testing.T) {
	srv, _ := detailServer(t, func(string) int { return 0 })
	client := upstream.NewDetailClient(upstream.NewCollyFetcher(nil), srv.URL, "46", "21")
	e := NewEngine(client, fastConfig(3), absolute(srv.URL), 0)

	items := products("101", "102", "103", "104", "105")
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 5, stats.TotalSuccess)
	assert.Equal(t, 5, stats.TotalAttempts)
	assert.Equal(t, 100.0, stats.SuccessRate)
	for _, item := range items {
		assert.Equal(t, "Supplier "+string(item.ID), item.Company)
		assert.Equal(t, "India", item.Country)
		assert.Equal(t, "Manufacturer", item.CompanyTypes)
		assert.Equal(t, "true", item.Verified)
		assert.Equal(t, model.CompanyFromDetail, item.CompanySource)
		assert.Equal(t, srv.URL+"/products/"+string(item.ID)+"-detail", item.URL)
	}
}

func TestEnrich_FailedItemDegrades(t *testing.T) {
	srv, calls := detailServer(t, func(id string) int {
		if id == "202" {
			return 100
		}
		return 0
	})
	client := upstream.NewDetailClient(upstream.NewCollyFetcher(nil), srv.URL, "46", "21")
	e := NewEngine(client, fastConfig(3), absolute(srv.URL), 0)

	items := products("201", "202", "203")
	slugURL := items[1].URL
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 2, stats.TotalSuccess)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, "", items[1].Company)
	assert.Equal(t, "", items[1].Country)
	assert.Equal(t, "", items[1].CompanySource)
	assert.Equal(t, slugURL, items[1].URL)
	assert.Equal(t, 3, callCount(calls, "202"))
	assert.Equal(t, "Supplier 201", items[0].Company)
	assert.Equal(t, "Supplier 203", items[2].Company)
}

func TestEnrich_SucceedsOnThirdAttempt(t *testing.T) {
	srv, calls := detailServer(t, func(id string) int { return 2 })
	client := upstream.NewDetailClient(upstream.NewCollyFetcher(nil), srv.URL, "46", "21")
	e := NewEngine(client, fastConfig(3), absolute(srv.URL), 0)

	items := products("301")
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 1, stats.TotalSuccess)
	assert.Equal(t, "Supplier 301", items[0].Company)
	assert.Equal(t, 3, callCount(calls, "301"))
}

func TestEnrich_SkipsCompanies(t *testing.T) {
	srv, calls := detailServer(t, func(string) int { return 0 })
	client := upstream.NewDetailClient(upstream.NewCollyFetcher(nil), srv.URL, "46", "21")
	e := NewEngine(client, fastConfig(3), absolute(srv.URL), 0)

	items := products("401", "402")
	items[1].Type = model.TypeCompany
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 0, callCount(calls, "402"))
	assert.Empty(t, items[1].Company)
}

type fakeDetails struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
	delay       time.Duration
	err         error
}

func (f *fakeDetails) Attempt(ctx context.Context, id model.ItemID, _ time.Duration) (*model.DetailPayload, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return &model.DetailPayload{CompanyName: "Company " + string(id)}, nil
}

func TestEnrich_BoundsConcurrency(t *testing.T) {
	fake := &fakeDetails{delay: 20 * time.Millisecond}
	cfg := fastConfig(3)
	cfg.ItemStagger = 0
	e := NewEngine(fake, cfg, absolute(""), 0)

	items := products("1", "2", "3", "4", "5", "6", "7")
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 7, stats.TotalSuccess)
	assert.LessOrEqual(t, int(fake.maxInFlight.Load()), 3)
	assert.Equal(t, "Company 7", items[6].Company)
}

func TestEnrich_InvalidIDIsNotRetried(t *testing.T) {
	fake := &fakeDetails{err: upstream.ErrInvalidItemID}
	e := NewEngine(fake, fastConfig(3), absolute(""), 0)

	items := products("1234567")
	stats := e.Enrich(context.Background(), pointers(items), 3)

	assert.Equal(t, 0, stats.TotalSuccess)
	assert.Equal(t, int32(1), fake.calls.Load())
	assert.Empty(t, items[0].Company)
}

func TestEnrich_MemoSkipsNetwork(t *testing.T) {
	fake := &fakeDetails{}
	e := NewEngine(fake, fastConfig(3), absolute(""), time.Minute)

	first := products("11", "12")
	e.Enrich(context.Background(), pointers(first), 3)
	second := products("11", "12")
	stats := e.Enrich(context.Background(), pointers(second), 3)

	assert.Equal(t, 2, stats.TotalSuccess)
	assert.Equal(t, int32(2), fake.calls.Load())
	assert.Equal(t, "Company 11", second[0].Company)
}

func TestEnrich_CancelledContext(t *testing.T) {
	fake := &fakeDetails{err: errors.New("unreachable")}
	e := NewEngine(fake, fastConfig(2), absolute(""), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := products("1", "2", "3")
	stats := e.Enrich(ctx, pointers(items), 2)

	assert.Equal(t, 0, stats.TotalSuccess)
	assert.Equal(t, 0, stats.TotalAttempts)
}

// timedDetails records when each id was fetched.
type timedDetails struct {
	mu     sync.Mutex
	starts map[model.ItemID]time.Time
	ends   map[model.ItemID]time.Time
	delay  time.Duration
	fail   map[model.ItemID]bool
}

func newTimedDetails(delay time.Duration) *timedDetails {
	return &timedDetails{
		starts: map[model.ItemID]time.Time{},
		ends:   map[model.ItemID]time.Time{},
		delay:  delay,
		fail:   map[model.ItemID]bool{},
	}
}

func (f *timedDetails) Attempt(_ context.Context, id model.ItemID, _ time.Duration) (*model.DetailPayload, error) {
	f.mu.Lock()
	f.starts[id] = time.Now()
	f.mu.Unlock()
	time.Sleep(f.delay)
	f.mu.Lock()
	f.ends[id] = time.Now()
	f.mu.Unlock()
	if f.fail[id] {
		return nil, upstream.ErrInvalidItemID
	}
	return &model.DetailPayload{CompanyName: "Company " + string(id)}, nil
}

func TestEnrich_StaggerAndChunkPacing(t *testing.T) {
	const (
		stagger    = 20 * time.Millisecond
		chunkDelay = 50 * time.Millisecond
	)
	fake := newTimedDetails(5 * time.Millisecond)
	cfg := fastConfig(3)
	cfg.ItemStagger = stagger
	cfg.ChunkDelay = chunkDelay
	e := NewEngine(fake, cfg, absolute(""), 0)

	items := products("1", "2", "3", "4", "5")
	begin := time.Now()
	stats := e.Enrich(context.Background(), pointers(items), 3)
	finished := time.Now()
	require.Equal(t, 5, stats.TotalSuccess)

	first := []model.ItemID{"1", "2", "3"}
	second := []model.ItemID{"4", "5"}
	for i, id := range first {
		assert.GreaterOrEqual(t, fake.starts[id].Sub(fake.starts[first[0]]), time.Duration(i)*stagger, string(id))
	}
	for i, id := range second {
		assert.GreaterOrEqual(t, fake.starts[id].Sub(fake.starts[second[0]]), time.Duration(i)*stagger, string(id))
	}

	var firstDone time.Time
	for _, id := range first {
		if fake.ends[id].After(firstDone) {
			firstDone = fake.ends[id]
		}
	}
	for _, id := range second {
		assert.GreaterOrEqual(t, fake.starts[id].Sub(firstDone), chunkDelay, string(id))
	}

	lastDone := fake.ends["5"]
	if fake.ends["4"].After(lastDone) {
		lastDone = fake.ends["4"]
	}
	assert.Less(t, finished.Sub(lastDone), chunkDelay, "no delay after the last chunk")
	assert.GreaterOrEqual(t, finished.Sub(begin), 2*stagger+chunkDelay)
}

func TestRunChunk_FailuresDoNotDropOtherItems(t *testing.T) {
	fake := newTimedDetails(time.Millisecond)
	fake.fail["2"] = true
	cfg := fastConfig(3)
	cfg.ItemStagger = 0
	e := NewEngine(fake, cfg, absolute(""), 0)

	items := products("1", "2", "3")
	succeeded := e.runChunk(context.Background(), pointers(items))

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, "Company 1", items[0].Company)
	assert.Empty(t, items[1].Company)
	assert.Equal(t, "Company 3", items[2].Company)
	assert.Len(t, fake.starts, 3)
}

func TestChunk(t *testing.T) {
	items := pointers(products("1", "2", "3", "4", "5", "6", "7"))
	chunks := chunk(items, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[2], 1)
	assert.Equal(t, model.ItemID("7"), chunks[2][0].ID)
	assert.Empty(t, chunk(nil, 3))
}
