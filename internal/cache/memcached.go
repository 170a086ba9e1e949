package cache

import (
	"errors"
	"log/slog"
	"os"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

const outcomeKeyPrefix = "cphi-outcome-"

type CachedClient interface {
	GetOutcome(string) (*model.CrawlOutcome, bool)
	SaveOutcome(string, *model.CrawlOutcome)
	Close()
}

// store is the part of memcache.Client we use.
type store interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Close() error
}

type MemcachedClient struct {
	client store
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	client := memcache.NewFromSelector(ss)
	slog.Info("pinging the memcached.")
	err = client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return &MemcachedClient{client: client, cfg: cacheConfig}
}

// GetOutcome treats every error as a miss; the crawl just runs again.
func (mc *MemcachedClient) GetOutcome(key string) (*model.CrawlOutcome, bool) {
	item, err := mc.client.Get(outcomeKeyPrefix + key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("failed to read outcome from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return nil, false
	}
	var outcome model.CrawlOutcome
	if err = jsoniter.Unmarshal(item.Value, &outcome); err != nil {
		slog.Warn("broken outcome in cache.", slog.String("key", key), slog.String("err", err.Error()))
		return nil, false
	}
	slog.Debug("outcome found in cache.", slog.String("key", key))

	return &outcome, true
}

// SaveOutcome stores only successful outcomes so an upstream outage is not
// remembered for the whole TTL.
func (mc *MemcachedClient) SaveOutcome(key string, outcome *model.CrawlOutcome) {
	if outcome == nil || !outcome.Success {
		return
	}
	body, err := jsoniter.Marshal(outcome)
	if err != nil {
		slog.Error("marshaling failed.", slog.String("err", err.Error()))
		return
	}
	err = mc.client.Set(&memcache.Item{
		Key:        outcomeKeyPrefix + key,
		Value:      body,
		Expiration: int32(mc.cfg.TtlForOutcome.Seconds()),
	})
	if err != nil {
		slog.Error("failed to save outcome to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("outcome saved to cache.", slog.String("key", key))
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}
