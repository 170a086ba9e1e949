package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Port               string            `mapstructure:"port"`
	Version            string            `mapstructure:"version"`
	WorkerSettings     *WorkerConfig     `mapstructure:"worker"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	DbSettings         *DatabaseConfig   `mapstructure:"database"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	S3Settings         *S3Config         `mapstructure:"s3"`
	CrawlerSettings    *CrawlerConfig    `mapstructure:"crawler"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
}

type WorkerConfig struct {
	WorkersNum int `mapstructure:"workers_num"`
}

type CacheConfig struct {
	Servers       []string      `mapstructure:"servers"`
	TtlForOutcome time.Duration `mapstructure:"ttl_for_outcome"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

// CrawlerConfig describes the marketplace and how hard we are allowed to hit it.
type CrawlerConfig struct {
	SiteURL        string        `mapstructure:"site_url"`
	SiteID         string        `mapstructure:"site_id"`
	SearchPath     string        `mapstructure:"search_path"`
	DetailVersion  string        `mapstructure:"detail_version"`
	SourceLabel    string        `mapstructure:"source_label"`
	CrawlMechanism int           `mapstructure:"crawl_mechanism"`
	HeaderCooldown time.Duration `mapstructure:"header_cooldown"`
	DetailCacheTtl time.Duration `mapstructure:"detail_cache_ttl"`
	Basic          *ModeConfig   `mapstructure:"basic"`
	Extended       *ModeConfig   `mapstructure:"extended"`
	Enrichment     *EnrichConfig `mapstructure:"enrichment"`
}

type ModeConfig struct {
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout"`
	OverallBudget      time.Duration `mapstructure:"overall_budget"`
	Limit              int           `mapstructure:"limit"`
	EnrichCap          int           `mapstructure:"enrich_cap"`
	EnrichmentDeadline time.Duration `mapstructure:"enrichment_deadline"`
}

type EnrichConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	ItemStagger    time.Duration `mapstructure:"item_stagger"`
	ChunkDelay     time.Duration `mapstructure:"chunk_delay"`
	DetailTimeout  time.Duration `mapstructure:"detail_timeout"`
	DetailAttempts int           `mapstructure:"detail_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

// DefaultCrawlerConfig returns the pacing the marketplace tolerates in production.
func DefaultCrawlerConfig() *CrawlerConfig {
	return &CrawlerConfig{
		SiteURL:        "https://www.cphi-online.com",
		SiteID:         "46",
		SearchPath:     "/live/search/search46json.jsp",
		DetailVersion:  "21",
		SourceLabel:    "CPHI Online",
		HeaderCooldown: time.Second,
		DetailCacheTtl: 6 * time.Hour,
		Basic: &ModeConfig{
			AttemptTimeout:     8 * time.Second,
			OverallBudget:      10 * time.Second,
			Limit:              30,
			EnrichCap:          20,
			EnrichmentDeadline: 10 * time.Second,
		},
		Extended: &ModeConfig{
			AttemptTimeout:     10 * time.Second,
			OverallBudget:      30 * time.Second,
			Limit:              300,
			EnrichCap:          50,
			EnrichmentDeadline: 30 * time.Second,
		},
		Enrichment: &EnrichConfig{
			MaxConcurrent:  3,
			ItemStagger:    200 * time.Millisecond,
			ChunkDelay:     1200 * time.Millisecond,
			DetailTimeout:  6 * time.Second,
			DetailAttempts: 3,
			BackoffBase:    time.Second,
		},
	}
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.AutomaticEnv()
	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults() {
	d := DefaultCrawlerConfig()
	viper.SetDefault("crawler.site_url", d.SiteURL)
	viper.SetDefault("crawler.site_id", d.SiteID)
	viper.SetDefault("crawler.search_path", d.SearchPath)
	viper.SetDefault("crawler.detail_version", d.DetailVersion)
	viper.SetDefault("crawler.source_label", d.SourceLabel)
	viper.SetDefault("crawler.header_cooldown", d.HeaderCooldown)
	viper.SetDefault("crawler.detail_cache_ttl", d.DetailCacheTtl)
	for name, m := range map[string]*ModeConfig{"basic": d.Basic, "extended": d.Extended} {
		viper.SetDefault("crawler."+name+".attempt_timeout", m.AttemptTimeout)
		viper.SetDefault("crawler."+name+".overall_budget", m.OverallBudget)
		viper.SetDefault("crawler."+name+".limit", m.Limit)
		viper.SetDefault("crawler."+name+".enrich_cap", m.EnrichCap)
		viper.SetDefault("crawler."+name+".enrichment_deadline", m.EnrichmentDeadline)
	}
	viper.SetDefault("crawler.enrichment.max_concurrent", d.Enrichment.MaxConcurrent)
	viper.SetDefault("crawler.enrichment.item_stagger", d.Enrichment.ItemStagger)
	viper.SetDefault("crawler.enrichment.chunk_delay", d.Enrichment.ChunkDelay)
	viper.SetDefault("crawler.enrichment.detail_timeout", d.Enrichment.DetailTimeout)
	viper.SetDefault("crawler.enrichment.detail_attempts", d.Enrichment.DetailAttempts)
	viper.SetDefault("crawler.enrichment.backoff_base", d.Enrichment.BackoffBase)
	viper.SetDefault("database.lookup_timeout", 2*time.Second)
	viper.SetDefault("cache.ttl_for_outcome", 10*time.Minute)
}
