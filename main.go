package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/IliaW/cphi-crawler/internal/aws_s3"
	"github.com/IliaW/cphi-crawler/internal/broker"
	cacheClient "github.com/IliaW/cphi-crawler/internal/cache"
	"github.com/IliaW/cphi-crawler/internal/crawler"
	"github.com/IliaW/cphi-crawler/internal/handler"
	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/persistence"
	"github.com/IliaW/cphi-crawler/internal/telemetry"
	"github.com/IliaW/cphi-crawler/internal/upstream"
	"github.com/IliaW/cphi-crawler/internal/worker"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	deps := crawler.Dependencies{Metrics: metrics.AppMetrics}
	if cfg.DbSettings != nil && cfg.DbSettings.Host != "" {
		db := setupDatabase()
		defer closeDatabase(db)
		deps.Catalog = persistence.NewCatalogRepository(db, cfg.DbSettings.LookupTimeout)
	}
	if cfg.CacheSettings != nil && len(cfg.CacheSettings.Servers) > 0 {
		cache := cacheClient.NewMemcachedClient(cfg.CacheSettings)
		defer cache.Close()
		deps.Cache = cache
	}
	if cfg.S3Settings != nil && cfg.S3Settings.Enabled {
		deps.Archive = aws_s3.NewS3BucketClient(cfg)
	}

	crawlMechanism := model.CrawlMechanism(cfg.CrawlerSettings.CrawlMechanism)
	fetcher := upstream.NewFetcher(crawlMechanism, getHttpTransport())
	crawl := crawler.NewCrawlService(cfg.CrawlerSettings, fetcher, deps)
	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.String("crawl mechanism", crawlMechanism.String()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(handler.NewSearchHandler(crawl)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error.", slog.String("err", err.Error()))
			stop()
		}
	}()

	var shutdownKafka func()
	if cfg.KafkaSettings != nil && cfg.KafkaSettings.Enabled {
		shutdownKafka = runKafkaPipeline(ctx, crawl, metrics)
	}

	// Graceful shutdown.
	// 1. Stop accepting HTTP requests and wait for in-flight crawls.
	// 2. Stop Kafka Consumer. Close taskChan
	// 3. Wait till Workers processed all tasks from taskChan. Close outcomeChan
	// 4. Wait till Producer writes the rest of outcomeChan to Kafka
	// 5. Close database and memcached connections
	<-ctx.Done()
	slog.Info("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.CrawlerSettings.Extended.OverallBudget)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to stop http server.", slog.String("err", err.Error()))
	}
	if shutdownKafka != nil {
		shutdownKafka()
	}
	slog.Info("server stopped.")
}

// runKafkaPipeline starts consumer, workers and producer. The returned func
// blocks until all of them are drained; call it after ctx is done.
func runKafkaPipeline(ctx context.Context, crawl worker.Crawler, metrics *telemetry.MetricsProvider) func() {
	threadNum := parallelWorkers()
	taskChan := make(chan []byte, threadNum*2)
	outcomeChan := make(chan *model.OutcomeMessage, threadNum*2)
	kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	kafkaConsumer := broker.NewKafkaConsumer(taskChan, metrics.KafkaConsumerMetrics,
		cfg.KafkaSettings.Consumer, kafkaWg)
	go kafkaConsumer.Run(ctx)

	workerWg := &sync.WaitGroup{}
	crawlWorker := &worker.CrawlWorker{
		TaskChan:    taskChan,
		OutcomeChan: outcomeChan,
		Crawl:       crawl,
		KafkaDLQ:    kafkaDLQ,
		Metrics:     metrics.AppMetrics,
		Wg:          workerWg,
	}
	for i := 0; i < threadNum; i++ {
		workerWg.Add(1)
		go crawlWorker.Run()
	}

	kafkaWg.Add(1)
	kafkaProducer := broker.NewKafkaProducer(outcomeChan, metrics.KafkaProducerMetrics,
		cfg.KafkaSettings.Producer, kafkaWg)
	go kafkaProducer.Run()

	return func() {
		workerWg.Wait()
		close(outcomeChan)
		slog.Info("close outcomeChan.")
		kafkaWg.Wait()
		kafkaDLQ.Close()
	}
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase(db *sql.DB) {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}

func getHttpTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}
}
