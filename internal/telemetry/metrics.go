package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	SuccessfulCrawlCnt        func(count int64)
	FailedCrawlCnt            func(count int64)
	DetailSuccessCnt          func(count int64)
	DetailFailCnt             func(count int64)
	CacheHitCnt               func(count int64)
	FailedProcessedMsgCounter func(count int64)
}

func noop(int64) {}

// NoopAppMetrics is used by tests and by callers that run without telemetry.
func NoopAppMetrics() *AppMetrics {
	return &AppMetrics{
		SuccessfulCrawlCnt:        noop,
		FailedCrawlCnt:            noop,
		DetailSuccessCnt:          noop,
		DetailFailCnt:             noop,
		CacheHitCnt:               noop,
		FailedProcessedMsgCounter: noop,
	}
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}
	counter := func(name, description, unit string) func(count int64) {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			slog.Error("failed to create telemetry counter.", slog.String("name", name),
				slog.String("err", err.Error()))
			os.Exit(1)
		}
		return func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				c.Add(ctx, count)
			}
		}
	}

	// Set up kafka consumer metrics
	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: counter("cphi-crawler.kafka.read.success",
			"The number of crawl tasks that the kafka consumer successfully read", "{messages}"),
		FailedReadMsgCnt: counter("cphi-crawler.kafka.read.fail",
			"The number of crawl tasks that the kafka consumer could not read", "{messages}"),
	}

	// Set up kafka producer metrics
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: counter("cphi-crawler.kafka.send.success",
			"The number of crawl outcomes successfully sent to kafka", "{messages}"),
		FailedSendMsgCnt: counter("cphi-crawler.kafka.send.fail",
			"The number of crawl outcomes that could not be sent to kafka", "{messages}"),
	}

	// Set up crawl metrics
	metricsProvider.AppMetrics = &AppMetrics{
		SuccessfulCrawlCnt: counter("cphi-crawler.crawl.success",
			"The number of realtime crawls that returned results", "{crawls}"),
		FailedCrawlCnt: counter("cphi-crawler.crawl.fail",
			"The number of realtime crawls where every header profile failed", "{crawls}"),
		DetailSuccessCnt: counter("cphi-crawler.detail.success",
			"The number of product details fetched from the marketplace", "{items}"),
		DetailFailCnt: counter("cphi-crawler.detail.fail",
			"The number of products left unenriched after all detail retries", "{items}"),
		CacheHitCnt: counter("cphi-crawler.cache.hit",
			"The number of crawls served from memcached", "{crawls}"),
		FailedProcessedMsgCounter: counter("cphi-crawler.messages.fail",
			"The number of crawl tasks that could not be processed. Send to DLQ.", "{messages}"),
	}

	// initialize metrics in DataDog for setup UI
	if cfg.TelemetrySettings.Enabled {
		metricsProvider.KafkaProducerMetrics.SuccessfullySendMsgCnt(1)
		metricsProvider.KafkaProducerMetrics.FailedSendMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.SuccessfullyReadMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.FailedReadMsgCnt(1)
		metricsProvider.AppMetrics.SuccessfulCrawlCnt(1)
		metricsProvider.AppMetrics.FailedCrawlCnt(1)
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
