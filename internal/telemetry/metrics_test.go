package telemetry

import (
	"context"
	"testing"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/stretchr/testify/assert"
)

func TestSetupMetrics_Disabled(t *testing.T) {
	cfg := &config.Config{
		ServiceName:       "cphi-crawler-test",
		TelemetrySettings: &config.TelemetryConfig{Enabled: false},
	}
	m := SetupMetrics(context.Background(), cfg)
	defer m.Close()

	assert.NotPanics(t, func() {
		m.AppMetrics.SuccessfulCrawlCnt(1)
		m.AppMetrics.DetailFailCnt(2)
		m.KafkaConsumerMetrics.FailedReadMsgCnt(1)
		m.KafkaProducerMetrics.SuccessfullySendMsgCnt(1)
	})
}

func TestNoopAppMetrics(t *testing.T) {
	m := NoopAppMetrics()
	assert.NotPanics(t, func() {
		m.SuccessfulCrawlCnt(1)
		m.FailedCrawlCnt(1)
		m.DetailSuccessCnt(1)
		m.DetailFailCnt(1)
		m.CacheHitCnt(1)
		m.FailedProcessedMsgCounter(1)
	})
}
