package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/cphi-crawler/config"
	"github.com/segmentio/kafka-go"
)

const dlqWriteTimeout = 10 * time.Second

// KafkaDLQClient parks crawl tasks that could not be processed, with the
// reason in the message headers.
type KafkaDLQClient struct {
	serviceName string
	kafkaWriter messageWriter
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	return &KafkaDLQClient{
		serviceName: serviceName,
		kafkaWriter: newWriter(cfg, cfg.DeadLetterTopicName),
	}
}

func (d *KafkaDLQClient) SendToDLQ(key string, value []byte, reason error) {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "service", Value: []byte(d.serviceName)},
			{Key: "failed_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	if reason != nil {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "error", Value: []byte(reason.Error())})
	}

	ctx, cancel := context.WithTimeout(context.Background(), dlqWriteTimeout)
	defer cancel()
	if err := d.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send message to dlq.", slog.String("key", key), slog.String("err", err.Error()))
		return
	}
	slog.Debug("message sent to dlq.", slog.String("key", key))
}

func (d *KafkaDLQClient) Close() {
	if err := d.kafkaWriter.Close(); err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
