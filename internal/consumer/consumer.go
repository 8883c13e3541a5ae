// Package consumer subscribes to the plant sensor topic and feeds decoded
// readings into the pipeline through a bounded channel. The transport
// callback side only enqueues; reconnection and backoff belong to the
// kafka reader.
package consumer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"silicamon/internal/config"
	"silicamon/internal/logger"
	"silicamon/internal/metrics"
	"silicamon/internal/models"
)

// Consumer reads sensor messages from the bus.
type Consumer struct {
	reader *kafka.Reader
	out    chan<- *models.SensorReading

	consumed atomic.Uint64
	dropped  atomic.Uint64
}

// Stats holds consumer counters.
type Stats struct {
	Consumed uint64 `json:"consumed"`
	Dropped  uint64 `json:"dropped"`
}

// New creates a consumer feeding the given channel.
func New(cfg config.KafkaConfig, out chan<- *models.SensorReading) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})

	log := logger.WithComponent("consumer")
	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Msg("kafka consumer initialized")

	return &Consumer{reader: reader, out: out}
}

// Run consumes until the context is cancelled. Malformed payloads are logged
// and dropped; transport errors are retried by the reader and never fatal.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("consumer")
	log.Info().Msg("consumer started")
	defer log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil // reader closed
			}
			log.Error().Err(err).Msg("read failed, retrying")
			continue
		}

		reading, err := models.DecodeReading(msg.Value, time.Now())
		if err != nil {
			c.dropped.Add(1)
			reason := "decode"
			var missing *models.MissingFeatureError
			if errors.As(err, &missing) {
				reason = "validation"
			}
			metrics.ReadingsDroppedTotal.WithLabelValues(reason).Inc()
			log.Warn().Err(err).Int("bytes", len(msg.Value)).Msg("dropping malformed message")
			continue
		}

		// Bounded hand-off: channel capacity is the backpressure.
		select {
		case c.out <- reading:
			c.consumed.Add(1)
			metrics.ReadingsConsumedTotal.Inc()
			metrics.IngestQueueSize.Set(float64(len(c.out)))
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Consumed: c.consumed.Load(),
		Dropped:  c.dropped.Load(),
	}
}
