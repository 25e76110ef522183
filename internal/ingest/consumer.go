// Package ingest consumes signals from a Kafka topic and feeds them to
// the alerting engine. The HTTP signal endpoint is the other ingress;
// both converge on engine.Ingest.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/klaxon/internal/engine"
	"github.com/linnemanlabs/klaxon/internal/signal"
)

// readRetryDelay spaces retries after a broker read error.
const readRetryDelay = 500 * time.Millisecond

// Consumer pulls signal events off Kafka and ingests them.
type Consumer struct {
	reader *kafka.Reader
	svc    *engine.Service
	logger log.Logger
}

// NewReader builds a consumer-group reader for the signals topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
}

// New creates a Consumer. The engine service is required; logger may be
// nil.
func New(reader *kafka.Reader, svc *engine.Service, logger log.Logger) *Consumer {
	if svc == nil {
		panic("ingest: nil engine service")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{reader: reader, svc: svc, logger: logger}
}

// Run consumes until ctx is cancelled. Malformed or invalid messages
// are logged and skipped; they are never redelivered. Store errors do
// not stop the loop either, the message is dropped after logging so a
// poisoned partition cannot wedge the group.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.logger.Error(ctx, err, "kafka read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}

		var sig signal.Signal
		if err := json.Unmarshal(msg.Value, &sig); err != nil {
			c.logger.Warn(ctx, "dropping undecodable signal message",
				"error", err.Error(), "offset", msg.Offset, "partition", msg.Partition)
			continue
		}
		if sig.ObservedAt.IsZero() {
			sig.ObservedAt = msg.Time
		}

		res, err := c.svc.Ingest(ctx, &sig)
		if err != nil {
			var verr *signal.ValidationError
			if errors.As(err, &verr) {
				c.logger.Warn(ctx, "dropping invalid signal",
					"field", verr.Field, "reason", verr.Reason,
					"source", sig.SourceType, "subject", sig.SubjectID)
				continue
			}
			c.logger.Error(ctx, err, "signal ingest failed",
				"source", sig.SourceType, "subject", sig.SubjectID)
			continue
		}
		if res.NoOp {
			continue
		}
		c.logger.Info(ctx, "signal consumed",
			"alert_id", res.AlertID, "created", res.Created, "severity", res.Severity)
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
