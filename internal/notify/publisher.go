// Package notify publishes report lifecycle events to Kafka for downstream
// consumers (dashboard refresh, alerting). Publishing is best-effort: the
// queue row, not Kafka, is the source of truth for processing state.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ReportGenerated is the payload published after a report is persisted.
type ReportGenerated struct {
	DeliveryID string    `json:"delivery_id"`
	Kind       string    `json:"kind"`
	ObjectID   int64     `json:"object_id"`
	AthleteID  int64     `json:"athlete_id"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// Publisher writes report events to a single topic. A nil Publisher is
// valid and publishes nothing, so callers need no broker-configured branch.
type Publisher struct {
	writer messageWriter
	logger *log.Logger
}

// NewPublisher constructs a Publisher, or nil when no brokers are configured.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
		logger: log.New(log.Writer(), "[notify] ", log.LstdFlags),
	}
}

// ReportGenerated publishes one event keyed by object id so per-object
// ordering survives partitioning. Failures are logged and counted, never
// propagated: losing a notification must not fail the queue event.
func (p *Publisher) ReportGenerated(ctx context.Context, event ReportGenerated) {
	if p == nil {
		return
	}
	if event.DeliveryID == "" {
		event.DeliveryID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Printf("failed to encode report event: %v", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.Kind + ":" + strconv.FormatInt(event.ObjectID, 10)),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		publishFailedCounter.Inc()
		p.logger.Printf("failed to publish report event (kind=%s, object=%d): %v", event.Kind, event.ObjectID, err)
		return
	}
	publishedCounter.Inc()
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if w, ok := p.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
