package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type stubWriter struct {
	messages []kafka.Message
	err      error
}

func (s *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msgs...)
	return nil
}

func TestReportGeneratedPublishesKeyedMessage(t *testing.T) {
	writer := &stubWriter{}
	p := &Publisher{writer: writer, logger: testLogger()}

	created := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	p.ReportGenerated(context.Background(), ReportGenerated{
		Kind:      "ride",
		ObjectID:  111,
		AthleteID: 42,
		Model:     "test-model",
		CreatedAt: created,
	})

	require.Len(t, writer.messages, 1)
	require.Equal(t, "ride:111", string(writer.messages[0].Key))

	var payload ReportGenerated
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &payload))
	require.Equal(t, int64(111), payload.ObjectID)
	require.Equal(t, int64(42), payload.AthleteID)
	require.NotEmpty(t, payload.DeliveryID)
}

func TestReportGeneratedSwallowsWriteFailure(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker down")}
	p := &Publisher{writer: writer, logger: testLogger()}

	// Must not panic or propagate; losing a notification is acceptable.
	p.ReportGenerated(context.Background(), ReportGenerated{Kind: "ride", ObjectID: 111})
	require.Empty(t, writer.messages)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.ReportGenerated(context.Background(), ReportGenerated{Kind: "ride", ObjectID: 111})
	require.NoError(t, p.Close())
}

func TestNewPublisherWithoutBrokers(t *testing.T) {
	require.Nil(t, NewPublisher(nil, "report_events"))
	require.NotNil(t, NewPublisher([]string{"localhost:9092"}, "report_events"))
}
