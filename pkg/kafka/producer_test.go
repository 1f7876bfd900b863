package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/utafrali/ordersaga/pkg/logger"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	return headerCarrier{headers: &msg.Headers}.Get(key)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "ecommerce.order.created", Topic("order", "created"))
	assert.Equal(t, "ecommerce.order.status_changed", Topic("order", "status_changed"))
}

func TestNewEvent_Fields(t *testing.T) {
	event, err := NewEvent("order.created", "ord-123", "order", "order-service", map[string]int64{"total": 2700})
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var payload map[string]int64
	require.NoError(t, event.UnmarshalData(&payload))
	assert.Equal(t, int64(2700), payload["total"])
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"current version", `{"event_id":"e1","event_type":"order.created","version":1,"data":{}}`, ""},
		{"newer version", `{"event_id":"e2","event_type":"order.created","version":2,"data":{}}`, "unsupported envelope version 2"},
		{"not json", `order created`, "decode event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "e1", event.EventID)
		})
	}
}

func TestEvent_UnmarshalDataError(t *testing.T) {
	event, err := NewEvent("order.cancelled", "ord-1", "order", "order-service", "just a string")
	require.NoError(t, err)

	var payload map[string]any
	err = event.UnmarshalData(&payload)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.cancelled")
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("test.event", "agg-1", "test", "svc", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test.event")
}

func TestProducer_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, []string{"localhost:9092"}, quietLogger())

	topic := "test.publish.ok"
	before := testutil.ToFloat64(messagesTotal.WithLabelValues(topic, "order.created", outcomeOK))

	event, err := NewEvent("order.created", "ord-1", "order", "order-service", map[string]string{"a": "b"})
	require.NoError(t, err)

	ctx := logger.WithCorrelationID(context.Background(), "corr-7")
	require.NoError(t, p.Publish(ctx, topic, event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, topic, msg.Topic)
	assert.Equal(t, "ord-1", string(msg.Key))
	assert.Equal(t, "order.created", header(msg, HeaderEventType))
	assert.Equal(t, "order-service", header(msg, HeaderSource))
	assert.Equal(t, "corr-7", header(msg, HeaderCorrelationID))

	decoded, err := DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "corr-7", decoded.CorrelationID)
	assert.Equal(t, event.EventID, decoded.EventID)

	assert.InDelta(t, before+1, testutil.ToFloat64(messagesTotal.WithLabelValues(topic, "order.created", outcomeOK)), 0.001)
}

func TestProducer_Publish_KeepsExplicitCorrelationID(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, nil, quietLogger())

	event, err := NewEvent("order.cancelled", "ord-1", "order", "order-service", nil)
	require.NoError(t, err)
	event.CorrelationID = "explicit"

	ctx := logger.WithCorrelationID(context.Background(), "from-ctx")
	require.NoError(t, p.Publish(ctx, "test.publish.explicit", event))
	assert.Equal(t, "explicit", header(w.msgs[0], "correlation_id"))
}

func TestProducer_Publish_InjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	w := &recordingWriter{}
	p := NewProducerWithWriter(w, nil, quietLogger())
	event, err := NewEvent("order.created", "ord-1", "order", "order-service", nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, "test.publish.trace", event))

	traceparent := header(w.msgs[0], "traceparent")
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}

func TestProducer_Publish_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, nil, quietLogger())

	topic := "test.publish.fail"
	before := testutil.ToFloat64(messagesTotal.WithLabelValues(topic, "order.created", outcomeError))

	event, err := NewEvent("order.created", "ord-1", "order", "order-service", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), topic, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), topic)
	assert.InDelta(t, before+1, testutil.ToFloat64(messagesTotal.WithLabelValues(topic, "order.created", outcomeError)), 0.001)
}

func TestHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "existing", Value: []byte("v1")}}
	c := headerCarrier{headers: &headers}

	assert.Equal(t, "v1", c.Get("existing"))
	assert.Empty(t, c.Get("missing"))

	c.Set("existing", "v2")
	c.Set("new", "v3")
	assert.Equal(t, "v2", c.Get("existing"))
	assert.ElementsMatch(t, []string{"existing", "new"}, c.Keys())
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"broker1:9092"})
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.False(t, cfg.Async)
}

func TestNewProducer_ClosesWithoutBroker(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), nil)
	require.NotNil(t, p)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}

func TestPingBrokers_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := PingBrokers(ctx, []string{"127.0.0.1:1", "127.0.0.1:2"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all brokers unreachable")
}
