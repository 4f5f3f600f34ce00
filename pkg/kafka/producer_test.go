package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	return NewHeaderCarrier(&msg.Headers).Get(key)
}

// --- Event tests ---

func TestNewEvent_Fields(t *testing.T) {
	type signedIn struct {
		TenantID string `json:"tenant_id"`
	}

	data := signedIn{TenantID: "tenant-1"}
	event, err := NewEvent("tenant.signed_in", "tenant-1", "tenant", "tenantauth", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "tenant.signed_in", event.EventType)
	assert.Equal(t, "tenant-1", event.AggregateID)
	assert.Equal(t, "tenant", event.AggregateType)
	assert.Equal(t, "tenantauth", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var got signedIn
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("x", "a", "t", "s", make(chan int))
	require.Error(t, err)
}

func TestEvent_Chaining(t *testing.T) {
	event, err := NewEvent("x", "a", "t", "s", nil)
	require.NoError(t, err)
	event.Metadata = nil

	assert.Same(t, event, event.WithCorrelationID("corr-1").WithMetadata("channel", "whatsapp"))
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "whatsapp", event.Metadata["channel"])
}

func TestUnmarshalEvent(t *testing.T) {
	original, err := NewEvent("tenant.signed_in", "tenant-1", "tenant", "tenantauth", map[string]string{"k": "v"})
	require.NoError(t, err)
	raw, err := original.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, original.EventID, restored.EventID)
	assert.JSONEq(t, string(original.Data), string(restored.Data))

	_, err = UnmarshalEvent([]byte("{not json"))
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "tenantauth.tenant.signed_in", Topic("tenant", "signed_in"))
	assert.Equal(t, "tenantauth.whatsapp.otp_requested", Topic("whatsapp", "otp_requested"))
}

// --- Producer tests ---

func TestProducer_Publish(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	w := &fakeWriter{}
	p := newProducer(w, []string{"localhost:9092"}, prometheus.NewRegistry(), nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	event, err := NewEvent("tenant.signed_in", "tenant-1", "tenant", "tenantauth", map[string]string{"tenant_id": "tenant-1"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-9")

	require.NoError(t, p.Publish(ctx, "tenantauth.tenant.signed_in", event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "tenantauth.tenant.signed_in", msg.Topic)
	assert.Equal(t, "tenant-1", string(msg.Key))
	assert.Equal(t, "tenant.signed_in", header(msg, "event_type"))
	assert.Equal(t, "corr-9", header(msg, "correlation_id"))
	assert.Contains(t, header(msg, "traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.published.WithLabelValues("tenantauth.tenant.signed_in")))
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(w, nil, prometheus.NewRegistry(), nil)

	event, err := NewEvent("x", "a", "t", "s", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "topic-a", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to topic-a")
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.failed.WithLabelValues("topic-a")))
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, nil, nil, nil)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer_DoesNotConnect(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), prometheus.NewRegistry(), nil)
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
