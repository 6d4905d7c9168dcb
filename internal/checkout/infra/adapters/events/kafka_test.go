package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
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

func paidEvent() domain.Event {
	return domain.Event{
		EventID:   "evt-1",
		OrderID:   "ord-1",
		Type:      domain.EventOrderPaid,
		CreatedAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"total": "52.26"},
	}
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "checkout.events")

	require.NoError(t, p.Publish(context.Background(), paidEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ord-1", string(msg.Key))
	var got domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, domain.EventOrderPaid, got.Type)
	assert.Equal(t, "52.26", got.Payload["total"])

	carrier := headerCarrier(msg.Headers)
	assert.Equal(t, domain.EventOrderPaid, carrier.Get("event_type"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishPropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	require.NoError(t, newPublisher(w, "t").Publish(ctx, paidEvent()))

	carrier := headerCarrier(w.msgs[0].Headers)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
}

func TestPublishError(t *testing.T) {
	p := newPublisher(&fakeWriter{err: errors.New("broker down")}, "checkout.events")
	err := p.Publish(context.Background(), paidEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestDisabledPublisher(t *testing.T) {
	p := NewKafkaPublisher([]string{" ", ""}, "checkout.events")
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), paidEvent()))
	assert.NoError(t, p.Close())

	var nilPub *Publisher
	assert.NoError(t, nilPub.Publish(context.Background(), paidEvent()))
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	var c headerCarrier
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")
	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}
