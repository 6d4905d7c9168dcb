// Package translog defines the order transition log.
//
// Every effective lifecycle transition (quote created, finalized, paid,
// canceled) appends one immutable entry, written in the same transaction as
// the status change. It serves two purposes:
//
//  1. Audit: exactly-once payment is observable as exactly one entry with
//     To == paid per order, whatever the number of webhook deliveries.
//
//  2. Observability: each entry carries the trace_id/span_id of the request
//     that caused it, so a row can be joined with the distributed trace.
package translog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// Trigger names what caused a transition.
type Trigger string

const (
	TriggerQuote    Trigger = "quote"
	TriggerFinalize Trigger = "finalize"
	TriggerExpress  Trigger = "express_session"
	TriggerWebhook  Trigger = "webhook"
	TriggerPoll     Trigger = "poll"
	TriggerAdmin    Trigger = "admin"
)

// Entry is a single row of the order_events table.
type Entry struct {
	ID      int64
	OrderID string

	// From is empty for the entry that created the order.
	From domain.OrderStatus
	To   domain.OrderStatus

	Trigger Trigger

	// TraceID and SpanID are empty when no span was active (tests, CLI).
	TraceID string
	SpanID  string

	At time.Time
}

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	TraceID string
	SpanID  string
}

// ExtractTraceInfo reads the active span from ctx. Both fields are empty
// if the context carries no valid span.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}
	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewEntry builds an entry with the trace info taken from ctx.
//
//	entry := translog.NewEntry(ctx, order.ID, domain.StatusAwaitingPayment, domain.StatusPaid, translog.TriggerWebhook, now)
func NewEntry(ctx context.Context, orderID string, from, to domain.OrderStatus, trigger Trigger, at time.Time) Entry {
	ti := ExtractTraceInfo(ctx)
	return Entry{
		OrderID: orderID,
		From:    from,
		To:      to,
		Trigger: trigger,
		TraceID: ti.TraceID,
		SpanID:  ti.SpanID,
		At:      at.UTC(),
	}
}
