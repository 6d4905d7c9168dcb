// Package app holds the checkout use cases: quoting and finalizing orders,
// opening payment sessions and reconciling gateway confirmations.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/jcmexdev/storefront-checkout/internal/checkout/app")

type Options struct {
	// FrontURL is where the gateway sends the buyer back after paying.
	FrontURL       string
	IdempotencyTTL time.Duration
}

// Service implements quote, finalize and payment-session creation.
type Service struct {
	engine   *pricing.Engine
	store    ports.OrderStore
	gateway  ports.PaymentGateway
	receipts ports.ReceiptDispatcher
	events   ports.EventPublisher
	cache    cache.Cache            // nil-safe: Idempotency-Key replay disabled if nil
	metrics  *metrics.ServerMetrics // nil-safe
	opts     Options

	now   func() time.Time
	newID func() string
}

func NewService(
	engine *pricing.Engine,
	store ports.OrderStore,
	gateway ports.PaymentGateway,
	receipts ports.ReceiptDispatcher,
	events ports.EventPublisher,
	c cache.Cache,
	m *metrics.ServerMetrics,
	opts Options,
) *Service {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	opts.FrontURL = strings.TrimRight(opts.FrontURL, "/")
	return &Service{
		engine:   engine,
		store:    store,
		gateway:  gateway,
		receipts: receipts,
		events:   events,
		cache:    c,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type QuoteInput struct {
	Lines        []domain.LineRequest
	Buyer        domain.Buyer
	DiscountCode string
}

type QuoteResult struct {
	OrderID string
	Summary domain.Summary
}

// Quote prices the cart and persists it as a quoted order. Pricing
// failures create nothing.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (QuoteResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.Quote")
	defer span.End()

	buyer := in.Buyer.Normalize()
	sum, err := s.engine.ComputeSummary(ctx, pricing.Input{
		Lines:        in.Lines,
		Address:      buyer.Address,
		DiscountCode: in.DiscountCode,
	})
	if err != nil {
		return QuoteResult{}, fail(span, err)
	}

	o := domain.NewQuotedOrder(s.newID(), sum, buyer, s.now().UTC())
	if err := s.store.Create(ctx, o, translog.TriggerQuote); err != nil {
		return QuoteResult{}, fail(span, err)
	}
	s.metrics.ObserveTransition(string(domain.StatusQuoted), string(translog.TriggerQuote))
	span.SetAttributes(attribute.String("order.id", o.ID))
	slog.InfoContext(ctx, "order quoted", "order_id", o.ID, "total", sum.Total.StringFixed(2))

	return QuoteResult{OrderID: o.ID, Summary: sum}, nil
}

type FinalizeInput struct {
	// OrderID is optional; without it a new order is created.
	OrderID      string
	Lines        []domain.LineRequest
	Buyer        domain.Buyer
	DiscountCode string
	Shipping     *domain.ShippingOption
}

type FinalizeResult struct {
	OrderID    string
	Status     domain.OrderStatus
	Total      string
	ReceiptURL string
	Share      domain.ShareLinks
}

// Finalize re-prices the cart, freezes it onto the order, moves the order
// to awaiting_payment and dispatches the receipt. Once a payment session is
// attached the snapshot is what the gateway charges, so a paid or locked
// order is never re-priced: its receipt is re-sent from the snapshot.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.Finalize")
	defer span.End()

	buyer := in.Buyer.Normalize()
	if err := buyer.Validate(); err != nil {
		return FinalizeResult{}, fail(span, err)
	}
	if in.Shipping == nil {
		return FinalizeResult{}, fail(span, fmt.Errorf("%w: shipping selection is required", domain.ErrValidation))
	}

	var existing *domain.Order
	if in.OrderID != "" {
		o, err := s.store.Get(ctx, in.OrderID)
		if err != nil {
			return FinalizeResult{}, fail(span, err)
		}
		switch {
		case o.Status == domain.StatusPaid, o.PaymentSessionID != "":
			return s.redispatch(ctx, o), nil
		case o.Status == domain.StatusCanceled:
			return FinalizeResult{}, fail(span, fmt.Errorf("%w: order %s is canceled", domain.ErrInvalidTransition, o.ID))
		}
		existing = o
	}

	sum, err := s.engine.ComputeSummary(ctx, pricing.Input{
		Lines:        in.Lines,
		Address:      buyer.Address,
		DiscountCode: in.DiscountCode,
		Selection:    in.Shipping,
	})
	if err != nil {
		return FinalizeResult{}, fail(span, err)
	}

	now := s.now().UTC()
	var o *domain.Order
	if existing == nil {
		o = domain.NewQuotedOrder(s.newID(), sum, buyer, now)
		if err := o.Freeze(sum, buyer, now); err != nil {
			return FinalizeResult{}, fail(span, err)
		}
		if err := s.store.Create(ctx, o, translog.TriggerFinalize); err != nil {
			return FinalizeResult{}, fail(span, err)
		}
	} else {
		o = existing
		if err := o.Freeze(sum, buyer, now); err != nil {
			return FinalizeResult{}, fail(span, err)
		}
		res, err := s.store.Freeze(ctx, o, translog.TriggerFinalize)
		if err != nil {
			return FinalizeResult{}, fail(span, err)
		}
		if !res.Found {
			return FinalizeResult{}, fail(span, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID))
		}
		if !res.Applied {
			// Lost a race with the paid transition, a session attach or a
			// cancel. Only the cancel leaves nothing to re-send.
			if res.Status != domain.StatusCanceled {
				paid, err := s.store.Get(ctx, o.ID)
				if err != nil {
					return FinalizeResult{}, fail(span, err)
				}
				return s.redispatch(ctx, paid), nil
			}
			return FinalizeResult{}, fail(span, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, o.ID, res.Status))
		}
	}
	s.metrics.ObserveTransition(string(domain.StatusAwaitingPayment), string(translog.TriggerFinalize))
	span.SetAttributes(attribute.String("order.id", o.ID))
	slog.InfoContext(ctx, "order finalized", "order_id", o.ID, "total", o.Total.StringFixed(2))

	rc := s.dispatchReceipt(ctx, o)
	s.publish(ctx, domain.EventOrderFinalized, o, map[string]any{
		"total":       o.Total.StringFixed(2),
		"email":       o.Buyer.Email,
		"receipt_url": rc.URL,
	})

	return FinalizeResult{
		OrderID:    o.ID,
		Status:     o.Status,
		Total:      o.Total.StringFixed(2),
		ReceiptURL: rc.URL,
		Share:      rc.Share,
	}, nil
}

func (s *Service) redispatch(ctx context.Context, o *domain.Order) FinalizeResult {
	slog.InfoContext(ctx, "order snapshot locked, re-sending receipt",
		"order_id", o.ID, "status", o.Status, "session_id", o.PaymentSessionID)
	rc := s.dispatchReceipt(ctx, o)
	return FinalizeResult{
		OrderID:    o.ID,
		Status:     o.Status,
		Total:      o.Total.StringFixed(2),
		ReceiptURL: rc.URL,
		Share:      rc.Share,
	}
}

// dispatchReceipt never fails the caller: the transition is already
// committed and whatever links were produced are returned.
func (s *Service) dispatchReceipt(ctx context.Context, o *domain.Order) domain.Receipt {
	rc, err := s.receipts.Dispatch(ctx, *o)
	if err != nil {
		slog.WarnContext(ctx, "receipt dispatch failed", "order_id", o.ID, "error", err)
	}
	if rc.Ref != "" && rc.Ref != o.ReceiptRef {
		if err := s.store.SetReceiptRef(ctx, o.ID, rc.Ref); err != nil {
			slog.WarnContext(ctx, "could not record receipt ref", "order_id", o.ID, "error", err)
		} else {
			o.ReceiptRef = rc.Ref
		}
	}
	return rc
}

func (s *Service) publish(ctx context.Context, typ string, o *domain.Order, payload map[string]any) {
	publish(ctx, s.events, s.newID(), typ, o.ID, s.now(), payload)
}

func publish(ctx context.Context, p ports.EventPublisher, id, typ, orderID string, at time.Time, payload map[string]any) {
	if p == nil {
		return
	}
	ev := domain.Event{EventID: id, OrderID: orderID, Type: typ, CreatedAt: at.UTC(), Payload: payload}
	if err := p.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "event publish failed", "order_id", orderID, "type", typ, "error", err)
	}
}

// fail records err on the span and returns it unchanged. Client errors are
// not marked as span errors.
func fail(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if isServerError(err) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func isServerError(err error) bool {
	return errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrGateway) ||
		domain.Code(err) == "internal_error"
}
