package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
)

const (
	idempotencyOp     = "payment-session"
	idempotencyLockOp = "payment-session-lock"
	idempotencyLock   = 30 * time.Second

	shippingLineName = "Envío"
)

type SessionInput struct {
	// OrderID selects a finalized order. Without it the cart in Lines is
	// priced and an express order is created for it.
	OrderID string
	Lines   []domain.LineRequest
	// IdempotencyKey replays the first successful response when set.
	IdempotencyKey string
}

type SessionResult struct {
	OrderID     string `json:"orderId"`
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// CreatePaymentSession opens a gateway session for an order and links it
// to the order. An order gets at most one session.
func (s *Service) CreatePaymentSession(ctx context.Context, in SessionInput) (SessionResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreatePaymentSession")
	defer span.End()

	if in.IdempotencyKey == "" || s.cache == nil {
		res, err := s.createSession(ctx, in)
		return res, fail(span, err)
	}

	key := s.cache.GenerateKey(idempotencyOp, in.IdempotencyKey)
	if res, ok := s.replay(ctx, key); ok {
		span.SetAttributes(attribute.Bool("idempotent.replay", true))
		return res, nil
	}

	lockKey := s.cache.GenerateKey(idempotencyLockOp, in.IdempotencyKey)
	acquired, err := s.cache.SetNX(ctx, lockKey, "1", idempotencyLock)
	if err != nil {
		slog.WarnContext(ctx, "idempotency lock failed, proceeding without replay", "error", err)
		res, err := s.createSession(ctx, in)
		return res, fail(span, err)
	}
	if !acquired {
		return SessionResult{}, fail(span, fmt.Errorf("%w: a request with this Idempotency-Key is in progress", domain.ErrSessionExists))
	}
	defer func() {
		if err := s.cache.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			slog.WarnContext(ctx, "idempotency unlock failed", "error", err)
		}
	}()

	res, err := s.createSession(ctx, in)
	if err != nil {
		return SessionResult{}, fail(span, err)
	}
	if raw, err := json.Marshal(res); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.opts.IdempotencyTTL); err != nil {
			slog.WarnContext(ctx, "idempotency store failed", "error", err)
		}
	}
	return res, nil
}

func (s *Service) replay(ctx context.Context, key string) (SessionResult, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "idempotency lookup failed", "error", err)
		return SessionResult{}, false
	}
	if raw == "" {
		return SessionResult{}, false
	}
	var res SessionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return SessionResult{}, false
	}
	slog.InfoContext(ctx, "replaying payment session", "order_id", res.OrderID, "session_id", res.SessionID)
	return res, true
}

func (s *Service) createSession(ctx context.Context, in SessionInput) (SessionResult, error) {
	if in.OrderID == "" {
		return s.expressSession(ctx, in.Lines)
	}

	o, err := s.store.Get(ctx, in.OrderID)
	if err != nil {
		return SessionResult{}, err
	}
	if o.Status != domain.StatusAwaitingPayment {
		return SessionResult{}, fmt.Errorf("%w: order %s is %s, want %s",
			domain.ErrInvalidTransition, o.ID, o.Status, domain.StatusAwaitingPayment)
	}
	if o.PaymentSessionID != "" {
		return SessionResult{}, fmt.Errorf("%w: order %s", domain.ErrSessionExists, o.ID)
	}

	handle, err := s.openSession(ctx, o)
	if err != nil {
		return SessionResult{}, err
	}

	ok, err := s.store.AttachSession(ctx, o.ID, handle.SessionID)
	if err != nil {
		return SessionResult{}, err
	}
	if !ok {
		// Another request attached its session first; this one is orphaned
		// at the gateway and will never be reconciled.
		slog.WarnContext(ctx, "payment session already attached", "order_id", o.ID, "session_id", handle.SessionID)
		return SessionResult{}, fmt.Errorf("%w: order %s", domain.ErrSessionExists, o.ID)
	}
	slog.InfoContext(ctx, "payment session created", "order_id", o.ID, "session_id", handle.SessionID)

	return SessionResult{OrderID: o.ID, SessionID: handle.SessionID, CheckoutURL: handle.RedirectURL}, nil
}

// expressSession prices a bare cart with no buyer and no shipping
// selection. The order is stored only once the gateway has issued its
// session, so a gateway failure leaves nothing behind.
func (s *Service) expressSession(ctx context.Context, lines []domain.LineRequest) (SessionResult, error) {
	sum, err := s.engine.ComputeSummary(ctx, pricing.Input{Lines: lines})
	if err != nil {
		return SessionResult{}, err
	}
	sum.ShippingOptions = nil

	now := s.now().UTC()
	o := domain.NewQuotedOrder(s.newID(), sum, domain.Buyer{}, now)
	if err := o.Freeze(sum, domain.Buyer{}, now); err != nil {
		return SessionResult{}, err
	}

	handle, err := s.openSession(ctx, o)
	if err != nil {
		return SessionResult{}, err
	}
	o.PaymentSessionID = handle.SessionID
	if err := s.store.Create(ctx, o, translog.TriggerExpress); err != nil {
		slog.ErrorContext(ctx, "express order not stored, gateway session orphaned",
			"order_id", o.ID, "session_id", handle.SessionID, "error", err)
		return SessionResult{}, err
	}
	s.metrics.ObserveTransition(string(domain.StatusAwaitingPayment), string(translog.TriggerExpress))
	slog.InfoContext(ctx, "payment session created", "order_id", o.ID, "session_id", handle.SessionID, "express", true)

	return SessionResult{OrderID: o.ID, SessionID: handle.SessionID, CheckoutURL: handle.RedirectURL}, nil
}

func (s *Service) openSession(ctx context.Context, o *domain.Order) (ports.SessionHandle, error) {
	handle, err := s.gateway.CreateSession(ctx, ports.SessionRequest{
		LineItems:  lineItems(o),
		SuccessURL: s.successURL(o.ID),
		CancelURL:  s.opts.FrontURL + "/cart",
		Metadata:   map[string]string{"orderId": o.ID},
	})
	if err != nil {
		slog.ErrorContext(ctx, "gateway session failed", "order_id", o.ID, "error", err)
		return ports.SessionHandle{}, err
	}
	return handle, nil
}

func (s *Service) successURL(orderID string) string {
	// The gateway substitutes {CHECKOUT_SESSION_ID}; it must stay unescaped.
	return s.opts.FrontURL + "/thanks?session_id={CHECKOUT_SESSION_ID}&oid=" + url.QueryEscape(orderID)
}

// lineItems builds the gateway lines from the frozen snapshot so that they
// always add up to the order total. A discounted order is sent as a single
// aggregate line, since the gateway does not accept negative amounts.
func lineItems(o *domain.Order) []ports.GatewayLineItem {
	var lines []ports.GatewayLineItem
	if o.DiscountAmount.IsPositive() {
		lines = append(lines, ports.GatewayLineItem{
			Name:      fmt.Sprintf("Pedido %s (%s)", shortID(o.ID), o.DiscountCode),
			UnitPrice: o.BaseGross(),
			Quantity:  1,
		})
	} else {
		for _, it := range o.Items {
			name := it.Name
			if it.Size != "" {
				name += " (" + it.Size + ")"
			}
			lines = append(lines, ports.GatewayLineItem{Name: name, UnitPrice: it.Price, Quantity: it.Qty})
		}
	}
	if cost := o.ShippingCost(); cost.GreaterThan(decimal.Zero) {
		lines = append(lines, ports.GatewayLineItem{Name: shippingLineName, UnitPrice: cost, Quantity: 1})
	}
	return lines
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
