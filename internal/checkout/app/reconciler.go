package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

// Webhook outcomes, also used as metric labels.
const (
	OutcomeApplied        = "applied"
	OutcomeAlreadyPaid    = "already_paid"
	OutcomeUnknownSession = "unknown_session"
	OutcomeIgnored        = "ignored"
	OutcomeRejected       = "rejected"
	OutcomeFailed         = "failed"
)

// Reconciler applies gateway payment confirmations to orders. The webhook
// and the poll path both end in OrderStore.MarkPaid, so any interleaving of
// deliveries yields exactly one paid transition.
type Reconciler struct {
	store   ports.OrderStore
	gateway ports.PaymentGateway
	events  ports.EventPublisher
	metrics *metrics.ServerMetrics
	secret  string

	now func() time.Time
}

func NewReconciler(store ports.OrderStore, gateway ports.PaymentGateway, events ports.EventPublisher, m *metrics.ServerMetrics, webhookSecret string) *Reconciler {
	return &Reconciler{
		store:   store,
		gateway: gateway,
		events:  events,
		metrics: m,
		secret:  webhookSecret,
		now:     time.Now,
	}
}

type WebhookResult struct {
	EventID   string
	EventType string
	SessionID string
	OrderID   string
	Outcome   string
}

// HandleWebhook verifies payload against the signature header and applies
// a settled session. A bad signature fails with ErrSignatureInvalid before
// any order is read. Unknown sessions and irrelevant event types are
// acknowledged without error.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Webhook")
	defer span.End()

	ev, err := r.gateway.VerifyWebhook(payload, signature, r.secret)
	if err != nil {
		r.metrics.ObserveWebhook(OutcomeRejected)
		slog.WarnContext(ctx, "webhook rejected", "error", err)
		return WebhookResult{Outcome: OutcomeRejected}, fail(span, err)
	}
	res := WebhookResult{EventID: ev.ID, EventType: ev.Type, SessionID: ev.SessionID}
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.type", ev.Type),
		attribute.String("payment.session_id", ev.SessionID),
	)

	if !settles(ev) || ev.SessionID == "" {
		res.Outcome = OutcomeIgnored
		r.metrics.ObserveWebhook(res.Outcome)
		slog.InfoContext(ctx, "webhook ignored", "event_id", ev.ID, "type", ev.Type, "payment_status", ev.PaymentStatus)
		return res, nil
	}

	tr, err := r.markPaid(ctx, ev.SessionID, translog.TriggerWebhook)
	if err != nil {
		r.metrics.ObserveWebhook(OutcomeFailed)
		return WebhookResult{Outcome: OutcomeFailed}, fail(span, err)
	}
	res.OrderID = tr.OrderID
	res.Outcome = outcome(tr)
	r.metrics.ObserveWebhook(res.Outcome)
	return res, nil
}

type ConfirmResult struct {
	Paid    bool
	Status  string
	OrderID string
}

// Confirm polls the gateway for sessionID. A paid session goes through the
// same conditional write as the webhook; otherwise nothing is mutated and
// the current status is reported.
func (r *Reconciler) Confirm(ctx context.Context, sessionID string) (ConfirmResult, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("payment.session_id", sessionID))

	if sessionID == "" {
		return ConfirmResult{}, fail(span, fmt.Errorf("%w: sessionId is required", domain.ErrValidation))
	}

	st, err := r.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return ConfirmResult{}, fail(span, err)
	}

	if st.PaymentStatus == ports.PaymentStatusPaid {
		tr, err := r.markPaid(ctx, sessionID, translog.TriggerPoll)
		if err != nil {
			return ConfirmResult{}, fail(span, err)
		}
		status := string(domain.StatusPaid)
		if tr.Found {
			status = string(tr.Status)
		}
		return ConfirmResult{Paid: true, Status: status, OrderID: tr.OrderID}, nil
	}

	// Not settled at the gateway. The order may still be paid locally,
	// e.g. a manual transfer confirmed by the vendor.
	o, err := r.store.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return ConfirmResult{Paid: false, Status: st.PaymentStatus}, nil
		}
		return ConfirmResult{}, fail(span, err)
	}
	return ConfirmResult{Paid: o.Status == domain.StatusPaid, Status: string(o.Status), OrderID: o.ID}, nil
}

func (r *Reconciler) markPaid(ctx context.Context, sessionID string, trigger translog.Trigger) (ports.TransitionResult, error) {
	tr, err := r.store.MarkPaid(ctx, sessionID, trigger)
	if err != nil {
		slog.ErrorContext(ctx, "mark paid failed", "session_id", sessionID, "trigger", trigger, "error", err)
		return tr, err
	}
	switch {
	case !tr.Found:
		slog.WarnContext(ctx, "payment for unknown session", "session_id", sessionID, "trigger", trigger)
	case tr.Applied:
		r.metrics.ObserveTransition(string(domain.StatusPaid), string(trigger))
		slog.InfoContext(ctx, "order paid", "order_id", tr.OrderID, "session_id", sessionID, "trigger", trigger)
		publish(ctx, r.events, uuid.NewString(), domain.EventOrderPaid, tr.OrderID, r.now(), map[string]any{
			"session_id": sessionID,
			"trigger":    string(trigger),
		})
	default:
		slog.InfoContext(ctx, "order already paid", "order_id", tr.OrderID, "session_id", sessionID, "trigger", trigger)
	}
	return tr, nil
}

func outcome(tr ports.TransitionResult) string {
	switch {
	case !tr.Found:
		return OutcomeUnknownSession
	case tr.Applied:
		return OutcomeApplied
	default:
		return OutcomeAlreadyPaid
	}
}

// settles reports whether an event moves its session to paid. A completed
// session settles unless the gateway says the payment is still pending; an
// async success always settles.
func settles(ev ports.GatewayEvent) bool {
	switch ev.Type {
	case ports.EventSessionCompleted:
		return ev.PaymentStatus != ports.PaymentStatusUnpaid
	case ports.EventAsyncPaymentSucceed:
		return true
	default:
		return false
	}
}
