package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/gateway"
)

func signedEvent(t *testing.T, eventID, eventType, sessionID, status string) ([]byte, string) {
	t.Helper()
	payload, err := gateway.NewSessionEvent(eventID, eventType, sessionID, status, time.Now())
	require.NoError(t, err)
	return payload, gateway.Sign(payload, webhookSecret, time.Now())
}

func TestWebhookMarksOrderPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, sessionID := h.finalized(t)

	payload, sig := signedEvent(t, "evt_1", ports.EventSessionCompleted, sessionID, "paid")
	res, err := h.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, orderID, res.OrderID)

	o, err := h.store.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.Status)

	entries, err := h.store.Events(ctx, orderID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.StatusPaid, last.To)
	assert.Equal(t, translog.TriggerWebhook, last.Trigger)

	paid := h.events.ofType(domain.EventOrderPaid)
	require.Len(t, paid, 1)
	assert.Equal(t, orderID, paid[0].OrderID)
}

func TestWebhookDuplicatesAndPollConvergeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, sessionID := h.finalized(t)
	h.gateway.setPaid(sessionID)

	const deliveries = 8
	var wg sync.WaitGroup
	outcomes := make(chan string, deliveries+1)
	for i := range deliveries {
		payload, sig := signedEvent(t, fmt.Sprintf("evt_%d", i%2), ports.EventSessionCompleted, sessionID, "paid")
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.rec.HandleWebhook(ctx, payload, sig)
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := h.rec.Confirm(ctx, sessionID)
		assert.NoError(t, err)
		assert.True(t, res.Paid)
	}()
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		assert.Contains(t, []string{OutcomeApplied, OutcomeAlreadyPaid}, o)
	}
	assert.Equal(t, 1, h.paidEvents(t, orderID))
	assert.Len(t, h.events.ofType(domain.EventOrderPaid), 1)

	// A late redelivery changes nothing.
	payload, sig := signedEvent(t, "evt_late", ports.EventSessionCompleted, sessionID, "paid")
	res, err := h.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, res.Outcome)
	assert.Equal(t, 1, h.paidEvents(t, orderID))
}

func TestWebhookBadSignatureTouchesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, sessionID := h.finalized(t)

	payload, _ := signedEvent(t, "evt_1", ports.EventSessionCompleted, sessionID, "paid")
	forged := gateway.Sign(payload, "whsec_attacker", time.Now())

	res, err := h.rec.HandleWebhook(ctx, payload, forged)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	assert.Equal(t, OutcomeRejected, res.Outcome)

	o, err := h.store.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, o.Status)
	assert.Empty(t, h.events.ofType(domain.EventOrderPaid))
}

func TestWebhookUnknownSessionIsNoop(t *testing.T) {
	h := newHarness(t)

	payload, sig := signedEvent(t, "evt_1", ports.EventSessionCompleted, "cs_unknown", "paid")
	res, err := h.rec.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownSession, res.Outcome)
}

func TestWebhookEventTypes(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		status    string
		want      string
	}{
		{"completed and paid", ports.EventSessionCompleted, "paid", OutcomeApplied},
		{"async succeeded", ports.EventAsyncPaymentSucceed, "paid", OutcomeApplied},
		{"completed without payment status", ports.EventSessionCompleted, "", OutcomeApplied},
		{"async succeeded without payment status", ports.EventAsyncPaymentSucceed, "", OutcomeApplied},
		{"completed, payment pending", ports.EventSessionCompleted, "unpaid", OutcomeIgnored},
		{"unrelated event", "checkout.session.expired", "unpaid", OutcomeIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			orderID, sessionID := h.finalized(t)

			payload, sig := signedEvent(t, "evt_1", tt.eventType, sessionID, tt.status)
			res, err := h.rec.HandleWebhook(ctx, payload, sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)

			o, err := h.store.Get(ctx, orderID)
			require.NoError(t, err)
			if tt.want == OutcomeApplied {
				assert.Equal(t, domain.StatusPaid, o.Status)
			} else {
				assert.Equal(t, domain.StatusAwaitingPayment, o.Status)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID, sessionID := h.finalized(t)

	res, err := h.rec.Confirm(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, string(domain.StatusAwaitingPayment), res.Status)
	assert.Equal(t, 0, h.paidEvents(t, orderID))

	h.gateway.setPaid(sessionID)
	res, err = h.rec.Confirm(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, string(domain.StatusPaid), res.Status)
	assert.Equal(t, orderID, res.OrderID)

	entries, err := h.store.Events(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, translog.TriggerPoll, entries[len(entries)-1].Trigger)

	// Polling again is harmless.
	_, err = h.rec.Confirm(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.paidEvents(t, orderID))
}

func TestConfirmReportsLocallyPaidOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, sessionID := h.finalized(t)

	// Confirmed by webhook while the gateway still reports unpaid, as
	// happens with vendor-confirmed transfers.
	payload, sig := signedEvent(t, "evt_1", ports.EventSessionCompleted, sessionID, "paid")
	_, err := h.rec.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	res, err := h.rec.Confirm(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, string(domain.StatusPaid), res.Status)
}

func TestConfirmErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.Confirm(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err := h.rec.Confirm(ctx, "cs_unknown")
	require.NoError(t, err)
	assert.False(t, res.Paid)

	h.gateway.getErr = fmt.Errorf("%w: timeout", domain.ErrGateway)
	_, err = h.rec.Confirm(ctx, "cs_1")
	assert.ErrorIs(t, err, domain.ErrGateway)
}
