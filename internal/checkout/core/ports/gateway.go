package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// Webhook event types the reconciler acts on.
const (
	EventSessionCompleted    = "checkout.session.completed"
	EventAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// PaymentStatusPaid is the gateway's payment_status for a settled session.
// PaymentStatusUnpaid marks a completed session whose payment is still
// pending, as with delayed payment methods.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

type GatewayLineItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type SessionRequest struct {
	LineItems  []GatewayLineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type SessionHandle struct {
	SessionID   string
	RedirectURL string
}

type SessionStatus struct {
	SessionID     string
	PaymentStatus string
}

// GatewayEvent is a verified webhook event.
type GatewayEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
}

// PaymentGateway is the adapter the core consumes. CreateSession and
// RetrieveSession failures wrap domain.ErrGateway; VerifyWebhook failures
// wrap domain.ErrSignatureInvalid.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error)
	VerifyWebhook(payload []byte, signature, secret string) (GatewayEvent, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error)
}
