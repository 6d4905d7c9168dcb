package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

// wireEvent is the subset of the gateway's event envelope the reconciler
// needs. data.object is a checkout session for checkout.session.* types.
type wireEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object wireSession `json:"object"`
	} `json:"data"`
}

type wireSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url,omitempty"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// verifyAndDecode authenticates payload before decoding it. Decoding first
// would be pointless: the MAC covers the raw bytes, not a re-encoding.
func verifyAndDecode(payload []byte, signature, secret string, tolerance time.Duration, now time.Time) (ports.GatewayEvent, error) {
	if err := verifySignature(payload, signature, secret, tolerance, now); err != nil {
		return ports.GatewayEvent{}, err
	}
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ports.GatewayEvent{}, fmt.Errorf("%w: signed payload is not an event: %v", domain.ErrValidation, err)
	}
	return ports.GatewayEvent{
		ID:            ev.ID,
		Type:          ev.Type,
		SessionID:     ev.Data.Object.ID,
		PaymentStatus: ev.Data.Object.PaymentStatus,
	}, nil
}

// NewSessionEvent builds a signed-ready event body for a session. The admin
// CLI uses it to confirm manual transfers through the webhook path.
func NewSessionEvent(eventID, eventType, sessionID, paymentStatus string, at time.Time) ([]byte, error) {
	var ev wireEvent
	ev.ID = eventID
	ev.Type = eventType
	ev.Created = at.Unix()
	ev.Data.Object = wireSession{ID: sessionID, PaymentStatus: paymentStatus}
	return json.Marshal(ev)
}
