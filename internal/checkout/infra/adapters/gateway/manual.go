package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

// ManualSessionPrefix marks session ids created by the manual provider.
const ManualSessionPrefix = "manual_"

// Manual is the bank-transfer provider. Sessions are local ids; the buyer
// is redirected to the storefront's transfer instructions page and the
// vendor confirms payment out of band by posting a signed webhook.
// RetrieveSession therefore never reports paid.
type Manual struct {
	instructionsURL string
	tolerance       time.Duration
	now             func() time.Time
}

var _ ports.PaymentGateway = (*Manual)(nil)

func NewManual(instructionsURL string, tolerance time.Duration) *Manual {
	return &Manual{instructionsURL: instructionsURL, tolerance: tolerance, now: time.Now}
}

func (m *Manual) CreateSession(_ context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	if len(req.LineItems) == 0 {
		return ports.SessionHandle{}, fmt.Errorf("%w: no line items", domain.ErrValidation)
	}
	id := ManualSessionPrefix + uuid.NewString()

	u, err := url.Parse(m.instructionsURL)
	if err != nil {
		return ports.SessionHandle{}, fmt.Errorf("%w: instructions url: %v", domain.ErrGateway, err)
	}
	q := u.Query()
	q.Set("session_id", id)
	if oid := req.Metadata["orderId"]; oid != "" {
		q.Set("oid", oid)
	}
	u.RawQuery = q.Encode()
	return ports.SessionHandle{SessionID: id, RedirectURL: u.String()}, nil
}

func (m *Manual) RetrieveSession(_ context.Context, sessionID string) (ports.SessionStatus, error) {
	return ports.SessionStatus{SessionID: sessionID, PaymentStatus: ports.PaymentStatusUnpaid}, nil
}

func (m *Manual) VerifyWebhook(payload []byte, signature, secret string) (ports.GatewayEvent, error) {
	return verifyAndDecode(payload, signature, secret, m.tolerance, m.now())
}
