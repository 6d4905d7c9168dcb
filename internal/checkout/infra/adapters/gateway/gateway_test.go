package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const secret = "whsec_test"

func completedEvent(t *testing.T, sessionID, status string) []byte {
	t.Helper()
	body, err := NewSessionEvent("evt_1", ports.EventSessionCompleted, sessionID, status, time.Now())
	require.NoError(t, err)
	return body
}

func TestVerifyWebhook(t *testing.T) {
	h := NewHosted(HostedConfig{Tolerance: 5 * time.Minute})
	payload := completedEvent(t, "cs_1", "paid")
	sig := Sign(payload, secret, time.Now())

	ev, err := h.VerifyWebhook(payload, sig, secret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, ports.EventSessionCompleted, ev.Type)
	assert.Equal(t, "cs_1", ev.SessionID)
	assert.Equal(t, "paid", ev.PaymentStatus)
}

func TestVerifyWebhookRejects(t *testing.T) {
	h := NewHosted(HostedConfig{Tolerance: 5 * time.Minute})
	payload := completedEvent(t, "cs_1", "paid")
	now := time.Now()

	tampered := []byte(strings.Replace(string(payload), "cs_1", "cs_2", 1))
	// Re-encoding the same event changes the bytes the MAC covers.
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	reencoded, err := json.MarshalIndent(decoded, "", "  ")
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
	}{
		{"tampered body", tampered, Sign(payload, secret, now), secret},
		{"re-encoded body", reencoded, Sign(payload, secret, now), secret},
		{"wrong secret", payload, Sign(payload, "other", now), secret},
		{"missing header", payload, "", secret},
		{"malformed header", payload, "garbage", secret},
		{"no v1", payload, "t=123", secret},
		{"stale timestamp", payload, Sign(payload, secret, now.Add(-time.Hour)), secret},
		{"future timestamp", payload, Sign(payload, secret, now.Add(time.Hour)), secret},
		{"empty secret", payload, Sign(payload, "", now), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.VerifyWebhook(tt.payload, tt.header, tt.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
		})
	}
}

func TestVerifyWebhookAcceptsAnyMatchingV1(t *testing.T) {
	h := NewHosted(HostedConfig{})
	payload := completedEvent(t, "cs_1", "paid")
	good := Sign(payload, secret, time.Now())
	header := good[:strings.Index(good, ",")] + ",v1=deadbeef" + good[strings.Index(good, ","):]

	_, err := h.VerifyWebhook(payload, header, secret)
	assert.NoError(t, err)
}

func TestHostedCreateSession(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://pay.example/cs_test_1","payment_status":"unpaid"}`))
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, APIKey: "sk_test", Currency: "EUR"})
	handle, err := h.CreateSession(context.Background(), ports.SessionRequest{
		LineItems: []ports.GatewayLineItem{
			{Name: "Logo Tee (M)", UnitPrice: decimal.RequireFromString("24.90"), Quantity: 2},
			{Name: "Envío", UnitPrice: decimal.RequireFromString("4.95"), Quantity: 1},
		},
		SuccessURL: "https://shop.example/thanks",
		CancelURL:  "https://shop.example/cart",
		Metadata:   map[string]string{"orderId": "ord-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", handle.SessionID)
	assert.Equal(t, "https://pay.example/cs_test_1", handle.RedirectURL)

	assert.Equal(t, "payment", form["mode"][0])
	assert.Equal(t, "eur", form["line_items[0][price_data][currency]"][0])
	assert.Equal(t, "2490", form["line_items[0][price_data][unit_amount]"][0])
	assert.Equal(t, "Logo Tee (M)", form["line_items[0][price_data][product_data][name]"][0])
	assert.Equal(t, "2", form["line_items[0][quantity]"][0])
	assert.Equal(t, "495", form["line_items[1][price_data][unit_amount]"][0])
	assert.Equal(t, "ord-1", form["metadata[orderId]"][0])
	assert.Equal(t, "ord-1", form["client_reference_id"][0])
}

func TestHostedGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined","type":"card_error"}}`))
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, APIKey: "sk_test", Currency: "eur"})
	_, err := h.CreateSession(context.Background(), ports.SessionRequest{
		LineItems: []ports.GatewayLineItem{{Name: "Mug", UnitPrice: decimal.NewFromInt(12), Quantity: 1}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.Contains(t, err.Error(), "card declined")

	_, err = h.RetrieveSession(context.Background(), "cs_1")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestHostedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := h.RetrieveSession(context.Background(), "cs_1")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestHostedRetrieveSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"cs_1","payment_status":"paid"}`))
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL + "/", APIKey: "sk_test"})
	st, err := h.RetrieveSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", st.PaymentStatus)
}

func TestManualProvider(t *testing.T) {
	m := NewManual("https://shop.example/transfer", time.Minute)

	handle, err := m.CreateSession(context.Background(), ports.SessionRequest{
		LineItems: []ports.GatewayLineItem{{Name: "Mug", UnitPrice: decimal.NewFromInt(12), Quantity: 1}},
		Metadata:  map[string]string{"orderId": "ord-1"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle.SessionID, ManualSessionPrefix))
	assert.Contains(t, handle.RedirectURL, "oid=ord-1")
	assert.Contains(t, handle.RedirectURL, "session_id="+handle.SessionID)

	st, err := m.RetrieveSession(context.Background(), handle.SessionID)
	require.NoError(t, err)
	assert.NotEqual(t, ports.PaymentStatusPaid, st.PaymentStatus)

	payload := completedEvent(t, handle.SessionID, "paid")
	ev, err := m.VerifyWebhook(payload, Sign(payload, secret, time.Now()), secret)
	require.NoError(t, err)
	assert.Equal(t, handle.SessionID, ev.SessionID)

	_, err = m.CreateSession(context.Background(), ports.SessionRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
