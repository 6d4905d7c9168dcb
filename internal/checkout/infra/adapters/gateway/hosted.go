// Package gateway implements ports.PaymentGateway: a hosted-checkout HTTP
// client and a manual bank-transfer provider. Both verify webhooks the same
// way.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

type HostedConfig struct {
	BaseURL   string
	APIKey    string
	Currency  string
	Timeout   time.Duration
	Tolerance time.Duration
}

// Hosted talks to a Stripe-compatible checkout sessions API.
type Hosted struct {
	baseURL   string
	apiKey    string
	currency  string
	tolerance time.Duration
	client    *http.Client
	now       func() time.Time
}

var _ ports.PaymentGateway = (*Hosted)(nil)

func NewHosted(cfg HostedConfig) *Hosted {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Hosted{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		currency:  strings.ToLower(cfg.Currency),
		tolerance: cfg.Tolerance,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (h *Hosted) CreateSession(ctx context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	if len(req.LineItems) == 0 {
		return ports.SessionHandle{}, fmt.Errorf("%w: no line items", domain.ErrValidation)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	for i, li := range req.LineItems {
		p := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(p+"[price_data][currency]", h.currency)
		form.Set(p+"[price_data][unit_amount]", strconv.FormatInt(domain.Cents(li.UnitPrice), 10))
		form.Set(p+"[price_data][product_data][name]", li.Name)
		form.Set(p+"[quantity]", strconv.Itoa(li.Quantity))
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if id := req.Metadata["orderId"]; id != "" {
		form.Set("client_reference_id", id)
	}

	var sess wireSession
	if err := h.do(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()), &sess); err != nil {
		return ports.SessionHandle{}, err
	}
	if sess.ID == "" || sess.URL == "" {
		return ports.SessionHandle{}, fmt.Errorf("%w: session response without id or url", domain.ErrGateway)
	}
	return ports.SessionHandle{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

func (h *Hosted) RetrieveSession(ctx context.Context, sessionID string) (ports.SessionStatus, error) {
	var sess wireSession
	if err := h.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &sess); err != nil {
		return ports.SessionStatus{}, err
	}
	return ports.SessionStatus{SessionID: sess.ID, PaymentStatus: sess.PaymentStatus}, nil
}

func (h *Hosted) VerifyWebhook(payload []byte, signature, secret string) (ports.GatewayEvent, error) {
	return verifyAndDecode(payload, signature, secret, h.tolerance, h.now())
}

func (h *Hosted) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrGateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrGateway, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrGateway, err)
	}
	if resp.StatusCode/100 != 2 {
		var apiErr apiError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return fmt.Errorf("%w: %s %s: status %d: %s", domain.ErrGateway, method, path, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrGateway, err)
	}
	return nil
}
