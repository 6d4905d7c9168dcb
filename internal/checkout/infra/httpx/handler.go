package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 1 << 20
)

// CheckoutService is the part of app.Service the HTTP API drives.
type CheckoutService interface {
	Quote(ctx context.Context, in app.QuoteInput) (app.QuoteResult, error)
	Finalize(ctx context.Context, in app.FinalizeInput) (app.FinalizeResult, error)
	CreatePaymentSession(ctx context.Context, in app.SessionInput) (app.SessionResult, error)
}

type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (app.WebhookResult, error)
	Confirm(ctx context.Context, sessionID string) (app.ConfirmResult, error)
}

// ReceiptFiles opens rendered receipts by file name.
type ReceiptFiles interface {
	Open(name string) (*os.File, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// SignatureHeader names the header carrying the webhook signature.
	SignatureHeader string
	// FrontURL is the base for relative product image paths.
	FrontURL string
}

// Handler serves the checkout HTTP API.
type Handler struct {
	checkout   CheckoutService
	reconciler PaymentReconciler
	catalog    ports.CatalogBrowser
	receipts   ReceiptFiles
	checks     map[string]Pinger
	opts       Options
}

func NewHandler(
	checkout CheckoutService,
	reconciler PaymentReconciler,
	catalog ports.CatalogBrowser,
	receipts ReceiptFiles,
	checks map[string]Pinger,
	opts Options,
) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	opts.FrontURL = strings.TrimRight(opts.FrontURL, "/")
	return &Handler{
		checkout:   checkout,
		reconciler: reconciler,
		catalog:    catalog,
		receipts:   receipts,
		checks:     checks,
		opts:       opts,
	}
}

// Summary prices a cart and stores it as a quoted order.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), "items are required")
		return
	}

	res, err := h.checkout.Quote(r.Context(), app.QuoteInput{
		Lines:        toLines(req.Items),
		Buyer:        req.Buyer.toDomain(),
		DiscountCode: req.DiscountCode,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSummary(res))
}

// Finalize freezes the order and returns its receipt link.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), "items are required")
		return
	}

	res, err := h.checkout.Finalize(r.Context(), app.FinalizeInput{
		OrderID:      strings.TrimSpace(req.OrderID),
		Lines:        toLines(req.Items),
		Buyer:        req.Buyer.toDomain(),
		DiscountCode: req.DiscountCode,
		Shipping:     req.Shipping.toDomain(),
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		OrderID:    res.OrderID,
		Status:     string(res.Status),
		Total:      json.Number(res.Total),
		ReceiptURL: res.ReceiptURL,
		ShareLinks: res.Share,
	})
}

// CreateSession opens a hosted payment session. The Idempotency-Key header
// replays the first successful response.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" && len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), "orderId or items are required")
		return
	}

	res, err := h.checkout.CreatePaymentSession(r.Context(), app.SessionInput{
		OrderID:        strings.TrimSpace(req.OrderID),
		Lines:          toLines(req.Items),
		IdempotencyKey: interceptors.IdempotencyKey(r.Context()),
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse(res))
}

// Webhook receives gateway callbacks. The body is read as raw bytes because
// the signature covers them exactly.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), "unreadable body")
		return
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(h.opts.SignatureHeader))
	if err != nil {
		// Signature and payload errors are the sender's; anything else is
		// ours and must be retried by the gateway.
		if errors.Is(err, domain.ErrSignatureInvalid) || errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, domain.Code(err), err.Error())
			return
		}
		writeDomainError(r.Context(), w, err)
		return
	}
	slog.InfoContext(r.Context(), "webhook processed",
		"request_id", interceptors.RequestID(r.Context()),
		"event_id", res.EventID,
		"outcome", res.Outcome,
	)
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

// Confirm polls the gateway for a session's payment status.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	res, err := h.reconciler.Confirm(r.Context(), sessionID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse(res))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]ProductResponse, len(products))
	for i, p := range products {
		out[i] = mapProduct(p, h.opts.FrontURL)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "")
			return
		}
		writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=120")
	writeJSON(w, http.StatusOK, mapProduct(p, h.opts.FrontURL))
}

// Receipt serves a rendered PDF receipt.
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.receipts.Open(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(r.Context(), "receipt not served", "name", name, "error", err)
		}
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if st, err := f.Stat(); err == nil {
		modTime = st.ModTime()
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	http.ServeContent(w, r, name, modTime, f)
}

// Health pings every dependency; any failure turns the response into 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInvalidSize),
		errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "request_id", interceptors.RequestID(ctx), "error", err)
		msg = ""
	}
	writeError(w, status, domain.Code(err), msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
