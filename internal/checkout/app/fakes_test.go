package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/gateway"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/store/sqlstore"
)

const webhookSecret = "whsec_test"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeCatalog map[string]domain.Product

func (f fakeCatalog) Products(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeRates []domain.ShippingOption

func (f fakeRates) Options(context.Context, domain.Address) ([]domain.ShippingOption, error) {
	return f, nil
}

// fakeGateway creates sequential sessions and reports whatever payment
// status the test sets. Webhook verification is the real one.
type fakeGateway struct {
	verifier *gateway.Manual

	mu        sync.Mutex
	seq       int
	requests  []ports.SessionRequest
	status    map[string]string
	createErr error
	getErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verifier: gateway.NewManual("http://localhost", 5*time.Minute), status: map[string]string{}}
}

func (g *fakeGateway) CreateSession(_ context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return ports.SessionHandle{}, g.createErr
	}
	g.seq++
	id := fmt.Sprintf("cs_%d", g.seq)
	g.requests = append(g.requests, req)
	g.status[id] = "unpaid"
	return ports.SessionHandle{SessionID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature, secret string) (ports.GatewayEvent, error) {
	return g.verifier.VerifyWebhook(payload, signature, secret)
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (ports.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return ports.SessionStatus{}, g.getErr
	}
	return ports.SessionStatus{SessionID: id, PaymentStatus: g.status[id]}, nil
}

func (g *fakeGateway) setPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = ports.PaymentStatusPaid
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeReceipts struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReceipts) Dispatch(_ context.Context, o domain.Order) (domain.Receipt, error) {
	f.calls.Add(1)
	share := domain.ShareLinks{Mailto: "mailto:" + o.Buyer.Email}
	if f.err != nil {
		return domain.Receipt{Share: share}, f.err
	}
	ref := "receipt_" + o.ID + ".pdf"
	return domain.Receipt{Ref: ref, URL: "http://localhost:8080/receipts/" + ref, Share: share}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) ofType(typ string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, e := range f.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// memCache is an in-process cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	return nil
}

func (m *memCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	if _, ok := m.data[key]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	return true, m.Set(ctx, key, value, ttl)
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memCache) GenerateKey(op, key string) string { return "test:" + op + ":" + key }

type harness struct {
	store    *sqlstore.Store
	gateway  *fakeGateway
	receipts *fakeReceipts
	events   *fakePublisher
	cache    *memCache
	svc      *Service
	rec      *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), sqlstore.DialectSQLite, filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog := fakeCatalog{
		"tee":    {ID: "tee", Name: "Logo Tee", Price: dec("24.90"), Sizes: []string{"M", "L"}},
		"mug":    {ID: "mug", Name: "Mug", Price: dec("12.00")},
		"hoodie": {ID: "hoodie", Name: "Hoodie", Price: dec("60.00"), Sizes: []string{"M", "L"}},
	}
	rates := fakeRates{{Carrier: "Correos", Service: "standard", Zone: "peninsula", Cost: dec("4.95")}}
	engine := pricing.NewEngine(catalog, rates, pricing.Config{
		VATRate:               dec("0.21"),
		FreeShippingThreshold: dec("100"),
		DiscountCodes:         map[string]decimal.Decimal{"BK5": dec("5"), "BK10": dec("10")},
	})

	h := &harness{
		store:    store,
		gateway:  newFakeGateway(),
		receipts: &fakeReceipts{},
		events:   &fakePublisher{},
		cache:    newMemCache(),
	}
	h.svc = NewService(engine, store, h.gateway, h.receipts, h.events, h.cache, nil, Options{FrontURL: "https://shop.example/"})
	h.rec = NewReconciler(store, h.gateway, h.events, nil, webhookSecret)
	return h
}

func buyer() domain.Buyer {
	return domain.Buyer{
		FullName: " Ana Pérez ",
		Email:    "ana@example.com",
		Phone:    "+34600000000",
		Address: domain.Address{
			Line1: "Calle Mayor 1", City: "Madrid", Province: "Madrid", PostalCode: "28013", Country: "es",
		},
	}
}

func teeCart() []domain.LineRequest {
	return []domain.LineRequest{{ProductID: "tee", Qty: 2, Size: "M"}}
}

func standardShipping() *domain.ShippingOption {
	return &domain.ShippingOption{Carrier: "Correos", Service: "standard", Zone: "peninsula", Cost: dec("4.95")}
}

// finalized returns an awaiting_payment order with an attached session.
func (h *harness) finalized(t *testing.T) (orderID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	fin, err := h.svc.Finalize(ctx, FinalizeInput{
		Lines: teeCart(), Buyer: buyer(), DiscountCode: "bk5", Shipping: standardShipping(),
	})
	require.NoError(t, err)
	sess, err := h.svc.CreatePaymentSession(ctx, SessionInput{OrderID: fin.OrderID})
	require.NoError(t, err)
	return fin.OrderID, sess.SessionID
}

func (h *harness) paidEvents(t *testing.T, orderID string) int {
	t.Helper()
	entries, err := h.store.Events(context.Background(), orderID)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.To == domain.StatusPaid {
			n++
		}
	}
	return n
}
