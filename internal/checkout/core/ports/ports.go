package ports

import (
	"context"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
)

// CatalogReader resolves authoritative product data. Missing ids are simply
// absent from the returned map.
type CatalogReader interface {
	Products(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// CatalogBrowser serves the public product listing.
type CatalogBrowser interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// Product fails with domain.ErrProductNotFound for unknown ids.
	Product(ctx context.Context, id string) (domain.Product, error)
}

// ShippingRates returns candidate delivery options for an address.
type ShippingRates interface {
	Options(ctx context.Context, addr domain.Address) ([]domain.ShippingOption, error)
}

// ReceiptDispatcher turns a frozen order snapshot into a document and
// share links. Links are returned even when rendering fails.
type ReceiptDispatcher interface {
	Dispatch(ctx context.Context, order domain.Order) (domain.Receipt, error)
}

// EventPublisher notifies downstream collaborators. Failures are non-fatal
// for the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// TransitionResult reports the outcome of a conditional status write.
type TransitionResult struct {
	// Found is false when no order matched the lookup key.
	Found bool
	// Applied is true only for the single call that performed the write.
	Applied bool
	OrderID string
	Status  domain.OrderStatus
}

// OrderStore persists orders. Every status change is a single atomic
// conditional write guarded on the current status, so concurrent callers
// converge without in-process locking.
type OrderStore interface {
	// Create inserts a new quoted order.
	Create(ctx context.Context, order *domain.Order, trigger translog.Trigger) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.Order, error)

	// Freeze writes the snapshot and sets awaiting_payment, only while the
	// stored status is quoted or awaiting_payment.
	Freeze(ctx context.Context, order *domain.Order, trigger translog.Trigger) (TransitionResult, error)

	// AttachSession sets payment_session_id once, for an awaiting_payment order.
	AttachSession(ctx context.Context, orderID, sessionID string) (bool, error)
	SetReceiptRef(ctx context.Context, orderID, ref string) error

	// MarkPaid sets paid on the order linked to sessionID if it is not paid yet.
	MarkPaid(ctx context.Context, sessionID string, trigger translog.Trigger) (TransitionResult, error)
	Cancel(ctx context.Context, orderID string) (TransitionResult, error)

	Events(ctx context.Context, orderID string) ([]translog.Entry, error)
	Ping(ctx context.Context) error
}
