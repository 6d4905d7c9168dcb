package domain

import "time"

// ShareLinks are credential-free fallbacks the client can open to send the
// receipt: a prefilled mail to the buyer and a WhatsApp chat with the vendor.
type ShareLinks struct {
	Mailto   string `json:"mailto,omitempty"`
	WhatsApp string `json:"wa,omitempty"`
}

// Receipt is what the receipt dispatcher produced for a frozen order.
type Receipt struct {
	Ref   string
	URL   string
	Share ShareLinks
}

// Event types published to the notifier.
const (
	EventOrderFinalized = "order.finalized"
	EventOrderPaid      = "order.paid"
)

// Event is the payload handed to the event publisher.
type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}
