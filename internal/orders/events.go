package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventProductStockLow = "ProductStockLow"
)

const EventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID        int64     `json:"order_id"`
	ProductID      int64     `json:"product_id"`
	Quantity       int       `json:"quantity"`
	RemainingStock int       `json:"remaining_stock"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductStockLowPayload struct {
	ProductID      int64 `json:"product_id"`
	RemainingStock int   `json:"remaining_stock"`
	Threshold      int   `json:"threshold"`
	LastOrderID    int64 `json:"last_order_id"`
}
