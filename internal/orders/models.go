package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Order is immutable once persisted.
type Order struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerAddress string    `json:"customer_address"`
	CustomerPhone   string    `json:"customer_phone"`
	Quantity        int       `json:"quantity"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewOrder is a candidate order as submitted by a client.
type NewOrder struct {
	ProductID       int64  `json:"product_id"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	CustomerPhone   string `json:"customer_phone"`
	Quantity        int    `json:"quantity"`
}

// Fingerprint is a stable digest of the normalized order, used to bind an
// idempotency key to the request that claimed it.
func (in NewOrder) Fingerprint() string {
	raw := fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00%d",
		in.ProductID, in.CustomerName, in.CustomerAddress, in.CustomerPhone, in.Quantity)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)).String()
}

type NewProduct struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Placement is the outcome of a committed order: the stored order and the
// product stock left after the decrement.
type Placement struct {
	Order          Order
	RemainingStock int
}
