package orders

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Column limits of the products and orders tables.
const (
	maxInteger  = math.MaxInt32
	priceDigits = 2
)

// maxPrice is the first value that does not fit NUMERIC(12,2).
var maxPrice = decimal.New(1, 10)

// Normalize trims the customer fields and checks every constraint on a
// candidate order. The returned value is what gets persisted.
func (in NewOrder) Normalize() (NewOrder, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerAddress = strings.TrimSpace(in.CustomerAddress)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)

	switch {
	case in.ProductID <= 0:
		return in, invalid("product_id", "must be a positive integer")
	case in.CustomerName == "":
		return in, invalid("customer_name", "must not be empty")
	case in.CustomerAddress == "":
		return in, invalid("customer_address", "must not be empty")
	case in.CustomerPhone == "":
		return in, invalid("customer_phone", "must not be empty")
	case in.Quantity <= 0:
		return in, invalid("quantity", "must be a positive integer")
	case in.Quantity > maxInteger:
		return in, invalid("quantity", "must not exceed 2147483647")
	}
	return in, nil
}

func (in NewProduct) Normalize() (NewProduct, error) {
	in.Name = strings.TrimSpace(in.Name)

	switch {
	case in.Name == "":
		return in, invalid("name", "must not be empty")
	case in.Price.IsNegative():
		return in, invalid("price", "must not be negative")
	case !in.Price.Equal(in.Price.Truncate(priceDigits)):
		return in, invalid("price", "must have at most 2 decimal places")
	case in.Price.GreaterThanOrEqual(maxPrice):
		return in, invalid("price", "must be less than 10000000000")
	case in.Stock < 0:
		return in, invalid("stock", "must not be negative")
	case in.Stock > maxInteger:
		return in, invalid("stock", "must not exceed 2147483647")
	}
	return in, nil
}
