package orders

import "strconv"

const (
	TopicOrderCreated    = "order.created"
	TopicProductStockLow = "product.stock.low"
)

// PartitionKey keys events by product so that stock updates for one product
// stay ordered within a partition.
func PartitionKey(productID int64) []byte {
	return []byte(strconv.FormatInt(productID, 10))
}
