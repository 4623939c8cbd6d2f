package orders

const (
	TopicOrderPlaced        = "market.order.placed"
	TopicOrderStatusChanged = "market.order.status_changed"
	TopicLotChanged         = "market.lot.changed"
)

// Partition key = lot_id for lot events and order_id for order events, so
// each entity's events keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
