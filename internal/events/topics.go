package events

// Topic constants for domain events emitted by the engine.
const (
	TopicPromotionApplied  = "promotion.applied"
	TopicStockAllocated    = "flashsale.stock_allocated"
	TopicStockReleased     = "flashsale.stock_released"
	TopicReservationsSwept = "flashsale.reservations_swept"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicPromotionApplied,
		TopicStockAllocated,
		TopicStockReleased,
		TopicReservationsSwept,
	}
}
