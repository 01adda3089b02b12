package events

// Topic constants for domain events emitted by the reservation service.
const (
	TopicBookingConfirmed = "booking.confirmed"
)

// DefaultTopics returns the topics that trigger confirmation deliveries.
func DefaultTopics() []string {
	return []string{TopicBookingConfirmed}
}
