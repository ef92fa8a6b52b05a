package config

const (
	// TopicDeliveryEnqueue carries raw delivery submissions from upstream producers.
	TopicDeliveryEnqueue = "delivery.enqueue"

	// ChannelCourier is the NSQ channel this service consumes from.
	ChannelCourier = "courier"
)

