package kafka

// Топики по умолчанию.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicShippingEvents  = "storefront.shipping.events"
	TopicCarrierInbound  = "storefront.carrier.inbound"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
)
