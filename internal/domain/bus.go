package domain

// MessageBus routes inbound messages from channels to the firewall worker.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
