package domain

type EventKind string

const EventMessageDelivered EventKind = "messageDelivered"

// Event is what the bus fans out to room subscribers.
type Event struct {
	Kind    EventKind
	ChatID  string
	Message *Message
}
