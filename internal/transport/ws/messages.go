package ws

import (
	"encoding/json"
	"time"

	"github.com/cwrk-planet/market-chat/internal/transport/dto"
)

// Входящие события
const (
	TypeJoin  = "join"
	TypeLeave = "leave"
	TypeSend  = "send"
)

// Исходящие события
const (
	TypeSession          = "session"
	TypeJoined           = "joined"
	TypeLeft             = "left"
	TypeMessageDelivered = "messageDelivered"
	TypeDeliveryFailed   = "deliveryFailed"
	TypeError            = "error"
)

// Frame is an inbound frame; Payload is decoded by the handler for Type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ChatRefPayload struct {
	ChatID string `json:"chatId"`
}

type SendPayload struct {
	ChatID      string     `json:"chatId"`
	SenderID    string     `json:"senderId,omitempty"`
	Content     string     `json:"content"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	ClientMsgID string     `json:"clientMsgId,omitempty"`
}

type SessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type MessageDeliveredPayload struct {
	ChatID  string      `json:"chatId"`
	Message dto.Message `json:"message"`
}

// DeliveryFailedPayload уходит только отправителю.
type DeliveryFailedPayload struct {
	ChatID      string `json:"chatId"`
	Reason      string `json:"reason"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
