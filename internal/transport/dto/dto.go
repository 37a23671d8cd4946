// Package dto holds the JSON shapes shared by the websocket, HTTP and gRPC surfaces.
package dto

import (
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"

	"github.com/samber/lo"
)

type Message struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chatId"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"senderId"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
}

type Chat struct {
	ID              string    `json:"id"`
	SellerID        string    `json:"sellerId"`
	BuyerID         string    `json:"buyerId"`
	ListingID       string    `json:"listingId"`
	IsSystemMessage bool      `json:"isSystemMessage"`
	MessageCount    int64     `json:"messageCount"`
	LastMessage     *Message  `json:"lastMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Block struct {
	BlockerID string    `json:"blockerId"`
	BlockedID string    `json:"blockedId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Unread struct {
	Total  int64            `json:"total"`
	ByChat map[string]int64 `json:"byChat"`
}

func MessageFrom(m domain.Message) Message {
	return Message{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		Content:     m.Content,
		SentAt:      m.SentAt,
		ClientMsgID: m.ClientMsgID,
	}
}

func messagePtr(m *domain.Message) *Message {
	if m == nil {
		return nil
	}
	out := MessageFrom(*m)
	return &out
}

func Messages(ms []domain.Message) []Message {
	return lo.Map(ms, func(m domain.Message, _ int) Message { return MessageFrom(m) })
}

func ChatFrom(c *domain.Chat) Chat {
	return Chat{
		ID:              c.ID,
		SellerID:        c.SellerID,
		BuyerID:         c.BuyerID,
		ListingID:       c.ListingID,
		IsSystemMessage: c.IsSystemMessage,
		MessageCount:    c.MessageCount,
		LastMessage:     messagePtr(c.LastMessage),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func Summaries(items []domain.ChatSummary) []Chat {
	return lo.Map(items, func(s domain.ChatSummary, _ int) Chat {
		return Chat{
			ID:              s.ID,
			SellerID:        s.SellerID,
			BuyerID:         s.BuyerID,
			ListingID:       s.ListingID,
			IsSystemMessage: s.IsSystemMessage,
			MessageCount:    s.MessageCount,
			LastMessage:     messagePtr(s.LastMessage),
			UpdatedAt:       s.UpdatedAt,
		}
	})
}

func Blocks(items []domain.Block) []Block {
	return lo.Map(items, func(b domain.Block, _ int) Block {
		return Block{BlockerID: b.BlockerID, BlockedID: b.BlockedID, CreatedAt: b.CreatedAt}
	})
}

func UnreadFrom(u domain.Unread) Unread {
	return Unread{Total: u.Total(), ByChat: lo.Assign(map[string]int64{}, u.ByChat)}
}
