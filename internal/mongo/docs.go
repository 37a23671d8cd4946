package mongo

import (
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

type messageDoc struct {
	ID          string    `bson:"id"`
	Seq         int64     `bson:"seq"`
	SenderID    string    `bson:"senderId"`
	Content     string    `bson:"content"`
	SentAt      time.Time `bson:"sentAt"`
	ClientMsgID string    `bson:"clientMsgId,omitempty"`
}

type chatDoc struct {
	ID              string       `bson:"_id"`
	SellerID        string       `bson:"sellerId"`
	BuyerID         string       `bson:"buyerId"`
	ListingID       string       `bson:"listingId"`
	IsSystemMessage bool         `bson:"isSystemMessage"`
	MessageCount    int64        `bson:"messageCount"`
	Messages        []messageDoc `bson:"messages"`
	CreatedAt       time.Time    `bson:"createdAt"`
	UpdatedAt       time.Time    `bson:"updatedAt"`
}

type blockDoc struct {
	BlockerID string    `bson:"blockerId"`
	BlockedID string    `bson:"blockedId"`
	CreatedAt time.Time `bson:"createdAt"`
}

func newMessageDoc(m domain.Message) messageDoc {
	return messageDoc{
		ID:          m.ID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		Content:     m.Content,
		SentAt:      m.SentAt.UTC(),
		ClientMsgID: m.ClientMsgID,
	}
}

func (d messageDoc) toDomain(chatID string) domain.Message {
	return domain.Message{
		ID:          d.ID,
		ChatID:      chatID,
		Seq:         d.Seq,
		SenderID:    d.SenderID,
		Content:     d.Content,
		SentAt:      d.SentAt.UTC(),
		ClientMsgID: d.ClientMsgID,
	}
}

// toDomain expects the header projection: Messages holds at most the last message.
func (d chatDoc) toDomain() *domain.Chat {
	c := &domain.Chat{
		ID:              d.ID,
		SellerID:        d.SellerID,
		BuyerID:         d.BuyerID,
		ListingID:       d.ListingID,
		IsSystemMessage: d.IsSystemMessage,
		MessageCount:    d.MessageCount,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if n := len(d.Messages); n > 0 {
		m := d.Messages[n-1].toDomain(d.ID)
		c.LastMessage = &m
	}
	return c
}
