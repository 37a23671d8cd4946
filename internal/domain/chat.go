package domain

import "time"

// ChatKey is the natural key of a chat: one conversation per listing and buyer.
type ChatKey struct {
	SellerID  string
	BuyerID   string
	ListingID string
}

type Chat struct {
	ID              string
	SellerID        string
	BuyerID         string
	ListingID       string
	IsSystemMessage bool

	// Messages is filled only when the full log was requested.
	Messages     []Message
	MessageCount int64
	LastMessage  *Message

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Chat) Key() ChatKey {
	return ChatKey{SellerID: c.SellerID, BuyerID: c.BuyerID, ListingID: c.ListingID}
}

func (c *Chat) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.SellerID || userID == c.BuyerID)
}

// Counterpart returns the other participant. ok is false for outsiders.
func (c *Chat) Counterpart(userID string) (string, bool) {
	switch userID {
	case c.SellerID:
		return c.BuyerID, true
	case c.BuyerID:
		return c.SellerID, true
	default:
		return "", false
	}
}

// ChatSummary is the list view: chat header plus its latest message.
type ChatSummary struct {
	ID              string
	SellerID        string
	BuyerID         string
	ListingID       string
	IsSystemMessage bool
	MessageCount    int64
	LastMessage     *Message
	UpdatedAt       time.Time
}

func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:              c.ID,
		SellerID:        c.SellerID,
		BuyerID:         c.BuyerID,
		ListingID:       c.ListingID,
		IsSystemMessage: c.IsSystemMessage,
		MessageCount:    c.MessageCount,
		LastMessage:     c.LastMessage,
		UpdatedAt:       c.UpdatedAt,
	}
}

type CreateChatOptions struct {
	IsSystemMessage bool
}

// AppendResult is what a store reports after an append.
// Duplicate is set when ClientMsgID was already stored; Message is then the earlier one.
type AppendResult struct {
	Chat      *Chat
	Message   Message
	Duplicate bool
}
