package service

import (
	"context"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

// ChatRepository is the chat aggregate store.
// Implementations return errors wrapping domain.ErrNotFound for missing chats.
type ChatRepository interface {
	FindOrCreate(ctx context.Context, key domain.ChatKey, opts domain.CreateChatOptions) (*domain.Chat, bool, error)
	Get(ctx context.Context, chatID string) (*domain.Chat, error)
	Append(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, error)
	ListForUser(ctx context.Context, userID string) ([]domain.ChatSummary, error)
	Messages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]domain.Message, error)
}

type BlockRepository interface {
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	// ExistsEither checks a->b and b->a.
	ExistsEither(ctx context.Context, a, b string) (bool, error)
	ListByBlocker(ctx context.Context, blockerID string) ([]domain.Block, error)
}

type UnreadCounter interface {
	Increment(ctx context.Context, userID, chatID string) error
	Get(ctx context.Context, userID string) (domain.Unread, error)
	Reset(ctx context.Context, userID, chatID string) error
}

// Publisher is the room broadcast side of the pipeline.
type Publisher interface {
	Publish(chatID string, ev domain.Event) int
	HasUser(chatID, userID string) bool
}

type Observer interface {
	MessagePersisted()
	DeliveryFailed(reason string)
}

type nopObserver struct{}

func (nopObserver) MessagePersisted()     {}
func (nopObserver) DeliveryFailed(string) {}
