package memory

import (
	"context"
	"sync"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

// UnreadCounter is the single-process counterpart of redis.UnreadCounter.
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[string]map[string]int64 // userID -> chatID -> n
}

func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[string]map[string]int64)}
}

func (c *UnreadCounter) Increment(_ context.Context, userID, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byChat, ok := c.counts[userID]
	if !ok {
		byChat = make(map[string]int64)
		c.counts[userID] = byChat
	}
	byChat[chatID]++
	return nil
}

func (c *UnreadCounter) Get(_ context.Context, userID string) (domain.Unread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := domain.Unread{UserID: userID, ByChat: make(map[string]int64, len(c.counts[userID]))}
	for chatID, n := range c.counts[userID] {
		out.ByChat[chatID] = n
	}
	return out, nil
}

// Reset clears one chat, or every chat of the user when chatID is empty.
func (c *UnreadCounter) Reset(_ context.Context, userID, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chatID == "" {
		delete(c.counts, userID)
		return nil
	}
	delete(c.counts[userID], chatID)
	return nil
}
