package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cwrk-planet/market-chat/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "marketchat:unread:"

// UnreadCounter keeps one hash per user: field = chat id, value = unread count.
type UnreadCounter struct {
	rdb goredis.Cmdable
}

func NewUnreadCounter(rdb goredis.Cmdable) *UnreadCounter {
	return &UnreadCounter{rdb: rdb}
}

func unreadKey(userID string) string { return keyPrefix + userID }

func (c *UnreadCounter) Increment(ctx context.Context, userID, chatID string) error {
	return c.rdb.HIncrBy(ctx, unreadKey(userID), chatID, 1).Err()
}

func (c *UnreadCounter) Get(ctx context.Context, userID string) (domain.Unread, error) {
	raw, err := c.rdb.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return domain.Unread{}, err
	}

	out := domain.Unread{UserID: userID, ByChat: make(map[string]int64, len(raw))}
	for chatID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Unread{}, fmt.Errorf("unread %s/%s: %w", userID, chatID, err)
		}
		if n > 0 {
			out.ByChat[chatID] = n
		}
	}
	return out, nil
}

// Reset clears one chat, or every chat of the user when chatID is empty.
func (c *UnreadCounter) Reset(ctx context.Context, userID, chatID string) error {
	if chatID == "" {
		return c.rdb.Del(ctx, unreadKey(userID)).Err()
	}
	return c.rdb.HDel(ctx, unreadKey(userID), chatID).Err()
}
