package bus

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

// Subscriber is any live endpoint that can receive room events.
// Deliver must not block; slow subscribers are expected to drop themselves.
type Subscriber interface {
	ID() string
	UserID() string
	Deliver(ev domain.Event) error
}

// Bus: in-memory реестр комнат: chatID -> подписчики.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber // chatID -> subscriberID -> subscriber

	onPublish func(chatID string, delivered int)
}

type Option func(*Bus)

// WithPublishHook is called after every publish, outside of the lock.
func WithPublishHook(fn func(chatID string, delivered int)) Option {
	return func(b *Bus) { b.onPublish = fn }
}

func New(opts ...Option) *Bus {
	b := &Bus{rooms: make(map[string]map[string]Subscriber)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Join is idempotent. No permission check here: watching a room is free,
// sending into it goes through the pipeline.
func (b *Bus) Join(chatID string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.rooms[chatID]
	if !ok {
		rs = make(map[string]Subscriber)
		b.rooms[chatID] = rs
	}
	rs[s.ID()] = s
}

// Leave is idempotent; unknown rooms and subscribers are a no-op.
func (b *Bus) Leave(chatID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rs, ok := b.rooms[chatID]; ok {
		delete(rs, subscriberID)
		if len(rs) == 0 {
			delete(b.rooms, chatID)
		}
	}
}

// Publish delivers ev once to every subscriber present at call time and
// returns how many accepted it.
func (b *Bus) Publish(chatID string, ev domain.Event) int {
	delivered := b.publish(chatID, ev)
	if b.onPublish != nil {
		b.onPublish(chatID, delivered)
	}
	return delivered
}

func (b *Bus) publish(chatID string, ev domain.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.rooms[chatID] {
		if err := s.Deliver(ev); err != nil {
			slog.Debug("bus deliver skipped",
				"chat_id", chatID, "subscriber", s.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// HasUser reports whether userID has at least one subscriber in the room.
func (b *Bus) HasUser(chatID, userID string) bool {
	if userID == "" {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.rooms[chatID] {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

func (b *Bus) Subscribers(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.rooms[chatID])
}

func (b *Bus) Rooms() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.rooms)
}
