package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"

	"github.com/google/uuid"
)

// clientKey scopes idempotency keys per sender: participants pick them independently.
type clientKey struct {
	senderID    string
	clientMsgID string
}

type chatRecord struct {
	mu       sync.Mutex
	chat     domain.Chat
	messages []domain.Message
	byClient map[clientKey]int // (sender, clientMsgID) -> index in messages
}

// ChatRepository keeps chats in process memory.
// The key index is guarded by one mutex; appends lock only their own chat.
type ChatRepository struct {
	mu    sync.RWMutex
	byID  map[string]*chatRecord
	byKey map[domain.ChatKey]string

	now func() time.Time
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{
		byID:  make(map[string]*chatRecord),
		byKey: make(map[domain.ChatKey]string),
		now:   time.Now,
	}
}

func (r *ChatRepository) FindOrCreate(_ context.Context, key domain.ChatKey, opts domain.CreateChatOptions) (*domain.Chat, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		return r.byID[id].header(), false, nil
	}

	now := r.now().UTC()
	rec := &chatRecord{
		chat: domain.Chat{
			ID:              uuid.NewString(),
			SellerID:        key.SellerID,
			BuyerID:         key.BuyerID,
			ListingID:       key.ListingID,
			IsSystemMessage: opts.IsSystemMessage,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		byClient: make(map[clientKey]int),
	}
	r.byID[rec.chat.ID] = rec
	r.byKey[key] = rec.chat.ID
	return rec.header(), true, nil
}

func (r *ChatRepository) record(chatID string) (*chatRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return rec, nil
}

func (r *ChatRepository) Get(_ context.Context, chatID string) (*domain.Chat, error) {
	rec, err := r.record(chatID)
	if err != nil {
		return nil, err
	}
	return rec.header(), nil
}

func (r *ChatRepository) Append(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, error) {
	rec, err := r.record(chatID)
	if err != nil {
		return domain.AppendResult{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.AppendResult{}, err
	}

	if msg.ClientMsgID != "" {
		if i, ok := rec.byClient[clientKey{msg.SenderID, msg.ClientMsgID}]; ok {
			return domain.AppendResult{Chat: rec.headerLocked(), Message: rec.messages[i], Duplicate: true}, nil
		}
	}

	msg.ChatID = chatID
	msg.Seq = int64(len(rec.messages)) + 1
	rec.messages = append(rec.messages, msg)
	if msg.ClientMsgID != "" {
		rec.byClient[clientKey{msg.SenderID, msg.ClientMsgID}] = len(rec.messages) - 1
	}
	rec.chat.MessageCount = msg.Seq
	rec.chat.UpdatedAt = r.now().UTC()

	return domain.AppendResult{Chat: rec.headerLocked(), Message: msg}, nil
}

func (r *ChatRepository) ListForUser(_ context.Context, userID string) ([]domain.ChatSummary, error) {
	r.mu.RLock()
	recs := make([]*chatRecord, 0)
	for _, rec := range r.byID {
		if rec.chat.SellerID == userID || rec.chat.BuyerID == userID {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	out := make([]domain.ChatSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.header().Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Messages returns up to limit messages with seq > afterSeq; limit <= 0 means all.
func (r *ChatRepository) Messages(_ context.Context, chatID string, afterSeq int64, limit int) ([]domain.Message, error) {
	rec, err := r.record(chatID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(rec.messages)) {
		return []domain.Message{}, nil
	}
	tail := rec.messages[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]domain.Message(nil), tail...), nil
}

func (rec *chatRecord) header() *domain.Chat {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.headerLocked()
}

func (rec *chatRecord) headerLocked() *domain.Chat {
	c := rec.chat
	if n := len(rec.messages); n > 0 {
		last := rec.messages[n-1]
		c.LastMessage = &last
	}
	return &c
}
