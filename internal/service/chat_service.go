package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/cwrk-planet/market-chat/internal/service")

type ChatConfig struct {
	PersistTimeout   time.Duration
	MaxContentLength int
	HistoryPageSize  int
	MaxHistoryPage   int
}

func (c *ChatConfig) withDefaults() {
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 4000
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 50
	}
	if c.MaxHistoryPage <= 0 {
		c.MaxHistoryPage = 200
	}
}

type CreateChatCommand struct {
	// ActorID is the caller; empty for internal callers.
	ActorID         string `validate:"omitempty,max=64"`
	SellerID        string `validate:"required,max=64"`
	BuyerID         string `validate:"required,max=64,nefield=SellerID"`
	ListingID       string `validate:"required,max=64"`
	IsSystemMessage bool
}

type SendCommand struct {
	ChatID      string `validate:"required,uuid"`
	SenderID    string `validate:"required,max=64"`
	Content     string `validate:"required"`
	SentAt      *time.Time
	ClientMsgID string `validate:"omitempty,max=64"`
}

// Delivery is the outcome of an accepted send.
type Delivery struct {
	Chat      *domain.Chat
	Message   domain.Message
	Duplicate bool
	// Published is the number of room subscribers that received the event.
	Published int
}

type ChatService struct {
	chats   ChatRepository
	blocks  BlockRepository
	counter UnreadCounter
	pub     Publisher
	obs     Observer
	cfg     ChatConfig
	locks   *keyedMutex
	now     func() time.Time
}

type Option func(*ChatService)

func WithObserver(o Observer) Option {
	return func(s *ChatService) { s.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

func NewChatService(
	chats ChatRepository,
	blocks BlockRepository,
	counter UnreadCounter,
	pub Publisher,
	cfg ChatConfig,
	opts ...Option,
) *ChatService {
	cfg.withDefaults()
	s := &ChatService{
		chats:   chats,
		blocks:  blocks,
		counter: counter,
		pub:     pub,
		obs:     nopObserver{},
		cfg:     cfg,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOrGetChat returns the chat for the (seller, buyer, listing) triple,
// creating it on first use. created reports whether this call inserted it.
func (s *ChatService) CreateOrGetChat(ctx context.Context, cmd CreateChatCommand) (chat *domain.Chat, created bool, err error) {
	cmd.SellerID = strings.TrimSpace(cmd.SellerID)
	cmd.BuyerID = strings.TrimSpace(cmd.BuyerID)
	cmd.ListingID = strings.TrimSpace(cmd.ListingID)
	if err := validate.Struct(cmd); err != nil {
		return nil, false, validationErr(err)
	}
	if cmd.ActorID != "" && cmd.ActorID != cmd.SellerID && cmd.ActorID != cmd.BuyerID {
		return nil, false, fmt.Errorf("%w: caller is not a participant", domain.ErrUnauthorized)
	}

	key := domain.ChatKey{SellerID: cmd.SellerID, BuyerID: cmd.BuyerID, ListingID: cmd.ListingID}
	chat, created, err = s.chats.FindOrCreate(ctx, key, domain.CreateChatOptions{IsSystemMessage: cmd.IsSystemMessage})
	if err != nil {
		return nil, false, storageErr("create chat", err)
	}
	if created {
		slog.Info("chat created",
			"chat_id", chat.ID, "listing_id", chat.ListingID, "system", chat.IsSystemMessage)
	}
	return chat, created, nil
}

// SendMessage runs the delivery pipeline: validate, resolve the chat,
// check participation and blocks, persist, then publish to the room.
// Any failure leaves no trace beyond the returned error.
func (s *ChatService) SendMessage(ctx context.Context, cmd SendCommand) (d Delivery, err error) {
	ctx, span := tracer.Start(ctx, "ChatService.SendMessage")
	defer span.End()
	defer func() {
		if err != nil {
			reason := domain.Reason(err)
			s.obs.DeliveryFailed(reason)
			span.SetStatus(codes.Error, reason)
			logger.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "message rejected",
				slog.String("chat_id", cmd.ChatID),
				slog.String("sender_id", cmd.SenderID),
				slog.String("reason", reason),
				slog.Any("err", err))
		}
	}()

	// 1. shape
	content, err := s.validateSend(&cmd)
	if err != nil {
		return Delivery{}, err
	}
	span.SetAttributes(attribute.String("chat.id", cmd.ChatID))

	// 2. chat
	chat, err := s.chats.Get(ctx, cmd.ChatID)
	if err != nil {
		return Delivery{}, storageErr("load chat", err)
	}

	// 3. participant
	otherID, ok := chat.Counterpart(cmd.SenderID)
	if !ok {
		return Delivery{}, fmt.Errorf("%w: sender is not a participant of chat %s", domain.ErrUnauthorized, chat.ID)
	}

	// 4. blocks, both directions
	blocked, err := s.blocks.ExistsEither(ctx, cmd.SenderID, otherID)
	if err != nil {
		return Delivery{}, storageErr("block check", err)
	}
	if blocked {
		return Delivery{}, fmt.Errorf("%w: messaging between participants is blocked", domain.ErrBlocked)
	}

	msg := domain.Message{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		SenderID:    cmd.SenderID,
		Content:     content,
		SentAt:      s.now().UTC(),
		ClientMsgID: cmd.ClientMsgID,
	}
	if cmd.SentAt != nil && !cmd.SentAt.IsZero() {
		msg.SentAt = cmd.SentAt.UTC()
	}

	// 5-6. persist and publish under the chat lock: publish order == commit order
	res, unlock, err := s.persist(ctx, chat.ID, msg)
	if err != nil {
		return Delivery{}, err
	}
	if res.Duplicate {
		unlock()
		slog.Debug("duplicate message ignored", "chat_id", chat.ID, "client_msg_id", msg.ClientMsgID)
		return Delivery{Chat: res.Chat, Message: res.Message, Duplicate: true}, nil
	}
	s.obs.MessagePersisted()

	stored := res.Message
	published := s.pub.Publish(chat.ID, domain.Event{
		Kind:    domain.EventMessageDelivered,
		ChatID:  chat.ID,
		Message: &stored,
	})
	online := s.pub.HasUser(chat.ID, otherID)
	unlock()

	if !online {
		// сообщение уже сохранено: ошибку счётчика только логируем
		if err := s.counter.Increment(context.WithoutCancel(ctx), otherID, chat.ID); err != nil {
			slog.Warn("unread increment failed", "user_id", otherID, "chat_id", chat.ID, "err", err)
		}
	}

	return Delivery{Chat: res.Chat, Message: stored, Published: published}, nil
}

func (s *ChatService) validateSend(cmd *SendCommand) (string, error) {
	cmd.ChatID = strings.TrimSpace(cmd.ChatID)
	cmd.SenderID = strings.TrimSpace(cmd.SenderID)
	cmd.ClientMsgID = strings.TrimSpace(cmd.ClientMsgID)
	content := strings.TrimSpace(cmd.Content)
	cmd.Content = content

	if err := validate.Struct(cmd); err != nil {
		return "", validationErr(err)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid utf-8", domain.ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > s.cfg.MaxContentLength {
		return "", fmt.Errorf("%w: content is %d characters, limit %d", domain.ErrValidation, n, s.cfg.MaxContentLength)
	}
	return content, nil
}

// persist takes the chat lock and appends msg. PersistTimeout covers both
// the wait for the lock and the write. On success the lock is still held
// and the caller must run unlock.
func (s *ChatService) persist(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, chatID)
	if err != nil {
		return domain.AppendResult{}, nil, storageErr("wait chat lock", err)
	}
	res, err := s.chats.Append(ctx, chatID, msg)
	if err != nil {
		unlock()
		return domain.AppendResult{}, nil, storageErr("append message", err)
	}
	return res, unlock, nil
}

// GetChat returns the chat header; only participants may read it.
func (s *ChatService) GetChat(ctx context.Context, chatID, requesterID string) (*domain.Chat, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, storageErr("load chat", err)
	}
	if !chat.IsParticipant(requesterID) {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrUnauthorized)
	}
	return chat, nil
}

func (s *ChatService) ListChatsForUser(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	items, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, storageErr("list chats", err)
	}
	return items, nil
}

// History returns messages after cursor in log order, plus the next cursor
// ("" when the page is the last one).
func (s *ChatService) History(ctx context.Context, chatID, requesterID, cursor string, limit int) ([]domain.Message, string, error) {
	if _, err := s.GetChat(ctx, chatID, requesterID); err != nil {
		return nil, "", err
	}
	cur, err := domain.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > s.cfg.MaxHistoryPage {
		limit = s.cfg.MaxHistoryPage
	}

	// на одну запись больше: так видно, есть ли следующая страница
	items, err := s.chats.Messages(ctx, chatID, cur.Seq, limit+1)
	if err != nil {
		return nil, "", storageErr("load history", err)
	}

	var next string
	if len(items) > limit {
		items = items[:limit]
		next = domain.EncodeCursor(domain.Cursor{Seq: items[len(items)-1].Seq})
	}
	return items, next, nil
}

// MarkRead resets userID's unread counter for the chat.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) error {
	if _, err := s.GetChat(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.counter.Reset(ctx, userID, chatID); err != nil {
		return storageErr("reset unread", err)
	}
	return nil
}

func (s *ChatService) Unread(ctx context.Context, userID string) (domain.Unread, error) {
	u, err := s.counter.Get(ctx, userID)
	if err != nil {
		return domain.Unread{}, storageErr("get unread", err)
	}
	return u, nil
}
