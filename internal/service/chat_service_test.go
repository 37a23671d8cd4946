package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/market-chat/internal/bus"
	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/memory"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	id, user string

	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) ID() string     { return r.id }
func (r *recorder) UserID() string { return r.user }
func (r *recorder) Deliver(ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) got() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type countingObserver struct {
	mu        sync.Mutex
	persisted int
	failures  map[string]int
}

func (o *countingObserver) MessagePersisted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persisted++
}

func (o *countingObserver) DeliveryFailed(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures == nil {
		o.failures = map[string]int{}
	}
	o.failures[reason]++
}

type fixture struct {
	svc     *ChatService
	chats   *memory.ChatRepository
	blocks  *memory.BlockRepository
	counter *memory.UnreadCounter
	bus     *bus.Bus
	obs     *countingObserver
}

func newFixture(t *testing.T, chats ChatRepository) *fixture {
	t.Helper()
	f := &fixture{
		chats:   memory.NewChatRepository(),
		blocks:  memory.NewBlockRepository(),
		counter: memory.NewUnreadCounter(),
		bus:     bus.New(),
		obs:     &countingObserver{},
	}
	if chats == nil {
		chats = f.chats
	}
	f.svc = NewChatService(chats, f.blocks, f.counter, f.bus, ChatConfig{PersistTimeout: 200 * time.Millisecond},
		WithObserver(f.obs))
	return f
}

func (f *fixture) chat(t *testing.T) *domain.Chat {
	t.Helper()
	c, _, err := f.svc.CreateOrGetChat(context.Background(), CreateChatCommand{SellerID: "U1", BuyerID: "U2", ListingID: "L1"})
	require.NoError(t, err)
	return c
}

func (f *fixture) messages(t *testing.T, chatID string) []domain.Message {
	t.Helper()
	msgs, err := f.chats.Messages(context.Background(), chatID, 0, 0)
	require.NoError(t, err)
	return msgs
}

func Test_CreateOrGetChat_Twice_Returns_Same_ID(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	cmd := CreateChatCommand{SellerID: "U1", BuyerID: "U2", ListingID: "L1"}

	first, created, err := f.svc.CreateOrGetChat(ctx, cmd)
	req.NoError(err)
	req.True(created)

	second, created, err := f.svc.CreateOrGetChat(ctx, cmd)
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)

	list, err := f.svc.ListChatsForUser(ctx, "U1")
	req.NoError(err)
	req.Len(list, 1)
}

func Test_CreateOrGetChat_Validation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.svc.CreateOrGetChat(ctx, CreateChatCommand{SellerID: "U1", BuyerID: "U1", ListingID: "L1"})
	req.ErrorIs(err, domain.ErrValidation)

	_, _, err = f.svc.CreateOrGetChat(ctx, CreateChatCommand{SellerID: "U1", BuyerID: "U2", ListingID: "  "})
	req.ErrorIs(err, domain.ErrValidation)

	_, _, err = f.svc.CreateOrGetChat(ctx, CreateChatCommand{ActorID: "U3", SellerID: "U1", BuyerID: "U2", ListingID: "L1"})
	req.ErrorIs(err, domain.ErrUnauthorized)
}

func Test_Hello_Is_Stored_And_Delivered(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	chat := f.chat(t)

	u1 := &recorder{id: "conn-u1", user: "U1"}
	f.bus.Join(chat.ID, u1)

	d, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "Hello"})
	req.NoError(err)
	req.Equal(1, d.Published)

	msgs := f.messages(t, chat.ID)
	req.Len(msgs, 1)
	req.Equal("U2", msgs[0].SenderID)
	req.Equal("Hello", msgs[0].Content)
	req.False(msgs[0].SentAt.IsZero())

	events := u1.got()
	req.Len(events, 1)
	req.Equal(domain.EventMessageDelivered, events[0].Kind)
	req.Equal(chat.ID, events[0].ChatID)
	req.Equal(msgs[0], *events[0].Message)

	// U1 is watching the room, so nothing becomes unread
	unread, err := f.svc.Unread(context.Background(), "U1")
	req.NoError(err)
	req.Zero(unread.Total())
}

func Test_Block_Rejects_Send_And_Leaves_Log_Unchanged(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)

	_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "Hello"})
	req.NoError(err)

	req.NoError(NewBlockService(f.blocks).Block(ctx, "U1", "U2"))

	watcher := &recorder{id: "w", user: "U1"}
	f.bus.Join(chat.ID, watcher)

	_, err = f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "are you there?"})
	req.ErrorIs(err, domain.ErrBlocked)
	req.False(domain.Retryable(err))
	req.Len(f.messages(t, chat.ID), 1)
	req.Empty(watcher.got())
}

func Test_Block_Is_Symmetric(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)
	req.NoError(NewBlockService(f.blocks).Block(ctx, "U1", "U2"))

	room := &recorder{id: "r", user: "someone"}
	f.bus.Join(chat.ID, room)

	_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U1", Content: "from blocker"})
	req.ErrorIs(err, domain.ErrBlocked)
	_, err = f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "from blocked"})
	req.ErrorIs(err, domain.ErrBlocked)

	req.Empty(f.messages(t, chat.ID))
	req.Empty(room.got())
	req.Equal(2, f.obs.failures[domain.ReasonBlocked])

	req.NoError(NewBlockService(f.blocks).Unblock(ctx, "U1", "U2"))
	_, err = f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "back"})
	req.NoError(err)
}

func Test_Non_Participant_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	chat := f.chat(t)
	room := &recorder{id: "r", user: "U1"}
	f.bus.Join(chat.ID, room)

	_, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U3", Content: "hi"})
	req.ErrorIs(err, domain.ErrUnauthorized)
	req.Empty(f.messages(t, chat.ID))
	req.Empty(room.got())

	u, _ := f.svc.Unread(context.Background(), "U1")
	req.Zero(u.Total())
}

func Test_SendMessage_Validation_And_NotFound(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)

	cases := []SendCommand{
		{ChatID: "not-a-uuid", SenderID: "U2", Content: "x"},
		{ChatID: chat.ID, SenderID: "", Content: "x"},
		{ChatID: chat.ID, SenderID: "U2", Content: "   "},
		{ChatID: chat.ID, SenderID: "U2", Content: strings.Repeat("a", 4001)},
		{ChatID: chat.ID, SenderID: "U2", Content: "x", ClientMsgID: strings.Repeat("k", 65)},
	}
	for i, cmd := range cases {
		_, err := f.svc.SendMessage(ctx, cmd)
		req.ErrorIs(err, domain.ErrValidation, "case %d", i)
	}

	_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: "7f8b3c1e-2c6a-4a8e-9d5b-1f2e3d4c5b6a", SenderID: "U2", Content: "x"})
	req.ErrorIs(err, domain.ErrNotFound)

	req.Empty(f.messages(t, chat.ID))
}

func Test_Content_Is_Trimmed_And_Client_Time_Kept(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	chat := f.chat(t)
	at := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	d, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U1", Content: "  hi  ", SentAt: &at})
	req.NoError(err)
	req.Equal("hi", d.Message.Content)
	req.True(at.Equal(d.Message.SentAt))

	// an old client time does not move the message back in the log
	d2, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "later"})
	req.NoError(err)
	older := at.Add(-time.Hour)
	d3, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U1", Content: "past", SentAt: &older})
	req.NoError(err)
	req.Equal([]int64{1, 2, 3}, []int64{d.Message.Seq, d2.Message.Seq, d3.Message.Seq})
}

func Test_Offline_Recipient_Gets_Unread_And_MarkRead_Resets(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: fmt.Sprint(i)})
		req.NoError(err)
	}
	u, err := f.svc.Unread(ctx, "U1")
	req.NoError(err)
	req.Equal(int64(3), u.ByChat[chat.ID])

	// the sender's own counter is untouched
	u2, _ := f.svc.Unread(ctx, "U2")
	req.Zero(u2.Total())

	req.ErrorIs(f.svc.MarkRead(ctx, chat.ID, "U3"), domain.ErrUnauthorized)
	req.NoError(f.svc.MarkRead(ctx, chat.ID, "U1"))
	u, _ = f.svc.Unread(ctx, "U1")
	req.Zero(u.Total())
}

func Test_Duplicate_ClientMsgID_Is_Not_Republished(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)
	room := &recorder{id: "r", user: "U1"}
	f.bus.Join(chat.ID, room)

	cmd := SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "once", ClientMsgID: "c-1"}
	first, err := f.svc.SendMessage(ctx, cmd)
	req.NoError(err)
	second, err := f.svc.SendMessage(ctx, cmd)
	req.NoError(err)

	req.True(second.Duplicate)
	req.Equal(first.Message.ID, second.Message.ID)
	req.Len(f.messages(t, chat.ID), 1)
	req.Len(room.got(), 1)
	req.Equal(1, f.obs.persisted)
}

func Test_Same_ClientMsgID_From_Both_Participants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)

	first, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U1", Content: "price is 100", ClientMsgID: "1"})
	req.NoError(err)
	second, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "ok, I'll take it", ClientMsgID: "1"})
	req.NoError(err)

	req.False(second.Duplicate)
	req.Equal("U2", second.Message.SenderID)
	req.Equal("ok, I'll take it", second.Message.Content)
	req.NotEqual(first.Message.ID, second.Message.ID)
	req.Len(f.messages(t, chat.ID), 2)
	req.Equal(2, f.obs.persisted)
}

func Test_Concurrent_Sends_Publish_In_Commit_Order(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)
	room := &recorder{id: "r", user: "watcher"}
	f.bus.Join(chat.ID, room)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "U1"
			if i%2 == 0 {
				sender = "U2"
			}
			_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: sender, Content: fmt.Sprint(i)})
			req.NoError(err)
		}(i)
	}
	wg.Wait()

	msgs := f.messages(t, chat.ID)
	req.Len(msgs, n)

	events := room.got()
	req.Len(events, n)
	for i, ev := range events {
		req.Equal(int64(i+1), ev.Message.Seq)
		req.Equal(msgs[i].ID, ev.Message.ID)
	}
	req.Zero(f.svc.locks.size())
}

type slowRepo struct {
	*memory.ChatRepository
	delay time.Duration
}

func (r slowRepo) Append(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, error) {
	select {
	case <-time.After(r.delay):
		return r.ChatRepository.Append(ctx, chatID, msg)
	case <-ctx.Done():
		return domain.AppendResult{}, ctx.Err()
	}
}

func Test_Persist_Timeout_Is_A_Retryable_PersistenceError(t *testing.T) {
	req := require.New(t)
	base := memory.NewChatRepository()
	f := newFixture(t, slowRepo{ChatRepository: base, delay: time.Second})
	f.chats = base
	chat := f.chat(t)
	room := &recorder{id: "r", user: "U1"}
	f.bus.Join(chat.ID, room)

	_, err := f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "slow"})
	req.ErrorIs(err, domain.ErrPersistence)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.True(domain.Retryable(err))

	req.Empty(f.messages(t, chat.ID))
	req.Empty(room.got())
	u, _ := f.svc.Unread(context.Background(), "U1")
	req.Zero(u.Total())
}

func Test_Persist_Timeout_Covers_Chat_Lock_Wait(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	chat := f.chat(t)
	room := &recorder{id: "r", user: "U1"}
	f.bus.Join(chat.ID, room)

	// другой отправитель застрял внутри критической секции
	unlock, err := f.svc.locks.Lock(context.Background(), chat.ID)
	req.NoError(err)
	defer unlock()

	start := time.Now()
	_, err = f.svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U2", Content: "stuck"})
	req.ErrorIs(err, domain.ErrPersistence)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.True(domain.Retryable(err))
	req.Less(time.Since(start), time.Second)

	req.Empty(f.messages(t, chat.ID))
	req.Empty(room.got())
	req.Equal(1, f.obs.failures[domain.ReasonPersistence])
}

type brokenBlocks struct{ *memory.BlockRepository }

func (brokenBlocks) ExistsEither(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func Test_Block_Store_Failure_Is_PersistenceError(t *testing.T) {
	req := require.New(t)
	chats := memory.NewChatRepository()
	svc := NewChatService(chats, brokenBlocks{memory.NewBlockRepository()}, memory.NewUnreadCounter(), bus.New(), ChatConfig{})
	chat, _, err := svc.CreateOrGetChat(context.Background(), CreateChatCommand{SellerID: "U1", BuyerID: "U2", ListingID: "L1"})
	req.NoError(err)

	_, err = svc.SendMessage(context.Background(), SendCommand{ChatID: chat.ID, SenderID: "U1", Content: "x"})
	req.ErrorIs(err, domain.ErrPersistence)
}

func Test_History_Pages_And_Guards_Access(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)
	for i := 0; i < 5; i++ {
		_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U1", Content: fmt.Sprint(i)})
		req.NoError(err)
	}

	page, next, err := f.svc.History(ctx, chat.ID, "U2", "", 2)
	req.NoError(err)
	req.Len(page, 2)
	req.NotEmpty(next)

	page, next, err = f.svc.History(ctx, chat.ID, "U2", next, 2)
	req.NoError(err)
	req.Equal("2", page[0].Content)

	page, next, err = f.svc.History(ctx, chat.ID, "U2", next, 2)
	req.NoError(err)
	req.Len(page, 1)
	req.Empty(next)

	_, _, err = f.svc.History(ctx, chat.ID, "U3", "", 2)
	req.ErrorIs(err, domain.ErrUnauthorized)

	_, _, err = f.svc.History(ctx, chat.ID, "U1", "!!", 2)
	req.ErrorIs(err, domain.ErrValidation)
}

func Test_History_Exact_Page_Has_No_Next_Cursor(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	chat := f.chat(t)
	for i := 0; i < 4; i++ {
		_, err := f.svc.SendMessage(ctx, SendCommand{ChatID: chat.ID, SenderID: "U2", Content: fmt.Sprint(i)})
		req.NoError(err)
	}

	page, next, err := f.svc.History(ctx, chat.ID, "U1", "", 4)
	req.NoError(err)
	req.Len(page, 4)
	req.Empty(next)

	page, next, err = f.svc.History(ctx, chat.ID, "U1", "", 2)
	req.NoError(err)
	req.Len(page, 2)
	req.NotEmpty(next)

	page, next, err = f.svc.History(ctx, chat.ID, "U1", next, 2)
	req.NoError(err)
	req.Equal([]string{"2", "3"}, []string{page[0].Content, page[1].Content})
	req.Empty(next)
}

func Test_BlockService_Validation(t *testing.T) {
	req := require.New(t)
	s := NewBlockService(memory.NewBlockRepository())
	ctx := context.Background()

	req.ErrorIs(s.Block(ctx, "U1", "U1"), domain.ErrValidation)
	req.ErrorIs(s.Block(ctx, "", "U1"), domain.ErrValidation)
	req.NoError(s.Block(ctx, "U1", "U2"))
	req.NoError(s.Block(ctx, "U1", "U2"))

	list, err := s.List(ctx, "U1")
	req.NoError(err)
	req.Len(list, 1)

	ok, err := s.IsBlockedEither(ctx, "U2", "U1")
	req.NoError(err)
	req.True(ok)
}

func Test_KeyedMutex_Releases_Keys(t *testing.T) {
	req := require.New(t)
	k := newKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	req.NoError(err)
	unlockB, err := k.Lock(ctx, "b")
	req.NoError(err)
	req.Equal(2, k.size())

	done := make(chan struct{})
	go func() {
		unlock, err := k.Lock(ctx, "a")
		if err == nil {
			unlock()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second lock on the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-done
	unlockB()
	req.Zero(k.size())
}

func Test_KeyedMutex_Wait_Honours_Context(t *testing.T) {
	req := require.New(t)
	k := newKeyedMutex()

	unlock, err := k.Lock(context.Background(), "a")
	req.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	req.ErrorIs(err, context.DeadlineExceeded)
	req.Equal(1, k.size())

	unlock()
	req.Zero(k.size())
}
