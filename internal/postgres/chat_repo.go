package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/postgres/queries"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

type ChatRepository struct {
	q   querier
	now func() time.Time
}

// NewChatRepository принимает *pgxpool.Pool (или pgxmock в тестах).
func NewChatRepository(q querier) *ChatRepository {
	return &ChatRepository{q: q, now: time.Now}
}

// FindOrCreate relies on the unique (seller_id, buyer_id, listing_id) index:
// concurrent callers converge on one row, and only the inserting one sees created=true.
func (r *ChatRepository) FindOrCreate(ctx context.Context, key domain.ChatKey, opts domain.CreateChatOptions) (*domain.Chat, bool, error) {
	var (
		id       string
		inserted bool
	)
	err := r.q.QueryRow(
		ctx,
		queries.QueryUpsertChat,
		uuid.NewString(),
		key.SellerID,
		key.BuyerID,
		key.ListingID,
		opts.IsSystemMessage,
		r.now().UTC(),
	).Scan(&id, &inserted)
	if err != nil {
		return nil, false, mapPgError(err)
	}

	chat, err := getChat(ctx, r.q, id)
	if err != nil {
		return nil, false, err
	}
	return chat, inserted, nil
}

func (r *ChatRepository) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	return getChat(ctx, r.q, chatID)
}

func getChat(ctx context.Context, q rowQuerier, chatID string) (*domain.Chat, error) {
	chat, err := scanChat(q.QueryRow(ctx, queries.QueryGetChat, chatID))
	if err != nil {
		return nil, notFoundOr(err, chatID)
	}
	return chat, nil
}

// Append locks the chat row, so appends to one chat are serialized across
// processes and seq stays gap-free.
func (r *ChatRepository) Append(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, error) {
	var res domain.AppendResult
	err := withTx(ctx, r.q, func(tx pgx.Tx) error {
		var chat domain.Chat
		err := tx.QueryRow(ctx, queries.QueryLockChat, chatID).Scan(
			&chat.ID,
			&chat.SellerID,
			&chat.BuyerID,
			&chat.ListingID,
			&chat.IsSystemMessage,
			&chat.MessageCount,
			&chat.CreatedAt,
			&chat.UpdatedAt,
		)
		if err != nil {
			return notFoundOr(err, chatID)
		}

		if msg.ClientMsgID != "" {
			prev, err := scanMessage(tx.QueryRow(ctx, queries.QueryMessageByKey, chatID, msg.SenderID, msg.ClientMsgID), chatID)
			switch {
			case err == nil:
				current, err := getChat(ctx, tx, chatID)
				if err != nil {
					return err
				}
				res = domain.AppendResult{Chat: current, Message: prev, Duplicate: true}
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return mapPgError(err)
			}
		}

		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.ChatID = chat.ID
		msg.Seq = chat.MessageCount + 1
		now := r.now().UTC()

		if _, err := tx.Exec(ctx, queries.QueryInsertMessage,
			chat.ID, msg.Seq, msg.ID, msg.SenderID, msg.Content, msg.SentAt, lo.EmptyableToPtr(msg.ClientMsgID),
		); err != nil {
			return mapPgError(err)
		}
		if _, err := tx.Exec(ctx, queries.QueryBumpChat, chat.ID, msg.Seq, now); err != nil {
			return mapPgError(err)
		}

		chat.MessageCount = msg.Seq
		chat.UpdatedAt = now
		chat.LastMessage = &msg
		res = domain.AppendResult{Chat: &chat, Message: msg}
		return nil
	})
	if err != nil {
		return domain.AppendResult{}, err
	}
	return res, nil
}

func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	rows, err := r.q.Query(ctx, queries.QueryListChatsForUser, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.ChatSummary, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, chat.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

// Messages returns up to limit messages with seq > afterSeq; limit <= 0 means all.
func (r *ChatRepository) Messages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]domain.Message, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.q.Query(ctx, queries.QueryMessagesAfter, chatID, max(afterSeq, 0), lim)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows, chatID)
		if err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}

	if len(out) == 0 {
		// пустая страница или нет такого чата
		var one int
		if err := r.q.QueryRow(ctx, queries.QueryExistsChat, chatID).Scan(&one); err != nil {
			return nil, notFoundOr(err, chatID)
		}
	}
	return out, nil
}
