package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"

	"github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
)

var errAlreadyExists = errors.New("already exists")

/*
абстрактный слой над *pgxpool.Pool / pgxmock
Begin нужен для атомарного append (блокировка строки чата)
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// rowQuerier is satisfied by both querier and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func withTx(ctx context.Context, q querier, fn func(tx pgx.Tx) error) (err error) {
	tx, err := q.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer func() {
		if err != nil {
			// контекст мог истечь, откатываем всё равно
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx))
}

// scanChat reads chatColumns: header plus the optional last message.
func scanChat(row scanner) (*domain.Chat, error) {
	var (
		c          domain.Chat
		msgID      *string
		msgSeq     *int64
		msgSender  *string
		msgContent *string
		msgSentAt  *time.Time
		msgClient  *string
	)
	err := row.Scan(
		&c.ID,
		&c.SellerID,
		&c.BuyerID,
		&c.ListingID,
		&c.IsSystemMessage,
		&c.MessageCount,
		&c.CreatedAt,
		&c.UpdatedAt,
		&msgID,
		&msgSeq,
		&msgSender,
		&msgContent,
		&msgSentAt,
		&msgClient,
	)
	if err != nil {
		return nil, err
	}

	if msgID != nil {
		c.LastMessage = &domain.Message{
			ID:          *msgID,
			ChatID:      c.ID,
			Seq:         lo.FromPtr(msgSeq),
			SenderID:    lo.FromPtr(msgSender),
			Content:     lo.FromPtr(msgContent),
			SentAt:      lo.FromPtr(msgSentAt),
			ClientMsgID: lo.FromPtr(msgClient),
		}
	}
	return &c, nil
}

func scanMessage(row scanner, chatID string) (domain.Message, error) {
	m := domain.Message{ChatID: chatID}
	var client *string
	if err := row.Scan(&m.ID, &m.Seq, &m.SenderID, &m.Content, &m.SentAt, &client); err != nil {
		return domain.Message{}, err
	}
	m.ClientMsgID = lo.FromPtr(client)
	return m, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique violation
			return fmt.Errorf("%w: %s", errAlreadyExists, pgErr.ConstraintName)
		case "22P02": // invalid_text_representation: id is not a uuid
			return fmt.Errorf("%w: malformed id", domain.ErrNotFound)
		}
	}
	return err
}

// notFoundOr maps pgx.ErrNoRows to domain.ErrNotFound for the given chat.
func notFoundOr(err error, chatID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return mapPgError(err)
}
