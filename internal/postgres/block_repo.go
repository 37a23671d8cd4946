package postgres

import (
	"context"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
	"github.com/cwrk-planet/market-chat/internal/postgres/queries"
)

type BlockRepository struct {
	q   querier
	now func() time.Time
}

func NewBlockRepository(q querier) *BlockRepository {
	return &BlockRepository{q: q, now: time.Now}
}

// Block is idempotent (ON CONFLICT DO NOTHING).
func (r *BlockRepository) Block(ctx context.Context, blockerID, blockedID string) error {
	if _, err := r.q.Exec(ctx, queries.QueryInsertBlock, blockerID, blockedID, r.now().UTC()); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *BlockRepository) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if _, err := r.q.Exec(ctx, queries.QueryDeleteBlock, blockerID, blockedID); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *BlockRepository) ExistsEither(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx, queries.QueryExistsEither, a, b).Scan(&exists); err != nil {
		return false, mapPgError(err)
	}
	return exists, nil
}

func (r *BlockRepository) ListByBlocker(ctx context.Context, blockerID string) ([]domain.Block, error) {
	rows, err := r.q.Query(ctx, queries.QueryListByBlocker, blockerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Block, 0)
	for rows.Next() {
		var b domain.Block
		if err := rows.Scan(&b.BlockerID, &b.BlockedID, &b.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
