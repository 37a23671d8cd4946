package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

type edge struct{ blocker, blocked string }

type BlockRepository struct {
	mu    sync.RWMutex
	edges map[edge]time.Time
}

func NewBlockRepository() *BlockRepository {
	return &BlockRepository{edges: make(map[edge]time.Time)}
}

func (r *BlockRepository) Block(_ context.Context, blockerID, blockedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := edge{blockerID, blockedID}
	if _, ok := r.edges[e]; !ok {
		r.edges[e] = time.Now().UTC()
	}
	return nil
}

func (r *BlockRepository) Unblock(_ context.Context, blockerID, blockedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.edges, edge{blockerID, blockedID})
	return nil
}

func (r *BlockRepository) ExistsEither(_ context.Context, a, b string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ab := r.edges[edge{a, b}]
	_, ba := r.edges[edge{b, a}]
	return ab || ba, nil
}

func (r *BlockRepository) ListByBlocker(_ context.Context, blockerID string) ([]domain.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Block, 0)
	for e, at := range r.edges {
		if e.blocker == blockerID {
			out = append(out, domain.Block{BlockerID: e.blocker, BlockedID: e.blocked, CreatedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedID < out[j].BlockedID })
	return out, nil
}
