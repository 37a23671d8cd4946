package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/market-chat/internal/domain"
)

type blockCommand struct {
	BlockerID string `validate:"required,max=64"`
	BlockedID string `validate:"required,max=64,nefield=BlockerID"`
}

type BlockService struct {
	blocks BlockRepository
}

func NewBlockService(blocks BlockRepository) *BlockService {
	return &BlockService{blocks: blocks}
}

// Block is idempotent.
func (s *BlockService) Block(ctx context.Context, blockerID, blockedID string) error {
	cmd := blockCommand{BlockerID: strings.TrimSpace(blockerID), BlockedID: strings.TrimSpace(blockedID)}
	if err := validate.Struct(cmd); err != nil {
		return validationErr(err)
	}
	if err := s.blocks.Block(ctx, cmd.BlockerID, cmd.BlockedID); err != nil {
		return storageErr("block user", err)
	}
	slog.Info("user blocked", "blocker_id", cmd.BlockerID, "blocked_id", cmd.BlockedID)
	return nil
}

// Unblock removes only the blocker's own edge; a reverse edge stays in force.
func (s *BlockService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	cmd := blockCommand{BlockerID: strings.TrimSpace(blockerID), BlockedID: strings.TrimSpace(blockedID)}
	if err := validate.Struct(cmd); err != nil {
		return validationErr(err)
	}
	if err := s.blocks.Unblock(ctx, cmd.BlockerID, cmd.BlockedID); err != nil {
		return storageErr("unblock user", err)
	}
	slog.Info("user unblocked", "blocker_id", cmd.BlockerID, "blocked_id", cmd.BlockedID)
	return nil
}

func (s *BlockService) IsBlockedEither(ctx context.Context, a, b string) (bool, error) {
	ok, err := s.blocks.ExistsEither(ctx, a, b)
	if err != nil {
		return false, storageErr("block check", err)
	}
	return ok, nil
}

func (s *BlockService) List(ctx context.Context, blockerID string) ([]domain.Block, error) {
	if strings.TrimSpace(blockerID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	items, err := s.blocks.ListByBlocker(ctx, blockerID)
	if err != nil {
		return nil, storageErr("list blocks", err)
	}
	return items, nil
}
