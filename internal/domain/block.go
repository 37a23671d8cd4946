package domain

import "time"

// Block is a directed edge. Its effect on messaging is symmetric.
type Block struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}
