package storage

import (
	"context"
	"time"
)

// EngagementSnapshot is a persisted record of a computed engagement
// aggregate. Snapshots are an audit/warm-metrics sidecar; queries never
// depend on them for correctness.
type EngagementSnapshot struct {
	TargetID        string
	LikeCount       int
	CommentCount    int
	TotalEngagement int
	RecentActivity  int
	ComputedAt      time.Time
}

// ChainCheckpoint records the tail of the most recent successful chain
// traversal for an address.
type ChainCheckpoint struct {
	Address           string
	LastTransactionID string
	LastSubscribeID   string
	TransactionCount  int
	UpdatedAt         time.Time
}

type Store interface {
	Close()

	SaveEngagementSnapshot(ctx context.Context, snap EngagementSnapshot) error
	GetEngagementSnapshot(ctx context.Context, targetID string) (EngagementSnapshot, bool, error)
	CountEngagementSnapshots(ctx context.Context) (int, error)

	SaveChainCheckpoint(ctx context.Context, cp ChainCheckpoint) error
	GetChainCheckpoint(ctx context.Context, address string) (ChainCheckpoint, bool, error)
	CountChainCheckpoints(ctx context.Context) (int, error)
}
