package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/verum/verum-indexer/internal/ledger"
	"github.com/verum/verum-indexer/internal/protocol"
	"github.com/verum/verum-indexer/internal/storage"
)

// Indexer is the read-only query facade composing traversal, story
// reconstruction and engagement aggregation. When a snapshot store is
// configured, computed aggregates are persisted best-effort; persistence
// failures are logged and never surface to callers.
type Indexer struct {
	fetcher    ledger.Fetcher
	chain      *ChainService
	story      *StoryService
	engagement *EngagementService
	store      storage.Store
	logger     *slog.Logger
	service    string
	version    string
	network    string
}

type IndexerParams struct {
	Fetcher     ledger.Fetcher
	Chain       *ChainService
	Story       *StoryService
	Engagement  *EngagementService
	Store       storage.Store
	Logger      *slog.Logger
	ServiceName string
	Version     string
	Network     string
}

func NewIndexer(params IndexerParams) (*Indexer, error) {
	if params.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if params.Chain == nil {
		return nil, errors.New("chain service is required")
	}
	if params.Story == nil {
		return nil, errors.New("story service is required")
	}
	if params.Engagement == nil {
		return nil, errors.New("engagement service is required")
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.ServiceName == "" {
		params.ServiceName = "verum-indexer"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	if params.Network == "" {
		params.Network = "mainnet"
	}
	return &Indexer{
		fetcher:    params.Fetcher,
		chain:      params.Chain,
		story:      params.Story,
		engagement: params.Engagement,
		store:      params.Store,
		logger:     params.Logger,
		service:    params.ServiceName,
		version:    params.Version,
		network:    params.Network,
	}, nil
}

func (ix *Indexer) UserChain(ctx context.Context, address string, limit int, notBefore int64) (protocol.ChainResult, error) {
	result, err := ix.chain.TraverseUserChain(ctx, address, limit, notBefore)
	if err != nil {
		return protocol.ChainResult{}, err
	}
	ix.saveCheckpoint(ctx, result)
	return result, nil
}

func (ix *Indexer) UserSubscriptions(ctx context.Context, address string, limit int) ([]protocol.ParsedTransaction, error) {
	result, err := ix.chain.TraverseUserChain(ctx, address, limit, 0)
	if err != nil {
		return nil, err
	}
	return result.Subscriptions, nil
}

func (ix *Indexer) Story(ctx context.Context, rootID string) (protocol.StoryResult, error) {
	return ix.story.Story(ctx, rootID)
}

func (ix *Indexer) Likes(ctx context.Context, targetID string) ([]protocol.IndexedLike, error) {
	return ix.engagement.LikesForContent(ctx, targetID)
}

func (ix *Indexer) Comments(ctx context.Context, targetID string) ([]protocol.IndexedComment, error) {
	return ix.engagement.CommentsForContent(ctx, targetID)
}

func (ix *Indexer) Engagement(ctx context.Context, targetID, actor string) (protocol.ContentEngagement, error) {
	out, err := ix.engagement.ContentEngagement(ctx, targetID, actor)
	if err != nil {
		return protocol.ContentEngagement{}, err
	}
	ix.saveSnapshot(ctx, out)
	return out, nil
}

func (ix *Indexer) ClearCache() {
	ix.engagement.ClearCache()
}

func (ix *Indexer) SweepCache() (int, int) {
	return ix.engagement.SweepCache()
}

func (ix *Indexer) Health(ctx context.Context) protocol.HealthResponse {
	resp := protocol.HealthResponse{
		Service:        ix.service,
		Version:        ix.version,
		Network:        ix.network,
		StorageEnabled: ix.store != nil,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	count, err := ix.fetcher.GetTransactionCount(ctx)
	if err == nil {
		resp.LedgerReachable = true
		resp.TransactionCount = count
	}
	if ix.store != nil {
		if n, err := ix.store.CountEngagementSnapshots(ctx); err == nil {
			resp.SnapshotCount = n
		}
		if n, err := ix.store.CountChainCheckpoints(ctx); err == nil {
			resp.CheckpointCount = n
		}
	}
	return resp
}

func (ix *Indexer) saveCheckpoint(ctx context.Context, result protocol.ChainResult) {
	if ix.store == nil || len(result.Transactions) == 0 {
		return
	}
	cp := storage.ChainCheckpoint{
		Address:           result.Address,
		LastTransactionID: result.LastTransactionID,
		LastSubscribeID:   result.LastSubscribeID,
		TransactionCount:  len(result.Transactions),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := ix.store.SaveChainCheckpoint(ctx, cp); err != nil {
		ix.logger.Warn("save chain checkpoint failed",
			slog.String("address", result.Address),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) saveSnapshot(ctx context.Context, out protocol.ContentEngagement) {
	if ix.store == nil {
		return
	}
	snap := storage.EngagementSnapshot{
		TargetID:        out.TargetID,
		LikeCount:       out.Metrics.LikeCount,
		CommentCount:    out.Metrics.CommentCount,
		TotalEngagement: out.Metrics.TotalEngagement,
		RecentActivity:  out.Metrics.RecentActivity,
		ComputedAt:      time.Now().UTC(),
	}
	if err := ix.store.SaveEngagementSnapshot(ctx, snap); err != nil {
		ix.logger.Warn("save engagement snapshot failed",
			slog.String("target_id", out.TargetID),
			slog.String("error", err.Error()),
		)
	}
}
