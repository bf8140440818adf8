package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verum/verum-indexer/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration001); err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

func (s *Store) SaveEngagementSnapshot(ctx context.Context, snap storage.EngagementSnapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO engagement_snapshots (target_id, like_count, comment_count, total_engagement, recent_activity, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (target_id) DO UPDATE SET
  like_count = EXCLUDED.like_count,
  comment_count = EXCLUDED.comment_count,
  total_engagement = EXCLUDED.total_engagement,
  recent_activity = EXCLUDED.recent_activity,
  computed_at = EXCLUDED.computed_at
`, snap.TargetID, snap.LikeCount, snap.CommentCount, snap.TotalEngagement, snap.RecentActivity, snap.ComputedAt.UTC())
	return err
}

func (s *Store) GetEngagementSnapshot(ctx context.Context, targetID string) (storage.EngagementSnapshot, bool, error) {
	var out storage.EngagementSnapshot
	err := s.pool.QueryRow(ctx, `
SELECT target_id, like_count, comment_count, total_engagement, recent_activity, computed_at
FROM engagement_snapshots
WHERE target_id = $1
`, targetID).Scan(&out.TargetID, &out.LikeCount, &out.CommentCount, &out.TotalEngagement, &out.RecentActivity, &out.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (s *Store) CountEngagementSnapshots(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM engagement_snapshots`).Scan(&count)
	return count, err
}

func (s *Store) SaveChainCheckpoint(ctx context.Context, cp storage.ChainCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO chain_checkpoints (address, last_transaction_id, last_subscribe_id, transaction_count, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (address) DO UPDATE SET
  last_transaction_id = EXCLUDED.last_transaction_id,
  last_subscribe_id = EXCLUDED.last_subscribe_id,
  transaction_count = EXCLUDED.transaction_count,
  updated_at = EXCLUDED.updated_at
`, cp.Address, cp.LastTransactionID, cp.LastSubscribeID, cp.TransactionCount, cp.UpdatedAt.UTC())
	return err
}

func (s *Store) GetChainCheckpoint(ctx context.Context, address string) (storage.ChainCheckpoint, bool, error) {
	var out storage.ChainCheckpoint
	err := s.pool.QueryRow(ctx, `
SELECT address, last_transaction_id, last_subscribe_id, transaction_count, updated_at
FROM chain_checkpoints
WHERE address = $1
`, address).Scan(&out.Address, &out.LastTransactionID, &out.LastSubscribeID, &out.TransactionCount, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (s *Store) CountChainCheckpoints(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chain_checkpoints`).Scan(&count)
	return count, err
}
