package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verum/verum-indexer/internal/cache"
	"github.com/verum/verum-indexer/internal/ledger"
	"github.com/verum/verum-indexer/internal/protocol"
)

// recentActivityWindow is how far back likes and comments count as recent.
const recentActivityWindow = 24 * time.Hour

// Content type labels produced by classification. Classification is
// advisory (used for labeling), so any failure falls back to ContentPost.
const (
	ContentPost    = "post"
	ContentStory   = "story"
	ContentComment = "comment"
)

// EngagementService aggregates likes and comments for a target transaction
// by scanning a bounded window of recent transactions. There is no reverse
// index on the ledger; engagement on content older than the window is
// invisible by design.
type EngagementService struct {
	fetcher     ledger.Fetcher
	cache       *cache.Cache
	searchDepth int
	hardCap     int
	now         func() time.Time
}

type EngagementParams struct {
	Fetcher     ledger.Fetcher
	Cache       *cache.Cache
	SearchDepth int
	HardCap     int
	Now         func() time.Time
}

func NewEngagementService(params EngagementParams) *EngagementService {
	if params.SearchDepth <= 0 {
		params.SearchDepth = 500
	}
	if params.HardCap <= 0 {
		params.HardCap = 1000
	}
	if params.Cache == nil {
		params.Cache = cache.New(30 * time.Second)
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &EngagementService{
		fetcher:     params.Fetcher,
		cache:       params.Cache,
		searchDepth: params.SearchDepth,
		hardCap:     params.HardCap,
		now:         params.Now,
	}
}

// LikesForContent returns the deduplicated likes referencing targetID,
// newest first. Dedup is per actor (case-insensitive): a user's like state
// is their most recent like action, not a cumulative count.
func (s *EngagementService) LikesForContent(ctx context.Context, targetID string) ([]protocol.IndexedLike, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, BadRequest("target id is required")
	}
	key := cacheKey("likes", targetID, "")
	if v, ok := s.cache.Get(key); ok {
		return v.([]protocol.IndexedLike), nil
	}

	window, err := s.scanWindow(ctx)
	if err != nil {
		return nil, FetchFailed("scan transaction window", err)
	}
	targetType := s.DetermineContentType(ctx, targetID)

	retained := make(map[string]protocol.IndexedLike)
	for _, tx := range window {
		if tx.Payload.Type != protocol.TypeLike || tx.Payload.ParentID != targetID {
			continue
		}
		if tx.AuthorAddress == "" {
			continue
		}
		like := protocol.IndexedLike{
			TransactionID:       tx.TransactionID,
			LikerAddress:        tx.AuthorAddress,
			TargetTransactionID: targetID,
			TargetType:          targetType,
			Timestamp:           tx.BlockTime,
		}
		actor := strings.ToLower(tx.AuthorAddress)
		if existing, ok := retained[actor]; !ok || like.Timestamp > existing.Timestamp {
			retained[actor] = like
		}
	}
	likes := make([]protocol.IndexedLike, 0, len(retained))
	for _, like := range retained {
		likes = append(likes, like)
	}
	sort.Slice(likes, func(i, j int) bool {
		return likes[i].Timestamp > likes[j].Timestamp
	})

	s.cache.Set(key, likes)
	return likes, nil
}

// CommentsForContent returns the comments referencing targetID, ordered by
// timestamp ascending.
func (s *EngagementService) CommentsForContent(ctx context.Context, targetID string) ([]protocol.IndexedComment, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, BadRequest("target id is required")
	}
	key := cacheKey("comments", targetID, "")
	if v, ok := s.cache.Get(key); ok {
		return v.([]protocol.IndexedComment), nil
	}

	window, err := s.scanWindow(ctx)
	if err != nil {
		return nil, FetchFailed("scan transaction window", err)
	}
	parentType := s.DetermineParentType(ctx, targetID)

	comments := make([]protocol.IndexedComment, 0)
	for _, tx := range window {
		if tx.Payload.Type != protocol.TypeComment || tx.Payload.ParentID != targetID {
			continue
		}
		comments = append(comments, protocol.IndexedComment{
			TransactionID:       tx.TransactionID,
			AuthorAddress:       tx.AuthorAddress,
			ParentTransactionID: targetID,
			ParentType:          parentType,
			Content:             tx.Payload.Content,
			Timestamp:           tx.BlockTime,
		})
	}
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].Timestamp < comments[j].Timestamp
	})

	s.cache.Set(key, comments)
	return comments, nil
}

// ContentEngagement combines likes, comments and derived metrics for one
// target. Likes and comments are fetched concurrently; the two scans are
// independent, so the fan-out is purely an optimization. When actor is
// non-empty the result also reports whether that actor currently likes
// the target.
func (s *EngagementService) ContentEngagement(ctx context.Context, targetID, actor string) (protocol.ContentEngagement, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return protocol.ContentEngagement{}, BadRequest("target id is required")
	}
	actor = strings.TrimSpace(actor)
	key := cacheKey("engagement", targetID, actor)
	if v, ok := s.cache.Get(key); ok {
		return v.(protocol.ContentEngagement), nil
	}

	var likes []protocol.IndexedLike
	var comments []protocol.IndexedComment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		likes, err = s.LikesForContent(gctx, targetID)
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = s.CommentsForContent(gctx, targetID)
		return err
	})
	if err := g.Wait(); err != nil {
		return protocol.ContentEngagement{}, err
	}

	out := protocol.ContentEngagement{
		TargetID: targetID,
		Metrics:  s.computeMetrics(likes, comments),
		Likes:    likes,
		Comments: comments,
	}
	if actor != "" {
		liked := false
		for _, like := range likes {
			if strings.EqualFold(like.LikerAddress, actor) {
				liked = true
				break
			}
		}
		out.ActorHasLiked = &liked
	}

	s.cache.Set(key, out)
	return out, nil
}

// DetermineContentType classifies the referenced transaction as post,
// story or comment. Any fetch or parse failure defaults to post; the
// label is advisory, never correctness-critical.
func (s *EngagementService) DetermineContentType(ctx context.Context, id string) string {
	raw, err := s.fetcher.GetTransactionByID(ctx, id)
	if err != nil {
		return ContentPost
	}
	parsed := s.fetcher.ParseTransaction(raw)
	if parsed == nil {
		return ContentPost
	}
	switch parsed.Payload.Type {
	case protocol.TypeStory:
		return ContentStory
	case protocol.TypeComment:
		return ContentComment
	default:
		return ContentPost
	}
}

// DetermineParentType classifies a comment's parent as post or story.
// Comments cannot parent comments, so a comment-typed parent collapses to
// post as the safe default.
func (s *EngagementService) DetermineParentType(ctx context.Context, id string) string {
	if s.DetermineContentType(ctx, id) == ContentStory {
		return ContentStory
	}
	return ContentPost
}

func (s *EngagementService) ClearCache() {
	s.cache.Clear()
}

func (s *EngagementService) DisableCache() {
	s.cache.Disable()
}

func (s *EngagementService) EnableCache() {
	s.cache.Enable()
}

// SweepCache drops expired entries and reports (swept, remaining).
func (s *EngagementService) SweepCache() (int, int) {
	swept := s.cache.Sweep()
	return swept, s.cache.Len()
}

// scanWindow fetches and parses the bounded recent-transaction window.
func (s *EngagementService) scanWindow(ctx context.Context) ([]protocol.ParsedTransaction, error) {
	limit := s.searchDepth
	if limit > s.hardCap {
		limit = s.hardCap
	}
	raw, err := s.fetcher.GetRecentTransactions(ctx, limit)
	if err != nil {
		return nil, err
	}
	parsed := make([]protocol.ParsedTransaction, 0, len(raw))
	for _, tx := range raw {
		if p := s.fetcher.ParseTransaction(tx); p != nil {
			parsed = append(parsed, *p)
		}
	}
	return parsed, nil
}

func (s *EngagementService) computeMetrics(likes []protocol.IndexedLike, comments []protocol.IndexedComment) protocol.EngagementMetrics {
	cutoff := s.now().Add(-recentActivityWindow).Unix()
	recent := 0
	for _, like := range likes {
		if like.Timestamp >= cutoff {
			recent++
		}
	}
	for _, comment := range comments {
		if comment.Timestamp >= cutoff {
			recent++
		}
	}
	return protocol.EngagementMetrics{
		LikeCount:       len(likes),
		CommentCount:    len(comments),
		TotalEngagement: len(likes) + len(comments),
		RecentActivity:  recent,
	}
}

func cacheKey(op, targetID, actor string) string {
	if actor == "" {
		actor = "anonymous"
	}
	return fmt.Sprintf("%s|%s|%s", op, targetID, strings.ToLower(actor))
}
