package protocol

import "time"

// Output is a single output of a ledger transaction. The ledger does not
// record an explicit sender, so author identity is inferred from output
// structure (see InferAuthor).
type Output struct {
	Address    string  `json:"address,omitempty"`
	ScriptType string  `json:"script_type"`
	Value      float64 `json:"value"`
}

// RawTransaction is the ledger-native record as returned by a node.
// PayloadData carries the opaque data field, usually hex-encoded with a
// leading null-data marker byte.
type RawTransaction struct {
	ID          string   `json:"id"`
	BlockTime   int64    `json:"block_time"`
	Outputs     []Output `json:"outputs"`
	PayloadData string   `json:"payload"`
	Accepted    bool     `json:"accepted"`
}

// ParsedTransaction pairs a raw transaction with its decoded Verum payload.
// AuthorAddress is inferred, not ledger-asserted; empty means unknown.
type ParsedTransaction struct {
	TransactionID string   `json:"transaction_id"`
	AuthorAddress string   `json:"author_address,omitempty"`
	BlockTime     int64    `json:"block_time"`
	Accepted      bool     `json:"accepted"`
	Payload       *Payload `json:"payload,omitempty"`
}

// StorySegment is one fragment of a multi-part story.
type StorySegment struct {
	TransactionID string `json:"transaction_id"`
	SegmentNumber int    `json:"segment_number"`
	TotalSegments int    `json:"total_segments"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"`
	IsFinal       bool   `json:"is_final"`
}

// IndexedLike is a deduplicated like: at most one retained per
// (liker, target) pair, the retained one being the most recent.
type IndexedLike struct {
	TransactionID       string `json:"transaction_id"`
	LikerAddress        string `json:"liker_address"`
	TargetTransactionID string `json:"target_transaction_id"`
	TargetType          string `json:"target_type"`
	Timestamp           int64  `json:"timestamp"`
}

// IndexedComment is a comment referencing a parent transaction.
type IndexedComment struct {
	TransactionID       string `json:"transaction_id"`
	AuthorAddress       string `json:"author_address"`
	ParentTransactionID string `json:"parent_transaction_id"`
	ParentType          string `json:"parent_type"`
	Content             string `json:"content"`
	Timestamp           int64  `json:"timestamp"`
}

// ChainResult is the outcome of a user chain traversal. Transactions are
// ordered by block time descending; the last elements are the oldest.
type ChainResult struct {
	Address           string              `json:"address"`
	Transactions      []ParsedTransaction `json:"transactions"`
	Subscriptions     []ParsedTransaction `json:"subscriptions"`
	LastTransactionID string              `json:"last_transaction_id,omitempty"`
	LastSubscribeID   string              `json:"last_subscribe_id,omitempty"`
}

// EngagementMetrics are derived counts for one piece of content.
// RecentActivity counts likes and comments from the last 24 hours.
type EngagementMetrics struct {
	LikeCount       int `json:"like_count"`
	CommentCount    int `json:"comment_count"`
	TotalEngagement int `json:"total_engagement"`
	RecentActivity  int `json:"recent_activity"`
}

// ContentEngagement is the combined engagement view for one target.
// ActorHasLiked is present only when the query named an actor.
type ContentEngagement struct {
	TargetID      string            `json:"target_id"`
	Metrics       EngagementMetrics `json:"metrics"`
	Likes         []IndexedLike     `json:"likes"`
	Comments      []IndexedComment  `json:"comments"`
	ActorHasLiked *bool             `json:"actor_has_liked,omitempty"`
}

// StoryResult is an assembled story with its ordered segments.
type StoryResult struct {
	RootID   string         `json:"root_id"`
	Complete bool           `json:"complete"`
	Content  string         `json:"content,omitempty"`
	Segments []StorySegment `json:"segments"`
}

type HealthResponse struct {
	Service          string `json:"service"`
	Version          string `json:"version"`
	Network          string `json:"network"`
	LedgerReachable  bool   `json:"ledger_reachable"`
	TransactionCount int64  `json:"transaction_count,omitempty"`
	SnapshotCount    int    `json:"engagement_snapshot_count,omitempty"`
	CheckpointCount  int    `json:"chain_checkpoint_count,omitempty"`
	StorageEnabled   bool   `json:"storage_enabled"`
	Timestamp        string `json:"timestamp"`
}

type CacheStatsResponse struct {
	Swept     int    `json:"swept"`
	Remaining int    `json:"remaining"`
	Status    string `json:"status"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// UnixTime converts a ledger block time to time.Time.
func UnixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
