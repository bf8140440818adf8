package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/verum/verum-indexer/internal/ledger"
	"github.com/verum/verum-indexer/internal/protocol"
)

// DefaultSegmentTimeSlack bounds how far a later segment's ledger
// timestamp may sit before its predecessor's. Ledger timestamps jitter;
// anything past the slack means the segments do not belong to one
// coherent posting run.
const DefaultSegmentTimeSlack = time.Minute

// StoryService reassembles multi-segment stories from scattered
// transactions. Stories are split because of payload size limits and may
// be fetched in any order, so order and completeness are always re-derived
// from segment metadata rather than trusted from input.
type StoryService struct {
	fetcher    ledger.Fetcher
	windowSize int
	timeSlack  time.Duration
}

type StoryParams struct {
	Fetcher    ledger.Fetcher
	WindowSize int
	TimeSlack  time.Duration
}

func NewStoryService(params StoryParams) *StoryService {
	if params.WindowSize <= 0 {
		params.WindowSize = 500
	}
	if params.TimeSlack <= 0 {
		params.TimeSlack = DefaultSegmentTimeSlack
	}
	return &StoryService{
		fetcher:    params.Fetcher,
		windowSize: params.WindowSize,
		timeSlack:  params.TimeSlack,
	}
}

// IsStoryComplete reports whether segments form a full story: segment
// numbers cover exactly 1..n with every segment agreeing totalSegments is
// n, and only the last segment marked final.
func IsStoryComplete(segments []protocol.StorySegment) bool {
	n := len(segments)
	if n == 0 {
		return false
	}
	seen := make(map[int]bool, n)
	finals := 0
	for _, seg := range segments {
		if seg.TotalSegments != n {
			return false
		}
		if seg.SegmentNumber < 1 || seg.SegmentNumber > n || seen[seg.SegmentNumber] {
			return false
		}
		seen[seg.SegmentNumber] = true
		if seg.IsFinal {
			finals++
			if seg.SegmentNumber != n {
				return false
			}
		}
	}
	return finals == 1
}

// ValidateSegmentChain is the stricter structural and temporal check run
// before segments are trusted for reconstruction. Beyond completeness it
// requires timestamps to be monotonically non-decreasing within slack;
// large forward gaps are always acceptable.
func ValidateSegmentChain(segments []protocol.StorySegment, slack time.Duration) bool {
	if len(segments) == 0 {
		return false
	}
	if len(segments) == 1 {
		return true
	}
	ordered := make([]protocol.StorySegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SegmentNumber < ordered[j].SegmentNumber
	})

	total := ordered[0].TotalSegments
	for i, seg := range ordered {
		if seg.TotalSegments != total {
			return false
		}
		if seg.SegmentNumber != i+1 {
			return false
		}
		last := i == len(ordered)-1
		if seg.IsFinal != last {
			return false
		}
		if i > 0 {
			drift := time.Duration(ordered[i-1].Timestamp-seg.Timestamp) * time.Second
			if drift > slack {
				return false
			}
		}
	}
	return true
}

// ValidateSegmentChain applies the service's configured slack.
func (s *StoryService) ValidateSegmentChain(segments []protocol.StorySegment) bool {
	return ValidateSegmentChain(segments, s.timeSlack)
}

// ReconstructStory assembles the full narrative text from segments,
// rejecting anything that does not validate as a coherent chain.
func (s *StoryService) ReconstructStory(segments []protocol.StorySegment) (string, error) {
	if !ValidateSegmentChain(segments, s.timeSlack) {
		return "", BadRequest("story segments do not form a valid chain")
	}
	ordered := make([]protocol.StorySegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SegmentNumber < ordered[j].SegmentNumber
	})
	var b strings.Builder
	for _, seg := range ordered {
		b.WriteString(seg.Content)
	}
	return b.String(), nil
}

// GetStorySegments fetches the root story transaction and collects the
// sibling segments that reference it, ordered by segment number. The
// sibling search is a window scan over recent transactions, so segments
// older than the window are invisible (best-effort by design).
func (s *StoryService) GetStorySegments(ctx context.Context, rootID string) ([]protocol.StorySegment, error) {
	rootID = strings.TrimSpace(rootID)
	if rootID == "" {
		return nil, BadRequest("story id is required")
	}
	raw, err := s.fetcher.GetTransactionByID(ctx, rootID)
	if err != nil {
		return nil, FetchFailed("fetch story root", err)
	}
	root := s.fetcher.ParseTransaction(raw)
	if root == nil || root.Payload.Type != protocol.TypeStory {
		return nil, NotFound("transaction is not a story")
	}

	segments := []protocol.StorySegment{segmentFrom(*root)}
	window, err := s.fetcher.GetRecentTransactions(ctx, s.windowSize)
	if err != nil {
		// The root alone is still a usable partial result.
		return segments, nil
	}
	for _, tx := range window {
		if tx.ID == rootID {
			continue
		}
		parsed := s.fetcher.ParseTransaction(tx)
		if parsed == nil || parsed.Payload.Type != protocol.TypeStory {
			continue
		}
		if parsed.Payload.ParentID != rootID {
			continue
		}
		segments = append(segments, segmentFrom(*parsed))
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].SegmentNumber < segments[j].SegmentNumber
	})
	return segments, nil
}

// Story composes segment collection, validation and reconstruction into
// one read. An incomplete story is a success with Complete=false and no
// assembled content.
func (s *StoryService) Story(ctx context.Context, rootID string) (protocol.StoryResult, error) {
	segments, err := s.GetStorySegments(ctx, rootID)
	if err != nil {
		return protocol.StoryResult{}, err
	}
	result := protocol.StoryResult{RootID: rootID, Segments: segments}
	if !IsStoryComplete(segments) {
		return result, nil
	}
	content, err := s.ReconstructStory(segments)
	if err != nil {
		return result, nil
	}
	result.Complete = true
	result.Content = content
	return result, nil
}

func segmentFrom(tx protocol.ParsedTransaction) protocol.StorySegment {
	number := tx.Payload.Segment
	if number <= 0 {
		number = 1
	}
	total := tx.Payload.TotalSegments
	if total <= 0 {
		total = 1
	}
	return protocol.StorySegment{
		TransactionID: tx.TransactionID,
		SegmentNumber: number,
		TotalSegments: total,
		Content:       tx.Payload.Content,
		Timestamp:     tx.BlockTime,
		IsFinal:       tx.Payload.IsFinal,
	}
}
