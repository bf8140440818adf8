package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/verum/verum-indexer/internal/protocol"
)

func segment(txID string, number, total int, ts int64, final bool) protocol.StorySegment {
	return protocol.StorySegment{
		TransactionID: txID,
		SegmentNumber: number,
		TotalSegments: total,
		Content:       fmt.Sprintf("part-%d ", number),
		Timestamp:     ts,
		IsFinal:       final,
	}
}

func fullRun(n int, baseTS int64) []protocol.StorySegment {
	segments := make([]protocol.StorySegment, 0, n)
	for i := 1; i <= n; i++ {
		segments = append(segments, segment(fmt.Sprintf("tx_%d", i), i, n, baseTS+int64(i*10), i == n))
	}
	return segments
}

func TestIsStoryCompleteEmpty(t *testing.T) {
	if IsStoryComplete(nil) {
		t.Fatalf("empty segment set must be incomplete")
	}
}

func TestIsStoryCompleteSingleSegment(t *testing.T) {
	if !IsStoryComplete([]protocol.StorySegment{segment("tx_1", 1, 1, 100, true)}) {
		t.Fatalf("single final segment must be complete")
	}
}

func TestIsStoryCompleteFullRunsAnyOrder(t *testing.T) {
	for _, n := range []int{1, 2, 5, 9} {
		segments := fullRun(n, 1000)
		// Reverse to prove input order is irrelevant.
		for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
			segments[i], segments[j] = segments[j], segments[i]
		}
		if !IsStoryComplete(segments) {
			t.Fatalf("n=%d: full run must be complete", n)
		}
		if !ValidateSegmentChain(segments, time.Minute) {
			t.Fatalf("n=%d: full run must validate", n)
		}
	}
}

func TestIsStoryCompleteDetectsGap(t *testing.T) {
	for remove := 0; remove < 4; remove++ {
		segments := fullRun(4, 1000)
		segments = append(segments[:remove], segments[remove+1:]...)
		if IsStoryComplete(segments) {
			t.Fatalf("removing segment %d must break completeness", remove+1)
		}
	}
}

func TestIsStoryCompleteRejectsDuplicateNumber(t *testing.T) {
	segments := []protocol.StorySegment{
		segment("tx_1", 1, 2, 100, false),
		segment("tx_1b", 1, 2, 110, true),
	}
	if IsStoryComplete(segments) {
		t.Fatalf("duplicate segment numbers must be incomplete")
	}
}

func TestIsStoryCompleteRequiresFinalOnLast(t *testing.T) {
	segments := fullRun(3, 1000)
	segments[2].IsFinal = false
	segments[0].IsFinal = true
	if IsStoryComplete(segments) {
		t.Fatalf("final marker on a non-last segment must be incomplete")
	}
}

func TestValidateSegmentChainEmptyAndSingle(t *testing.T) {
	if ValidateSegmentChain(nil, time.Minute) {
		t.Fatalf("empty chain must be invalid")
	}
	if !ValidateSegmentChain([]protocol.StorySegment{segment("tx_1", 1, 3, 100, false)}, time.Minute) {
		t.Fatalf("single segment is trivially a chain of one")
	}
}

func TestValidateSegmentChainTotalMismatch(t *testing.T) {
	segments := []protocol.StorySegment{
		segment("tx_1", 1, 3, 100, false),
		segment("tx_2", 2, 4, 110, false),
		segment("tx_3", 3, 3, 120, true),
	}
	if ValidateSegmentChain(segments, time.Minute) {
		t.Fatalf("total_segments disagreement must invalidate the chain")
	}
}

func TestValidateSegmentChainTimestampTolerance(t *testing.T) {
	// 30s backward jitter is within the one-minute slack.
	within := []protocol.StorySegment{
		segment("tx_1", 1, 2, 1000, false),
		segment("tx_2", 2, 2, 970, true),
	}
	if !ValidateSegmentChain(within, time.Minute) {
		t.Fatalf("30s backward jitter must be tolerated")
	}

	// 120s backward is out of order beyond any jitter.
	beyond := []protocol.StorySegment{
		segment("tx_1", 1, 2, 1000, false),
		segment("tx_2", 2, 2, 880, true),
	}
	if ValidateSegmentChain(beyond, time.Minute) {
		t.Fatalf("120s backward drift must invalidate the chain")
	}

	// Large forward gaps are always fine.
	forward := []protocol.StorySegment{
		segment("tx_1", 1, 2, 1000, false),
		segment("tx_2", 2, 2, 1000+86400, true),
	}
	if !ValidateSegmentChain(forward, time.Minute) {
		t.Fatalf("forward gaps must always be accepted")
	}
}

func TestReconstructStory(t *testing.T) {
	svc := NewStoryService(StoryParams{Fetcher: newFakeFetcher()})
	segments := fullRun(3, 1000)
	// Shuffle: reconstruction must impose its own order.
	segments[0], segments[2] = segments[2], segments[0]

	text, err := svc.ReconstructStory(segments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "part-1 part-2 part-3 " {
		t.Fatalf("unexpected assembled text: %q", text)
	}
}

func TestReconstructStoryRejectsInvalidChain(t *testing.T) {
	svc := NewStoryService(StoryParams{Fetcher: newFakeFetcher()})
	segments := fullRun(3, 1000)
	segments = segments[:2] // missing final segment
	if _, err := svc.ReconstructStory(segments); !IsCode(err, "BAD_REQUEST") {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestGetStorySegmentsOrdersSiblings(t *testing.T) {
	f := newFakeFetcher()
	root := verumTx("tx_root", 1000, "addr_a", "story",
		`,"content":"part-1 ","segment":1,"total_segments":3`)
	f.byID["tx_root"] = root
	f.recent = []protocol.RawTransaction{
		verumTx("tx_s3", 1020, "addr_a", "story",
			`,"content":"part-3 ","segment":3,"total_segments":3,"is_final":true,"parent_id":"tx_root"`),
		foreignTx("tx_noise", 1015),
		verumTx("tx_s2", 1010, "addr_a", "story",
			`,"content":"part-2 ","segment":2,"total_segments":3,"parent_id":"tx_root"`),
		verumTx("tx_other", 1005, "addr_a", "story",
			`,"content":"elsewhere","segment":2,"total_segments":2,"parent_id":"tx_elsewhere"`),
	}
	svc := NewStoryService(StoryParams{Fetcher: f})

	segments, err := svc.GetStorySegments(context.Background(), "tx_root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i, seg := range segments {
		if seg.SegmentNumber != i+1 {
			t.Fatalf("position %d: expected segment %d, got %d", i, i+1, seg.SegmentNumber)
		}
	}
}

func TestGetStorySegmentsRejectsNonStory(t *testing.T) {
	f := newFakeFetcher()
	f.byID["tx_post"] = verumTx("tx_post", 1000, "addr_a", "post", `,"content":"hi"`)
	svc := NewStoryService(StoryParams{Fetcher: f})

	if _, err := svc.GetStorySegments(context.Background(), "tx_post"); !IsCode(err, "NOT_FOUND") {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestStoryComposesCompleteNarrative(t *testing.T) {
	f := newFakeFetcher()
	f.byID["tx_root"] = verumTx("tx_root", 1000, "addr_a", "story",
		`,"content":"part-1 ","segment":1,"total_segments":2`)
	f.recent = []protocol.RawTransaction{
		verumTx("tx_s2", 1010, "addr_a", "story",
			`,"content":"part-2","segment":2,"total_segments":2,"is_final":true,"parent_id":"tx_root"`),
	}
	svc := NewStoryService(StoryParams{Fetcher: f})

	result, err := svc.Story(context.Background(), "tx_root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Complete {
		t.Fatalf("expected complete story")
	}
	if result.Content != "part-1 part-2" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestStoryIncompleteIsSuccess(t *testing.T) {
	f := newFakeFetcher()
	f.byID["tx_root"] = verumTx("tx_root", 1000, "addr_a", "story",
		`,"content":"part-1 ","segment":1,"total_segments":3`)
	svc := NewStoryService(StoryParams{Fetcher: f})

	result, err := svc.Story(context.Background(), "tx_root")
	if err != nil {
		t.Fatalf("missing segments must not fail the read: %v", err)
	}
	if result.Complete {
		t.Fatalf("expected incomplete story")
	}
	if len(result.Segments) != 1 {
		t.Fatalf("expected the root segment only, got %d", len(result.Segments))
	}
}
