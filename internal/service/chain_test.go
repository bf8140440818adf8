package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/verum/verum-indexer/internal/protocol"
)

// fakeFetcher is an in-memory ledger double shared by the service tests.
// Call counters make fetch behavior observable for cache assertions.
type fakeFetcher struct {
	mu           sync.Mutex
	byID         map[string]protocol.RawTransaction
	byAddress    map[string][]protocol.RawTransaction
	recent       []protocol.RawTransaction
	count        int64
	idErr        error
	addressErr   error
	addressErrAt int // batch offset at which addressErr fires; -1 means always
	recentErr    error
	idCalls      int
	addressCalls int
	recentCalls  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		byID:         make(map[string]protocol.RawTransaction),
		byAddress:    make(map[string][]protocol.RawTransaction),
		addressErrAt: -1,
	}
}

func (f *fakeFetcher) GetTransactionByID(ctx context.Context, id string) (protocol.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if f.idErr != nil {
		return protocol.RawTransaction{}, f.idErr
	}
	tx, ok := f.byID[id]
	if !ok {
		return protocol.RawTransaction{}, fmt.Errorf("transaction %s not found", id)
	}
	return tx, nil
}

func (f *fakeFetcher) GetTransactionsByAddress(ctx context.Context, address string, limit, offset int) ([]protocol.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addressCalls++
	if f.addressErr != nil && (f.addressErrAt < 0 || offset >= f.addressErrAt) {
		return nil, f.addressErr
	}
	txs := f.byAddress[address]
	if offset >= len(txs) {
		return []protocol.RawTransaction{}, nil
	}
	end := offset + limit
	if end > len(txs) {
		end = len(txs)
	}
	return txs[offset:end], nil
}

func (f *fakeFetcher) GetRecentTransactions(ctx context.Context, limit int) ([]protocol.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls++
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if limit > len(f.recent) {
		limit = len(f.recent)
	}
	return f.recent[:limit], nil
}

func (f *fakeFetcher) GetTransactionCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeFetcher) TransactionExists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byID[id]
	return ok, nil
}

func (f *fakeFetcher) ParseTransaction(tx protocol.RawTransaction) *protocol.ParsedTransaction {
	return protocol.ParseTransaction(tx)
}

// verumTx builds a raw transaction whose payload decodes as a protocol
// transaction authored by author, with extra payload fields appended
// verbatim.
func verumTx(id string, blockTime int64, author, typ, extra string) protocol.RawTransaction {
	payload := fmt.Sprintf(`{"verum":"1.1","type":"%s"%s}`, typ, extra)
	return protocol.RawTransaction{
		ID:        id,
		BlockTime: blockTime,
		Accepted:  true,
		Outputs: []protocol.Output{
			{Address: "addr_recipient", ScriptType: "pubkeyhash"},
			{Address: author, ScriptType: "pubkeyhash"},
		},
		PayloadData: "6a" + hex.EncodeToString([]byte(payload)),
	}
}

func foreignTx(id string, blockTime int64) protocol.RawTransaction {
	return protocol.RawTransaction{
		ID:          id,
		BlockTime:   blockTime,
		Accepted:    true,
		Outputs:     []protocol.Output{{Address: "addr_other", ScriptType: "pubkeyhash"}},
		PayloadData: "6adeadbeef",
	}
}

const epoch = int64(1685577600) // 2023-06-01T00:00:00Z

func newChainService(f *fakeFetcher) *ChainService {
	return NewChainService(ChainParams{
		Fetcher:     f,
		BatchSize:   3,
		MaxBatches:  4,
		EpochCutoff: epoch,
	})
}

func TestTraverseUserChainEmptyAddress(t *testing.T) {
	svc := newChainService(newFakeFetcher())
	if _, err := svc.TraverseUserChain(context.Background(), "  ", 10, 0); !IsCode(err, "BAD_REQUEST") {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestTraverseUserChainNoProtocolTransactions(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{foreignTx("tx_1", epoch+100)}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 0 || len(result.Subscriptions) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if result.LastTransactionID != "" {
		t.Fatalf("expected no tail id, got %q", result.LastTransactionID)
	}
}

func TestTraverseUserChainShortCircuitSortsAndTruncates(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_mid", epoch+200, "addr_a", "post", `,"content":"b"`),
		verumTx("tx_new", epoch+300, "addr_a", "post", `,"content":"c"`),
		verumTx("tx_old", epoch+100, "addr_a", "post", `,"content":"a"`),
	}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(result.Transactions))
	}
	if result.Transactions[0].TransactionID != "tx_new" || result.Transactions[1].TransactionID != "tx_mid" {
		t.Fatalf("expected newest-first order, got %s then %s",
			result.Transactions[0].TransactionID, result.Transactions[1].TransactionID)
	}
	if result.LastTransactionID != "tx_mid" {
		t.Fatalf("expected tail tx_mid, got %q", result.LastTransactionID)
	}
}

func TestTraverseUserChainStopsAtEpochCutoff(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_new", epoch+300, "addr_a", "post", ``),
		verumTx("tx_ancient", epoch-100, "addr_a", "post", ``),
		verumTx("tx_unreachable", epoch+200, "addr_a", "post", ``),
	}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].TransactionID != "tx_new" {
		t.Fatalf("expected scan to stop at epoch cutoff, got %+v", result.Transactions)
	}
	if f.addressCalls != 1 {
		t.Fatalf("expected a single batch fetch, got %d", f.addressCalls)
	}
}

func TestTraverseUserChainIgnoresOtherAuthors(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_theirs", epoch+200, "addr_b", "post", ``),
		verumTx("tx_mine", epoch+100, "ADDR_A", "post", ``),
	}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].TransactionID != "tx_mine" {
		t.Fatalf("expected case-insensitive author match only, got %+v", result.Transactions)
	}
}

func TestTraverseUserChainWalkFallbackOnBatchError(t *testing.T) {
	f := newFakeFetcher()
	// First batch succeeds and fills completely; the second batch fails,
	// so discovery is incomplete and the walk takes over from the entry
	// point.
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_3", epoch+300, "addr_a", "post", `,"prev_tx_id":"tx_2"`),
		verumTx("tx_2", epoch+200, "addr_a", "post", `,"prev_tx_id":"tx_1"`),
		foreignTx("tx_x", epoch+150),
	}
	f.addressErr = errors.New("node unavailable")
	f.addressErrAt = 3
	f.byID["tx_2"] = verumTx("tx_2", epoch+200, "addr_a", "post", `,"prev_tx_id":"tx_1"`)
	f.byID["tx_1"] = verumTx("tx_1", epoch+100, "addr_a", "start", ``)
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"tx_3", "tx_2", "tx_1"}
	if len(result.Transactions) != len(want) {
		t.Fatalf("expected %d transactions, got %d", len(want), len(result.Transactions))
	}
	for i, id := range want {
		if result.Transactions[i].TransactionID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, result.Transactions[i].TransactionID)
		}
	}
	if result.LastTransactionID != "tx_1" {
		t.Fatalf("expected tail tx_1, got %q", result.LastTransactionID)
	}
}

func TestTraverseUserChainWalkTruncatesOnMissingAncestor(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_3", epoch+300, "addr_a", "post", `,"prev_tx_id":"tx_2"`),
		verumTx("tx_2", epoch+200, "addr_a", "post", `,"prev_tx_id":"tx_gone"`),
		foreignTx("tx_x", epoch+150),
	}
	f.addressErr = errors.New("node unavailable")
	f.addressErrAt = 3
	f.byID["tx_2"] = verumTx("tx_2", epoch+200, "addr_a", "post", `,"prev_tx_id":"tx_gone"`)
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("broken chain must truncate, not fail: %v", err)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("expected truncated chain of 2, got %d", len(result.Transactions))
	}
}

func TestTraverseUserChainSubscriptionPartition(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_4", epoch+400, "addr_a", "post", ``),
		verumTx("tx_3", epoch+300, "addr_a", "subscribe", `,"content":"addr_b"`),
		verumTx("tx_2", epoch+200, "addr_a", "unsubscribe", `,"content":"addr_c"`),
	}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 3 {
		t.Fatalf("expected full chain of 3, got %d", len(result.Transactions))
	}
	if len(result.Subscriptions) != 2 {
		t.Fatalf("expected 2 subscription transactions, got %d", len(result.Subscriptions))
	}
	if result.LastSubscribeID != "tx_2" {
		t.Fatalf("expected subscription tail tx_2, got %q", result.LastSubscribeID)
	}
}

func TestTraverseUserChainNotBeforeFilter(t *testing.T) {
	f := newFakeFetcher()
	f.byAddress["addr_a"] = []protocol.RawTransaction{
		verumTx("tx_new", epoch+300, "addr_a", "post", ``),
		verumTx("tx_old", epoch+100, "addr_a", "post", ``),
	}
	svc := newChainService(f)

	result, err := svc.TraverseUserChain(context.Background(), "addr_a", 10, epoch+200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].TransactionID != "tx_new" {
		t.Fatalf("expected not_before filter to drop tx_old, got %+v", result.Transactions)
	}
}
