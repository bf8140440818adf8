package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/verum/verum-indexer/internal/ledger"
	"github.com/verum/verum-indexer/internal/protocol"
)

// ChainService discovers a user's newest protocol transaction and walks
// the chain backward from it.
type ChainService struct {
	fetcher     ledger.Fetcher
	batchSize   int
	maxBatches  int
	epochCutoff int64
	logger      *slog.Logger
}

type ChainParams struct {
	Fetcher     ledger.Fetcher
	BatchSize   int
	MaxBatches  int
	EpochCutoff int64
	Logger      *slog.Logger
}

func NewChainService(params ChainParams) *ChainService {
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.MaxBatches <= 0 {
		params.MaxBatches = 10
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &ChainService{
		fetcher:     params.Fetcher,
		batchSize:   params.BatchSize,
		maxBatches:  params.MaxBatches,
		epochCutoff: params.EpochCutoff,
		logger:      params.Logger,
	}
}

// discovery is the outcome of the batch scan for an address. complete is
// true when the scan ended on its own terms (epoch cutoff reached or the
// address exhausted) rather than on a fetch error, which makes the
// candidate set trustworthy as a traversal result.
type discovery struct {
	candidates []protocol.ParsedTransaction
	complete   bool
}

// TraverseUserChain builds the ordered protocol transaction chain for an
// address, newest first, bounded by maxTransactions and an optional
// notBefore block-time cutoff (zero disables it).
//
// An address with no protocol transactions yields an empty result, not an
// error. A broken chain truncates silently.
func (s *ChainService) TraverseUserChain(ctx context.Context, address string, maxTransactions int, notBefore int64) (protocol.ChainResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return protocol.ChainResult{}, BadRequest("address is required")
	}
	if maxTransactions <= 0 {
		maxTransactions = s.batchSize
	}

	disc := s.discover(ctx, address)
	result := protocol.ChainResult{Address: address}
	if len(disc.candidates) == 0 {
		result.Transactions = []protocol.ParsedTransaction{}
		result.Subscriptions = []protocol.ParsedTransaction{}
		return result, nil
	}

	var chain []protocol.ParsedTransaction
	if disc.complete {
		// The scan already holds every candidate down to the epoch
		// cutoff, so the per-hop walk would only repeat fetches. This
		// set may include same-author transactions not linked by
		// prev_tx_id.
		chain = sortByBlockTimeDesc(disc.candidates)
		chain = filterNotBefore(chain, notBefore)
		if len(chain) > maxTransactions {
			chain = chain[:maxTransactions]
		}
	} else {
		entry := newestCandidate(disc.candidates)
		chain = s.walk(ctx, entry, maxTransactions, notBefore)
	}

	result.Transactions = chain
	result.Subscriptions = subscriptionSubset(chain)
	if len(chain) > 0 {
		result.LastTransactionID = chain[len(chain)-1].TransactionID
	}
	if n := len(result.Subscriptions); n > 0 {
		result.LastSubscribeID = result.Subscriptions[n-1].TransactionID
	}
	return result, nil
}

// discover scans the address's transactions in fixed-size batches, newest
// first, keeping valid protocol transactions authored by the address.
// Scanning stops at the protocol epoch cutoff; a batch fetch error aborts
// the scan but keeps what was already accumulated.
func (s *ChainService) discover(ctx context.Context, address string) discovery {
	disc := discovery{}
	for batch := 0; batch < s.maxBatches; batch++ {
		txs, err := s.fetcher.GetTransactionsByAddress(ctx, address, s.batchSize, batch*s.batchSize)
		if err != nil {
			s.logger.Debug("address batch fetch failed",
				slog.String("address", address),
				slog.Int("batch", batch),
				slog.String("error", err.Error()),
			)
			return disc
		}
		for _, tx := range txs {
			if tx.BlockTime < s.epochCutoff {
				disc.complete = true
				return disc
			}
			parsed := s.fetcher.ParseTransaction(tx)
			if parsed == nil || !strings.EqualFold(parsed.AuthorAddress, address) {
				continue
			}
			disc.candidates = append(disc.candidates, *parsed)
		}
		if len(txs) < s.batchSize {
			disc.complete = true
			return disc
		}
	}
	disc.complete = true
	return disc
}

// walk follows prev_tx_id links from the entry point. Missing links,
// pre-epoch ancestors, failed fetches, the notBefore cutoff and the
// maxTransactions bound all end the walk without failing it.
func (s *ChainService) walk(ctx context.Context, entry protocol.ParsedTransaction, maxTransactions int, notBefore int64) []protocol.ParsedTransaction {
	chain := make([]protocol.ParsedTransaction, 0, maxTransactions)
	seen := make(map[string]struct{})
	current := entry
	for len(chain) < maxTransactions {
		if _, dup := seen[current.TransactionID]; dup {
			break
		}
		seen[current.TransactionID] = struct{}{}
		chain = append(chain, current)

		prevID := current.Payload.PrevTxID
		if prevID == "" {
			break
		}
		raw, err := s.fetcher.GetTransactionByID(ctx, prevID)
		if err != nil {
			s.logger.Debug("chain walk truncated on fetch failure",
				slog.String("tx_id", prevID),
				slog.String("error", err.Error()),
			)
			break
		}
		parsed := s.fetcher.ParseTransaction(raw)
		if parsed == nil {
			break
		}
		if parsed.BlockTime < s.epochCutoff {
			break
		}
		if notBefore > 0 && parsed.BlockTime < notBefore {
			break
		}
		current = *parsed
	}
	return chain
}

func newestCandidate(candidates []protocol.ParsedTransaction) protocol.ParsedTransaction {
	newest := candidates[0]
	for _, c := range candidates[1:] {
		if c.BlockTime > newest.BlockTime {
			newest = c
		}
	}
	return newest
}

func sortByBlockTimeDesc(txs []protocol.ParsedTransaction) []protocol.ParsedTransaction {
	out := make([]protocol.ParsedTransaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlockTime > out[j].BlockTime
	})
	return out
}

func filterNotBefore(txs []protocol.ParsedTransaction, notBefore int64) []protocol.ParsedTransaction {
	if notBefore <= 0 {
		return txs
	}
	kept := txs[:0]
	for _, tx := range txs {
		if tx.BlockTime >= notBefore {
			kept = append(kept, tx)
		}
	}
	return kept
}

func subscriptionSubset(chain []protocol.ParsedTransaction) []protocol.ParsedTransaction {
	subs := make([]protocol.ParsedTransaction, 0)
	for _, tx := range chain {
		if tx.Payload != nil && tx.Payload.IsSubscription() {
			subs = append(subs, tx)
		}
	}
	return subs
}
