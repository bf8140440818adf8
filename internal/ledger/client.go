package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verum/verum-indexer/internal/protocol"
)

// Fetcher is the capability set the indexer needs from a ledger node.
// Implementations must honor context cancellation; the indexer treats a
// canceled fetch exactly like a failed one.
type Fetcher interface {
	GetTransactionByID(ctx context.Context, id string) (protocol.RawTransaction, error)
	GetTransactionsByAddress(ctx context.Context, address string, limit, offset int) ([]protocol.RawTransaction, error)
	GetRecentTransactions(ctx context.Context, limit int) ([]protocol.RawTransaction, error)
	GetTransactionCount(ctx context.Context) (int64, error)
	TransactionExists(ctx context.Context, id string) (bool, error)
	ParseTransaction(tx protocol.RawTransaction) *protocol.ParsedTransaction
}

// envelope is the uniform response wrapper the ledger node's HTTP API uses
// for every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to a single ledger node over HTTP.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

func NewClient(baseURL, bearerToken string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ledger node url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) GetTransactionByID(ctx context.Context, id string) (protocol.RawTransaction, error) {
	var tx protocol.RawTransaction
	if strings.TrimSpace(id) == "" {
		return tx, errors.New("transaction id is required")
	}
	err := c.get(ctx, "/v1/transactions/"+url.PathEscape(id), &tx)
	return tx, err
}

func (c *Client) GetTransactionsByAddress(ctx context.Context, address string, limit, offset int) ([]protocol.RawTransaction, error) {
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("address is required")
	}
	path := fmt.Sprintf("/v1/addresses/%s/transactions?limit=%d&offset=%d", url.PathEscape(address), limit, offset)
	var txs []protocol.RawTransaction
	if err := c.get(ctx, path, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) GetRecentTransactions(ctx context.Context, limit int) ([]protocol.RawTransaction, error) {
	var txs []protocol.RawTransaction
	if err := c.get(ctx, fmt.Sprintf("/v1/transactions/recent?limit=%d", limit), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) GetTransactionCount(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.get(ctx, "/v1/transactions/count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) TransactionExists(ctx context.Context, id string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.get(ctx, "/v1/transactions/"+url.PathEscape(id)+"/exists", &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// ParseTransaction exposes the payload codec through the fetcher for
// callers that already hold a raw transaction.
func (c *Client) ParseTransaction(tx protocol.RawTransaction) *protocol.ParsedTransaction {
	return protocol.ParseTransaction(tx)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger node status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode ledger response: %w", err)
	}
	if !env.Success {
		if env.Error == "" {
			return errors.New("ledger node reported failure")
		}
		return errors.New(env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode ledger data: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
