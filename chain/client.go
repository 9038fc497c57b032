// Package chain reads confirmed and unconfirmed Bitcoin transactions from a
// block-explorer index and locates EVST1 anchor outputs inside them.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public mempool.space index.
const DefaultBaseURL = "https://mempool.space/api"

const (
	// txCacheTTL matches the index's own revalidation window for
	// transactions still subject to reorg or confirmation changes.
	txCacheTTL = 60 * time.Second
	// blockCacheTTL is long because block metadata is effectively final.
	blockCacheTTL = time.Hour
)

// Client is a read-mostly explorer client.
//
// Responses are cached (60 s for transactions, 1 h for blocks) and outbound
// requests are rate limited so polling loops cannot hammer a public index.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
	limiter    *rate.Limiter
}

// Options configures a Client. Zero values select the public defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// RequestsPerSecond throttles outbound calls; <=0 selects 4 req/s.
	RequestsPerSecond float64
}

func New(opts Options) *Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		cache:      gocache.New(txCacheTTL, 10*time.Minute),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Transaction fetches a transaction by id, confirmed or unconfirmed.
func (c *Client) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	key := "tx:" + txid
	if v, ok := c.cache.Get(key); ok {
		return v.(*Transaction), nil
	}

	var tx Transaction
	if err := c.getJSON(ctx, "/tx/"+txid, &tx); err != nil {
		return nil, err
	}
	c.cache.Set(key, &tx, txCacheTTL)
	return &tx, nil
}

// TransactionHex fetches the raw serialized transaction.
func (c *Client) TransactionHex(ctx context.Context, txid string) (string, error) {
	b, err := c.get(ctx, "/tx/"+txid+"/hex")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Block fetches block metadata by hash.
func (c *Client) Block(ctx context.Context, hash string) (*Block, error) {
	key := "block:" + hash
	if v, ok := c.cache.Get(key); ok {
		return v.(*Block), nil
	}

	var blk Block
	if err := c.getJSON(ctx, "/block/"+hash, &blk); err != nil {
		return nil, err
	}
	c.cache.Set(key, &blk, blockCacheTTL)
	return &blk, nil
}

// AddressUTXOs lists the spendable outputs the index knows for an address.
func (c *Client) AddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

// ConfirmationHeight returns the block height of a confirmed transaction,
// or nil while it is still pending. Pending is not an error.
func (c *Client) ConfirmationHeight(ctx context.Context, txid string) (*int64, error) {
	tx, err := c.Transaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if !tx.Status.Confirmed || tx.Status.BlockHeight == 0 {
		return nil, nil
	}
	h := tx.Status.BlockHeight
	return &h, nil
}

// Broadcast submits a raw transaction (hex) and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: %s", ErrBroadcast, resp.Status, bytes.TrimSpace(body))
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: %s %s: unexpected status %s", http.MethodGet, path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	b, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("chain: decoding %s: %w", path, err)
	}
	return nil
}
