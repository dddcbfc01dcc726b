// Package ledger answers funds lookups for buyer transaction inputs, either
// from an HTTP indexer or from a fixed balance table.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client queries an indexer for the unspent amount locked by a script:
// GET {base}/v1/scripts/{hex}/unspent -> {"unspent": n}.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

var _ domain.FundsLookup = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates an indexer client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type unspentResponse struct {
	Unspent int64 `json:"unspent"`
}

// SumUnspent implements domain.FundsLookup.
func (c *Client) SumUnspent(ctx context.Context, script []byte) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/scripts/%s/unspent", c.baseURL, hex.EncodeToString(script))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ledger: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out unspentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ledger: decode response: %w", err)
	}
	if out.Unspent < 0 {
		return 0, fmt.Errorf("ledger: negative unspent amount %d", out.Unspent)
	}
	return out.Unspent, nil
}
