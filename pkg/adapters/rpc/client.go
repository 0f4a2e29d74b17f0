// Package rpc connects the relay to remote collaborators over HTTP:
// a JSON-RPC node for reading result buffers and a signer service for broadcasting transactions.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes int64 = 1 << 20 // 1 MiB
	defaultTimeout         = 10 * time.Second
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// base holds what both remote adapters share.
type base struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	headers  map[string]string
	logger   *slog.Logger
}

func newBase(endpoint string) base {
	return base{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		headers:  map[string]string{},
		logger:   logging.NewNop(),
	}
}

// Option configures the remote adapters.
type Option func(*base)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		b.http = c
	}
}

// WithRateLimit caps outgoing requests to rps with the given burst. Callers wait for a token.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *base) {
		if rps > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(b *base) {
		b.headers[key] = value
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		b.logger = logger
	}
}

func (b *base) apply(opts []Option) {
	for _, opt := range opts {
		opt(b)
	}
}

// post sends body as JSON and decodes a JSON reply into out. Non-2xx statuses are errors.
func (b *base) post(ctx context.Context, url string, body, out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx HTTP replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// call performs a JSON-RPC 2.0 call and decodes its result into out.
func (b *base) call(ctx context.Context, id *atomic.Uint64, method string, params []any, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id.Add(1),
		Method:  method,
		Params:  params,
	}
	var resp rpcResponse
	if err := b.post(ctx, b.endpoint, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
