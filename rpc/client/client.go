// Package client is a JSON-RPC client for the factoring node. Mutating calls
// are wrapped in signed envelopes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"factorchain/crypto"
	"factorchain/rpc/api"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultEnvelopeTTL = 2 * time.Minute
)

// ErrNoSigner is returned by Send when the client has no key.
var ErrNoSigner = errors.New("client: signing key required")

// Client talks to one RPC endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	token    string
	key      *crypto.PrivateKey
	ttl      time.Duration
	nonce    atomic.Uint64
	ids      atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithBearerToken attaches a bearer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithSigner sets the key used to sign envelopes.
func WithSigner(key *crypto.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithEnvelopeTTL sets how long signed envelopes stay valid.
func WithEnvelopeTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New constructs a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		ttl: defaultEnvelopeTTL,
	}
	// Nonces must stay unique per signer across restarts.
	c.nonce.Store(uint64(time.Now().UnixNano()))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signer returns the address of the signing key, if any.
func (c *Client) Signer() (crypto.Address, bool) {
	if c.key == nil {
		return crypto.Address{}, false
	}
	return c.key.Address(), true
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *api.Error      `json:"error"`
}

// Call invokes method with params and decodes the result into out. RPC
// failures are returned as *api.Error.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: c.ids.Add(1)})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Send signs args with the client key and invokes a mutating method. value
// may be nil for methods that take no payment.
func (c *Client) Send(ctx context.Context, method string, args interface{}, value *big.Int, out interface{}) error {
	if c.key == nil {
		return ErrNoSigner
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", method, err)
	}
	env := &api.Envelope{
		Nonce:     c.nonce.Add(1),
		ExpiresAt: time.Now().Add(c.ttl).Unix(),
		Args:      encoded,
	}
	if value != nil {
		env.Value = value.String()
	}
	if err := env.Sign(method, c.key); err != nil {
		return fmt.Errorf("sign %s: %w", method, err)
	}
	return c.Call(ctx, method, out, env)
}

// AsRPCError extracts an *api.Error from err.
func AsRPCError(err error) (*api.Error, bool) {
	var rpcErr *api.Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
