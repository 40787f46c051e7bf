package client

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

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/chain"
	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/sweep"
)

// maxBody bounds every response read. Exports of long chains are the largest.
const maxBody = 64 << 20

var (
	// ErrNotFound is matched by an APIError with status 404.
	ErrNotFound = errors.New("client: not found")
	// ErrChainBroken is matched by an APIError with status 409, returned when
	// the server refuses to export a chain that fails verification.
	ErrChainBroken = errors.New("client: chain failed verification on the server")
)

// APIError is a non-2xx response from auditd.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auditd %s: %d %s", e.Path, e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrChainBroken:
		return e.Status == http.StatusConflict
	}
	return false
}

// VerifyResult is the server's answer to a chain verification.
type VerifyResult struct {
	Chain    string `json:"chain"`
	Valid    bool   `json:"valid"`
	Position int64  `json:"position,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SweepResult is the last background sweep reported by the server.
type SweepResult struct {
	OK     bool         `json:"ok"`
	Report sweep.Report `json:"report"`
}

// Client talks to one auditd instance.
type Client struct {
	base       string
	httpClient *http.Client
	token      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout replaces the default 10s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithBearerToken attaches a token to every request, for deployments that put
// auditd behind an authenticating proxy.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// New creates a Client for the auditd server at base, e.g.
// "http://localhost:8090".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Chains lists every chain with its head hash and length.
func (c *Client) Chains(ctx context.Context) ([]chain.ChainHead, error) {
	var out struct {
		Chains []chain.ChainHead `json:"chains"`
	}
	if err := c.get(ctx, "/api/v1/chains", nil, &out); err != nil {
		return nil, err
	}
	return out.Chains, nil
}

// Verify asks the server to replay name from genesis. A broken chain is a
// successful call with Valid false.
func (c *Client) Verify(ctx context.Context, name string) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.get(ctx, "/api/v1/chains/verify", url.Values{"chain": {name}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export fetches the server's export of name without checking it.
func (c *Client) Export(ctx context.Context, name string) (*chain.Export, error) {
	var x chain.Export
	if err := c.get(ctx, "/api/v1/chains/export", url.Values{"chain": {name}}, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// VerifiedExport fetches the export of name and re-verifies it locally.
func (c *Client) VerifiedExport(ctx context.Context, name string) (*chain.Export, error) {
	x, err := c.Export(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := chain.VerifyExport(x); err != nil {
		return nil, fmt.Errorf("export of %q from %s: %w", name, c.base, err)
	}
	return x, nil
}

// Record fetches one chain record by id.
func (c *Client) Record(ctx context.Context, id string) (*chain.Record, error) {
	var rec chain.Record
	if err := c.get(ctx, "/api/v1/records/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Group fetches every audit entry sharing correlationID, oldest first.
func (c *Client) Group(ctx context.Context, correlationID string) (*audit.Group, error) {
	id, ok := correlation.Normalize(correlationID)
	if !ok {
		return nil, audit.NewValidationError("correlationId", "must be a UUID")
	}
	var g audit.Group
	if err := c.get(ctx, "/api/v1/audit/correlation/"+id, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LastSweep returns the most recent background integrity sweep.
func (c *Client) LastSweep(ctx context.Context) (*SweepResult, error) {
	var out SweepResult
	if err := c.get(ctx, "/api/v1/chains/sweep", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id, ok := correlation.FromContext(ctx); ok {
		req.Header.Set(correlation.Header, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Path: path, Message: errorMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// errorMessage extracts the {"error": ...} body the handlers send, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
