// Package webhooks delivers signed integrity alerts to configured HTTP
// endpoints when a chain stops verifying.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/sweep"
)

// EventChainIntegrityFailed is the only event type sent today.
const EventChainIntegrityFailed = "chain.integrity_failed"

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Auditchain-Signature"

// Event is the JSON body of every delivery.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier posts events to a fixed set of endpoints.
type Notifier struct {
	urls       []string
	secret     []byte
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a Notifier. Deliveries are signed with secret when it
// is non-empty.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) { n.onMetrics = fn }

// SetRetryDelays replaces the wait before each attempt; its length is the
// number of attempts.
func (n *Notifier) SetRetryDelays(d []time.Duration) { n.delays = d }

// ChainFailed is a sweep.AlertFunc. Delivery runs in the background; call
// Wait to block until it finishes.
func (n *Notifier) ChainFailed(ctx context.Context, f sweep.Failure) {
	kind := "unavailable"
	if f.Integrity {
		kind = "tampered"
	}
	n.Dispatch(ctx, EventChainIntegrityFailed, map[string]string{
		"chain": f.Chain,
		"kind":  kind,
		"error": f.Error,
	})
}

// Dispatch fans an event out to every endpoint.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	// Deliveries outlive the sweep that triggered them.
	ctx = context.WithoutCancel(ctx)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, body)
		}(url)
	}
}

// Wait blocks until every pending delivery has finished.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) deliver(ctx context.Context, url string, body []byte) {
	signature := ""
	if len(n.secret) > 0 {
		signature = Sign(body, n.secret)
	}

	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		errMsg := n.post(ctx, url, body, signature)
		if n.onMetrics != nil {
			n.onMetrics(errMsg == "")
		}
		if errMsg == "" {
			return
		}
		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
}

func (n *Notifier) post(ctx context.Context, url string, body []byte, signature string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return ""
}

// Sign returns the signature header value for body.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body.
func Verify(body, secret []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
