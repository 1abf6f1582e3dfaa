// Package vaaclient implements the AttestationClient: it fetches and
// verifies cross-chain attestations (VAAs) for a given (emitter chain,
// emitter address, sequence) from a remote guardian network API.
package vaaclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/certen/tbtc-relayer/pkg/clock"
	"github.com/certen/tbtc-relayer/pkg/retry"
)

// ErrNotReady is returned when the guardian network has not yet signed
// the requested VAA (HTTP 404).
var ErrNotReady = errors.New("vaaclient: attestation not ready")

// ErrFailed wraps a non-recoverable HTTP response other than 404.
type ErrFailed struct {
	StatusCode int
	Body       string
}

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("vaaclient: request failed with status %d: %s", e.StatusCode, e.Body)
}

type vaaEnvelope struct {
	Data struct {
		VAA string `json:"vaa"`
	} `json:"data"`
}

// Client polls a remote guardian network API for signed VAAs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clock.Clock
	logger     *log.Logger

	limiterMu sync.Mutex
	lastPoll  map[string]time.Time
	minPollInterval time.Duration
}

// Option configures optional Client behavior.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithMinPollInterval bounds how often fetchVaa will issue a fresh HTTP
// request for the same (emitterChain, emitterAddress) pair; concurrent
// callers within the window observe the rate limit, not a cache.
func WithMinPollInterval(d time.Duration) Option {
	return func(c *Client) { c.minPollInterval = d }
}

// NewClient constructs a Client against baseURL, e.g.
// "https://guardian.example.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		clock:           clock.Real{},
		logger:          log.New(os.Stderr, "[AttestationClient] ", log.LstdFlags),
		lastPoll:        make(map[string]time.Time),
		minPollInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchVaa polls GET {base}/api/v1/vaas/{emitterChain}/{emitterAddress}/{sequence}
// until it succeeds, is told the VAA isn't ready and the backoff
// schedule is exhausted, hits a non-recoverable error, or ctx is done.
func (c *Client) FetchVaa(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		c.rateLimit(ctx, emitterChain, emitterAddress)

		vaa, err := c.fetchOnce(ctx, emitterChain, emitterAddress, sequence)
		if err == nil {
			return vaa, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, ErrNotReady) && !retry.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		delay := retry.Delay(attempt)
		c.logger.Printf("vaa not ready for emitterChain=%d emitterAddress=%s sequence=%d, retrying in %s (attempt %d)", emitterChain, emitterAddress, sequence, delay, attempt+1)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(delay):
		}
	}

	return nil, fmt.Errorf("vaaclient: exhausted %d attempts: %w", retry.MaxAttempts, lastErr)
}

func (c *Client) rateLimit(ctx context.Context, emitterChain uint16, emitterAddress string) {
	key := fmt.Sprintf("%d:%s", emitterChain, emitterAddress)

	c.limiterMu.Lock()
	last, ok := c.lastPoll[key]
	c.limiterMu.Unlock()

	if ok {
		if wait := c.minPollInterval - c.clock.Since(last); wait > 0 {
			select {
			case <-ctx.Done():
			case <-c.clock.After(wait):
			}
		}
	}

	c.limiterMu.Lock()
	c.lastPoll[key] = c.clock.Now()
	c.limiterMu.Unlock()
}

func (c *Client) fetchOnce(ctx context.Context, emitterChain uint16, emitterAddress string, sequence uint64) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/vaas/%d/%s/%d", c.baseURL, emitterChain, emitterAddress, sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("vaaclient: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vaaclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vaaclient: read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ErrFailed{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var envelope vaaEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("vaaclient: decode response: %w", err)
	}
	if envelope.Data.VAA == "" {
		return nil, ErrNotReady
	}

	vaa, err := base64.StdEncoding.DecodeString(envelope.Data.VAA)
	if err != nil {
		return nil, fmt.Errorf("vaaclient: decode base64 vaa: %w", err)
	}

	return vaa, nil
}
