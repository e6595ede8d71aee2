// Package erpclient talks to the upstream ERP REST API. It forwards the
// caller's bearer token, retries idempotent reads with jittered exponential
// backoff and parses every response against a single envelope schema.
package erpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// Config configures the upstream client
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimit      float64 // requests per second, 0 disables limiting
	RateBurst      int
	UserAgent      string
}

// Client is the upstream ERP API client
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cfg        Config
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for cfg.BaseURL
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("erpclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("erpclient: invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "backoffice-bff/1.0"
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: base,
		cfg:     cfg,
		logger:  logger.Named("erpclient"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// request is one upstream call
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	// retryable marks the call as safe to repeat
	retryable bool
}

// response is a fully read upstream response
type response struct {
	status int
	body   []byte
}

// do executes req, retrying transport failures, 5xx and 429 when the request
// is retryable. Non-2xx responses are returned as *allocation.RemoteError.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	ctx, span := telemetry.StartSpan(ctx, "erpclient."+strings.ToLower(req.method),
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", req.method),
		telemetry.WithAttribute("upstream.route", req.path),
	)
	defer span.End()

	// req.path is already escaped; parsing keeps escaped separators intact
	ref, err := url.Parse(strings.TrimLeft(req.path, "/"))
	if err != nil {
		return nil, fmt.Errorf("erpclient: invalid request path: %w", err)
	}
	u := c.baseURL.ResolveReference(ref)
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var payload []byte
	if req.body != nil {
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, fmt.Errorf("erpclient: marshal request body: %w", err)
		}
	}

	attempts := 1
	if req.retryable {
		attempts += max(c.cfg.MaxRetries, 0)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("erpclient: rate limiter: %w", err)
			}
		}

		resp, err := c.roundTrip(ctx, req.method, u.String(), payload)
		if err == nil && resp.status < 300 {
			telemetry.SetAttributes(span, "http.status_code", resp.status, "upstream.attempts", attempt+1)
			return resp, nil
		}
		if err == nil {
			err = newRemoteError(resp)
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}
		c.logger.Warn("Retrying upstream request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	telemetry.RecordError(span, lastErr)
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, target string, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("erpclient: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if sc, ok := identity.SessionContextFrom(ctx); ok && sc.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+sc.AccessToken)
	}
	if sid := trace.SpanContextFromContext(ctx); sid.IsValid() {
		httpReq.Header.Set("X-Trace-ID", sid.TraceID().String())
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("Upstream response",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	resp := &response{status: httpResp.StatusCode, body: data}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(httpResp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, &rateLimitedError{remote: newRemoteError(resp), retryAfter: time.Duration(secs) * time.Second}
		}
	}
	return resp, nil
}

// backoff returns the delay before attempt, with ±25% jitter. A Retry-After
// hint from the server takes precedence when it is within MaxBackoff.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if rl, ok := lastErr.(*rateLimitedError); ok && rl.retryAfter <= c.cfg.MaxBackoff {
		return rl.retryAfter
	}
	delay := float64(c.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1))
	delay = math.Min(delay, float64(c.cfg.MaxBackoff))
	jitter := delay * 0.25
	return time.Duration(delay + (rand.Float64()*2-1)*jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
