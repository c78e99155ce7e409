// Package httpclient provides a resilient HTTP client with automatic retries,
// a circuit breaker, transparent decompression, and structured logging.
//
// All upstream traffic (on-air listing, HLS playlists, media segments, VOD
// downloads) goes through this client so that transient upstream failures are
// retried with exponential backoff and credentials never reach the logs.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

// Default configuration values.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = 1 * time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultUserAgent          = "ggcsub/1.0"

	acceptEncodingHeader = "gzip, deflate, br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the maximum delay between retries.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// CircuitThreshold is the number of failures before the circuit opens.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open before trying again.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax is the max requests allowed in half-open state.
	CircuitHalfOpenMax int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// EnableDecompression enables automatic response decompression.
	EnableDecompression bool

	// BaseClient is the underlying http.Client to use. Nil means a default
	// client with Config.Timeout is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgent,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is a resilient HTTP client with retry and circuit breaker support.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a new resilient HTTP client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a new client with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes an HTTP request with circuit breaker protection and retries.
// Requests whose bodies cannot be replayed (GetBody == nil on a non-nil Body)
// are executed exactly once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodingHeader)
	}

	attempts := c.config.RetryAttempts
	if req.Body != nil && req.GetBody == nil {
		attempts = 0
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", SanitizeURL(req.URL)),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewinding request body: %w", err)
				}
				req.Body = body
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping request",
				slog.String("url", SanitizeURL(req.URL)),
				slog.String("state", c.breaker.State().String()),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		elapsed := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", SanitizeURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", elapsed),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", SanitizeURL(req.URL)),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("url", SanitizeURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
		)

		if c.config.EnableDecompression {
			resp.Body = c.wrapDecompression(resp)
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// wrapDecompression wraps the response body with appropriate decompression.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "":
		return resp.Body
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// SanitizeURL returns a URL string with sensitive query parameters obfuscated.
func SanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	sanitized := *u
	query := sanitized.Query()
	for _, param := range []string{"token", "key", "api_key", "apikey", "auth", "secret", "password"} {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}

// SanitizeURLString is SanitizeURL for raw URL strings. Unparseable
// input is returned as-is.
func SanitizeURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return SanitizeURL(u)
}
