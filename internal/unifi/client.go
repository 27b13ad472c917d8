package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"lpr-service/internal/metrics"
)

var (
	ErrNotConnected   = errors.New("not connected to unifi protect")
	ErrAuthFailed     = errors.New("unifi protect authentication failed")
	ErrImageTooLarge  = errors.New("image exceeds size limit")
	ErrCameraNotFound = errors.New("camera not found")
)

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	VerifySSL      bool
	ImageVerifySSL bool

	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxImageBytes   int64

	// RequestsPerSecond caps calls to the NVR; zero disables the limiter.
	RequestsPerSecond float64
}

// Client talks to the UniFi OS console that hosts Protect. A session is
// established by Connect and shared by every call until Disconnect.
type Client struct {
	cfg     Config
	baseURL string

	api     *http.Client
	images  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	backoff time.Duration
	log     zerolog.Logger

	mu        sync.RWMutex
	csrf      string
	connected bool
}

// Option configures Client behavior.
type Option func(*Client)

// WithBaseURL overrides the https://host:port address derived from Config.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRetryBackoff sets the first retry delay; later retries double it.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

func New(cfg Config, log zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: "https://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		api: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: transport(cfg.VerifySSL),
		},
		images: &http.Client{
			Timeout:   cfg.DownloadTimeout,
			Jar:       jar,
			Transport: transport(cfg.ImageVerifySSL),
		},
		backoff: time.Second,
		log:     log.With().Str("component", "unifi").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	c.breaker = newBreaker("unifi-protect", c.log)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func transport(verify bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	// Consoles ship with self-signed certificates.
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verify} //nolint:gosec
	return t
}

func newBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about the health of the console.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.NVRCircuitState.Set(float64(to))
		},
	})
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect authenticates against the console and keeps the session cookie.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return fmt.Errorf("%w: credentials not configured", ErrAuthFailed)
	}
	if err := c.login(ctx); err != nil {
		return err
	}
	c.log.Info().Str("host", c.baseURL).Msg("connected to unifi protect")
	return nil
}

func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"username":   c.cfg.Username,
		"password":   c.cfg.Password,
		"rememberMe": true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected HTTP %d", ErrAuthFailed, resp.StatusCode)
	}

	c.mu.Lock()
	c.csrf = resp.Header.Get("X-Csrf-Token")
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect ends the session. Logout failures are only logged.
func (c *Client) Disconnect(ctx context.Context) {
	if !c.Connected() {
		return
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil); err != nil {
		c.log.Debug().Err(err).Msg("logout failed")
	}

	c.mu.Lock()
	c.connected = false
	c.csrf = ""
	c.mu.Unlock()
	c.log.Info().Msg("disconnected from unifi protect")
}

const maxRetries = 3

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

// do sends a request through the breaker. Retries on 429 (with Retry-After)
// and 5xx with exponential backoff; an expired session is renewed once.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, method, path, payload)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NVRRequests.WithLabelValues("rejected").Inc()
	case err != nil:
		metrics.NVRRequests.WithLabelValues("failure").Inc()
	default:
		metrics.NVRRequests.WithLabelValues("success").Inc()
	}
	return body, err
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr *APIError
	relogged := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 && lastErr != nil && lastErr.StatusCode != http.StatusUnauthorized {
			t := time.NewTimer(c.backoffDelay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		resp, err := c.api.Do(req)
		if err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if token := resp.Header.Get("X-Updated-Csrf-Token"); token != "" {
				c.mu.Lock()
				c.csrf = token
				c.mu.Unlock()
			}
			return body, nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized && !relogged:
			relogged = true
			if err := c.login(ctx); err != nil {
				return nil, err
			}
			lastErr = apiErr
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		case resp.StatusCode >= 500:
			lastErr = apiErr
			continue
		}
		return nil, apiErr
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	csrf := c.csrf
	c.mu.RUnlock()
	if csrf != "" {
		req.Header.Set("X-Csrf-Token", csrf)
	}
	return req, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// backoffDelay returns the wait duration before a retry attempt.
func (c *Client) backoffDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff << (attempt - 1)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
