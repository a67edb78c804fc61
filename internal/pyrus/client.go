package pyrus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	// Tokens are valid for 24h remotely; refresh an hour early so a token
	// never expires mid-pagination.
	tokenLifetime = 23 * time.Hour

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	backoffBase       = 1 * time.Second
	backoffCap        = 10 * time.Second
)

// ClientConfig carries the remote API endpoint and credentials.
type ClientConfig struct {
	BaseURL     string
	Login       string
	SecurityKey string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is the base HTTP client for the remote work-management API. It
// authenticates lazily, caches the bearer token and retries transient
// failures with exponential backoff. Safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger.With().Str("component", "pyrus_client").Logger(),
	}
}

// requestOptions tunes a single call; the zero value uses client defaults.
type requestOptions struct {
	timeout time.Duration
}

// joinURL glues the base URL and an endpoint path regardless of slashes.
func (c *Client) joinURL(endpoint string) string {
	base := c.cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(endpoint, "/")
}

// authenticate exchanges the login/secret pair for a bearer token.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(authRequest{Login: c.cfg.Login, SecurityKey: c.cfg.SecurityKey})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.joinURL("auth"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("auth failed: HTTP %d: %s", resp.StatusCode, apiErr.Error)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("auth response carried no token")
	}
	return auth.AccessToken, nil
}

// token returns a cached bearer token, re-authenticating when missing or
// close to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = token
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	return token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
// Called on 401 responses.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// get performs a GET against the API and decodes the JSON response into
// out. Transient failures and expired tokens are retried with exponential
// backoff within the configured attempt budget.
func (c *Client) get(ctx context.Context, endpoint string, opts requestOptions, out any) error {
	backoff := retry.WithCappedDuration(backoffCap,
		retry.WithMaxRetries(uint64(c.cfg.MaxRetries-1), retry.NewExponential(backoffBase)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.doOnce(ctx, endpoint, opts, out)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).
				Msg("request failed")
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Client) doOnce(ctx context.Context, endpoint string, opts requestOptions, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.joinURL(endpoint), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token expired upstream; force re-auth on the next attempt.
		c.invalidateToken()
		return fmt.Errorf("HTTP 401: token rejected")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

// Healthy reports whether the API is reachable and the credentials are
// accepted.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.token(ctx)
	return err == nil
}
