package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inletfeed/inlet/internal/connector"
)

const (
	tokenURL  = "https://www.reddit.com/api/v1/access_token"
	oauthBase = "https://oauth.reddit.com"

	httpTimeout = 30 * time.Second

	// Tokens refresh 30s before expiry so a request never rides an
	// about-to-expire token.
	tokenEarlyRefresh = 30 * time.Second

	// Waits beyond this are not honored: a multi-minute silent stall is
	// worse than surfacing the rate limit to the caller.
	maxRateLimitWait = 60 * time.Second
)

// Credentials are read from the process environment at call time.
type Credentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// CredentialsFromEnv loads Reddit OAuth credentials; ok is false when any
// required variable is unset.
func CredentialsFromEnv() (Credentials, bool) {
	creds := Credentials{
		ClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		ClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		UserAgent:    os.Getenv("REDDIT_USER_AGENT"),
	}
	if creds.UserAgent == "" {
		creds.UserAgent = "inlet/1.0"
	}
	return creds, creds.ClientID != "" && creds.ClientSecret != ""
}

// Client maintains the cached bearer token and the most recently observed
// rate-limit snapshot. It is owned by the connector instance, not a global,
// so tests can run isolated instances.
type Client struct {
	mu    sync.Mutex
	creds Credentials

	httpClient *http.Client
	tokenURL   string

	token       string
	tokenExpiry time.Time
	rateLimit   *connector.RateLimitSnapshot

	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient creates an authenticated Reddit API client.
func NewClient(creds Credentials) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: httpTimeout},
		tokenURL:   tokenURL,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Snapshot returns the last observed rate-limit state, or nil.
func (c *Client) Snapshot() *connector.RateLimitSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimit == nil {
		return nil
	}
	copied := *c.rateLimit
	return &copied
}

// Get performs an authenticated GET against the Reddit API.
//
// A 401 invalidates the cached token and retries exactly once with a fresh
// token; a second 401 propagates. A 429 with Retry-After of at most 60s
// sleeps and retries; larger or absent waits propagate with the last known
// rate-limit snapshot attached.
func (c *Client) Get(ctx context.Context, apiURL string) ([]byte, error) {
	return c.get(ctx, apiURL, false)
}

func (c *Client) get(ctx context.Context, apiURL string, retriedAuth bool) ([]byte, error) {
	c.waitForRateLimit()

	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.observeRateLimit(resp.Header)
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if retriedAuth {
			return nil, &connector.TransientError{
				StatusCode: resp.StatusCode,
				Body:       connector.TruncateBody(body),
				RateLimit:  c.Snapshot(),
			}
		}
		c.invalidateToken()
		return c.get(ctx, apiURL, true)

	case resp.StatusCode == http.StatusTooManyRequests:
		if wait := retryAfter(resp.Header); wait > 0 && wait <= maxRateLimitWait {
			c.sleep(wait)
			return c.get(ctx, apiURL, retriedAuth)
		}
		return nil, &connector.TransientError{
			StatusCode: resp.StatusCode,
			Body:       connector.TruncateBody(body),
			RateLimit:  c.Snapshot(),
		}

	case resp.StatusCode != http.StatusOK:
		return nil, &connector.TransientError{
			StatusCode: resp.StatusCode,
			Body:       connector.TruncateBody(body),
			RateLimit:  c.Snapshot(),
		}
	}

	return body, nil
}

// waitForRateLimit blocks until the observed window resets when the last
// snapshot shows no remaining quota, bounded to maxRateLimitWait.
func (c *Client) waitForRateLimit() {
	c.mu.Lock()
	rl := c.rateLimit
	c.mu.Unlock()

	if rl == nil || rl.Remaining >= 1 || rl.ResetAt.IsZero() {
		return
	}
	wait := rl.ResetAt.Sub(c.now())
	if wait > 0 && wait <= maxRateLimitWait {
		c.sleep(wait)
	}
}

func (c *Client) observeRateLimit(h http.Header) {
	used, errUsed := strconv.ParseFloat(strings.TrimSpace(h.Get("X-Ratelimit-Used")), 64)
	remaining, errRem := strconv.ParseFloat(strings.TrimSpace(h.Get("X-Ratelimit-Remaining")), 64)
	resetSecs, errReset := strconv.ParseFloat(strings.TrimSpace(h.Get("X-Ratelimit-Reset")), 64)
	if errUsed != nil && errRem != nil && errReset != nil {
		return
	}

	snapshot := &connector.RateLimitSnapshot{}
	if errUsed == nil {
		snapshot.Used = used
	}
	if errRem == nil {
		snapshot.Remaining = remaining
	}
	if errReset == nil {
		snapshot.ResetAt = c.now().Add(time.Duration(resetSecs * float64(time.Second)))
	}

	c.mu.Lock()
	c.rateLimit = snapshot
	c.mu.Unlock()
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenEarlyRefresh)) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	return c.fetchToken(ctx)
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit: fetch token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &connector.TransientError{StatusCode: resp.StatusCode, Body: connector.TruncateBody(body)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("reddit: decode token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("reddit: token response missing access_token")
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return payload.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(h.Get("Retry-After")), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
