// Package apiclient is a Go client for the dashboard API. It transparently
// refreshes the access token shortly before it expires, mirroring the
// behavior of the web frontend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// refreshWindow is how close to expiry the access token may get before a
// request triggers a refresh.
const refreshWindow = time.Minute

// accessTokenLifetime is the server's access-token lifetime the client
// assumes when computing the stored expiry.
const accessTokenLifetime = time.Hour

// ErrNotAuthenticated is returned when no usable session tokens are stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls the dashboard API on behalf of one user session.
type Client struct {
	baseURL    string
	store      Store
	httpClient *http.Client
	now        func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given base URL, persisting tokens in store.
func New(baseURL string, store Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login obtains a token pair with the given credentials and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	payload := map[string]string{"username": username, "password": password}

	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/token", payload, &tokens, false); err != nil {
		return err
	}

	expiry := c.now().Add(accessTokenLifetime).Unix()
	return c.store.Save(tokens.Access, tokens.Refresh, expiry)
}

// Logout discards the stored session.
func (c *Client) Logout() error {
	return c.store.Clear()
}

// Do performs an authenticated request against the API. The access token is
// refreshed first when it is within one minute of expiry. On refresh failure
// the stored session is cleared and ErrNotAuthenticated is returned.
func (c *Client) Do(ctx context.Context, method, path string, payload, out interface{}) error {
	return c.doJSON(ctx, method, path, payload, out, true)
}

// Get is shorthand for an authenticated GET request.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post is shorthand for an authenticated POST request.
func (c *Client) Post(ctx context.Context, path string, payload, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}, authenticated bool) error {
	apiURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("failed to build request URL: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		access, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// accessToken returns a valid access token, refreshing it when it is about
// to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	access, refresh, expiry, err := c.store.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if access == "" {
		return "", ErrNotAuthenticated
	}

	if c.now().Add(refreshWindow).Unix() < expiry {
		return access, nil
	}

	if refresh == "" {
		_ = c.store.Clear()
		return "", ErrNotAuthenticated
	}

	var refreshed struct {
		Access string `json:"access"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/api/token/refresh", map[string]string{"refresh": refresh}, &refreshed, false)
	if err != nil {
		// The session is no longer usable, force a new login.
		_ = c.store.Clear()
		return "", ErrNotAuthenticated
	}

	newExpiry := c.now().Add(accessTokenLifetime).Unix()
	if err := c.store.Save(refreshed.Access, refresh, newExpiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed session: %w", err)
	}
	return refreshed.Access, nil
}
