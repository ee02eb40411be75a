package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecovibe/ecovibe/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnauthorized matches any APIError carrying 401 or 403.
var ErrUnauthorized = errors.New("unauthorized")

// Config holds common client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// Transport overrides the HTTP transport, mainly for request logging.
	Transport http.RoundTripper
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:5000/api",
		Timeout:   30 * time.Second,
		UserAgent: "ecovibe-cli",
	}
}

// Credentials are what the login form submits.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Is reports 401 and 403 responses as ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Client talks to the identity endpoints of the dashboard backend.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// New creates a backend client.
func New(config Config) *Client {
	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		userAgent: config.UserAgent,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for a token pair and the user record.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	var result LoginResult
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", creds, &result); err != nil {
		return nil, err
	}

	if result.AccessToken == "" || result.RefreshToken == "" || result.User == nil {
		return nil, fmt.Errorf("login response missing tokens or user")
	}

	return &result, nil
}

// Logout invalidates refreshToken server-side.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.call(ctx, http.MethodPost, "/auth/logout", "", body, nil)
}

// CurrentUser looks up the identity behind accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*models.User, error) {
	var resp struct {
		User *models.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/auth/me", accessToken, nil, &resp); err != nil {
		return nil, err
	}

	if resp.User == nil {
		return nil, fmt.Errorf("identity response missing user")
	}

	return resp.User, nil
}

// Refresh obtains a new access token using refreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", "", body, &resp); err != nil {
		return "", err
	}

	if resp.AccessToken == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}

	return resp.AccessToken, nil
}

// Do sends an arbitrary request through httpClient, which is expected to
// attach credentials itself, and returns the raw response body.
func (c *Client) Do(ctx context.Context, httpClient *http.Client, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := c.newRequest(ctx, method, path, "", reader)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, newAPIError(resp.StatusCode, data)
	}

	return data, nil
}

func (c *Client) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bearer, reader)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, bearer string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	requestID, err := uuid.NewV7()
	if err == nil {
		req.Header.Set("X-Request-ID", requestID.String())
	}

	return req, nil
}

// newAPIError pulls a message out of the usual {"message": "..."} or
// {"error": "..."} bodies.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}

	return apiErr
}
