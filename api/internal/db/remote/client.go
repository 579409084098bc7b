// Package remote is a domain.SecretStore that talks to a whisper relay over
// HTTP. It lets the lifecycle coordinator run next to the key while the relay
// only ever holds ciphertext.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// Client implements domain.SecretStore against the relay API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	maxRetries uint64

	// Burn tokens minted for secrets created through this client.
	burnTokens sync.Map // id -> token
}

type Option func(*Client)

// WithHTTPClient swaps the transport, e.g. for httptest servers.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetries bounds retries of idempotent reads. Destructive calls never retry.
func WithRetries(n uint64) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", baseURL)
	}

	c := &Client{
		baseURL:    u.String(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ==============================================================================
// Wire types (mirror the relay handlers)
// ==============================================================================

type storeRequest struct {
	Ciphertext        string `json:"ciphertext"`
	ExpiresIn         int64  `json:"expires_in"`
	PasswordProtected bool   `json:"password_protected"`
}

// Stored is the relay's answer to a create.
type Stored struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	BurnToken string    `json:"burn_token"`
}

type takeResponse struct {
	Ciphertext        string    `json:"ciphertext"`
	PasswordProtected bool      `json:"password_protected"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type errorResponse struct {
	Message string                    `json:"message"`
	Fields  []*domain.ValidationError `json:"fields"`
}

// ==============================================================================
// domain.SecretStore
// ==============================================================================

func (c *Client) Put(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (string, error) {
	stored, err := c.Store(ctx, in, ttl)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Store is Put that also returns the expiry and burn token.
func (c *Client) Store(ctx context.Context, in domain.NewSecretRecord, ttl time.Duration) (*Stored, error) {
	if ttl <= 0 {
		return nil, domain.NewValidationError("expires_in", "ttl must be positive")
	}

	var stored Stored
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/secrets", "", storeRequest{
		Ciphertext:        in.Ciphertext,
		ExpiresIn:         ttl.Milliseconds(),
		PasswordProtected: in.PasswordProtected,
	}, http.StatusCreated, &stored)
	if err != nil {
		return nil, err
	}

	c.burnTokens.Store(stored.ID, stored.BurnToken)
	return &stored, nil
}

func (c *Client) TakeAndDelete(ctx context.Context, id string) (*domain.SecretRecord, error) {
	var resp takeResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/secrets/"+url.PathEscape(id)+"/take", "", nil, http.StatusOK, &resp)
	if errors.Is(err, domain.ErrNotFoundOrExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.burnTokens.Delete(id)
	return &domain.SecretRecord{
		ID:                id,
		Ciphertext:        resp.Ciphertext,
		CreatedAt:         resp.CreatedAt,
		ExpiresAt:         resp.ExpiresAt,
		PasswordProtected: resp.PasswordProtected,
	}, nil
}

func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.ExpiresAt(ctx, id)
	return ok, err
}

func (c *Client) ExpiresAt(ctx context.Context, id string) (time.Time, bool, error) {
	var resp struct {
		Exists    bool      `json:"exists"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/v1/secrets/"+url.PathEscape(id), "", nil, http.StatusOK, &resp)
	})
	if err != nil || !resp.Exists {
		return time.Time{}, false, err
	}
	return resp.ExpiresAt, true, nil
}

// SweepExpired is a no-op: the relay runs its own sweeper.
func (c *Client) SweepExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// ==============================================================================
// Relay extras
// ==============================================================================

// BurnToken returns the token minted for id by this client, if any.
func (c *Client) BurnToken(id string) string {
	if v, ok := c.burnTokens.Load(id); ok {
		return v.(string)
	}
	return ""
}

// Burn destroys a secret unread. token defaults to the one this client holds.
func (c *Client) Burn(ctx context.Context, id, token string) error {
	if token == "" {
		token = c.BurnToken(id)
	}
	if token == "" {
		return domain.ErrUnauthorized
	}

	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/secrets/"+url.PathEscape(id), token, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.burnTokens.Delete(id)
	return nil
}

// TTLs fetches the expiration enumeration the relay accepts.
func (c *Client) TTLs(ctx context.Context) ([]domain.TTLOption, error) {
	var opts []domain.TTLOption
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/v1/ttls", "", nil, http.StatusOK, &opts)
	})
	return opts, err
}

// Ping checks the relay health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &domain.StorageError{Op: "ping", Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &domain.StorageError{Op: "ping", Err: fmt.Errorf("relay unhealthy: %s", resp.Status)}
		}
		return nil
	})
}

// WaitForReceipt blocks until the relay reports the secret consumed, burned,
// expired or already gone.
func (c *Client) WaitForReceipt(ctx context.Context, id, token string) (domain.SecretEvent, error) {
	if token == "" {
		token = c.BurnToken(id)
	}
	if token == "" {
		return domain.SecretEvent{}, domain.ErrUnauthorized
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") +
		"/api/v1/ws/secrets/" + url.PathEscape(id) + "/receipts?token=" + url.QueryEscape(token)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return domain.SecretEvent{}, decodeError(resp)
		}
		return domain.SecretEvent{}, &domain.StorageError{Op: "receipt", Err: err}
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var ev domain.SecretEvent
	if err := conn.ReadJSON(&ev); err != nil {
		if ctx.Err() != nil {
			return domain.SecretEvent{}, ctx.Err()
		}
		return domain.SecretEvent{}, &domain.StorageError{Op: "receipt", Err: err}
	}
	return ev, nil
}

// ==============================================================================
// Transport
// ==============================================================================

func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := op()
		// Only transport and 5xx failures are worth another attempt
		if err != nil && !domain.IsStorage(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body any, want int, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.StorageError{Op: strings.ToLower(method) + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.StorageError{Op: "decode response", Err: err}
	}
	return nil
}

// decodeError maps relay statuses back onto domain errors.
func decodeError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFoundOrExpired
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		if len(body.Fields) > 0 {
			return domain.ValidationErrors(body.Fields)
		}
		return domain.NewValidationError("", body.Message)
	default:
		return &domain.StorageError{Op: "relay", Err: fmt.Errorf("%s: %s", resp.Status, body.Message)}
	}
}
