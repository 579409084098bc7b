package router_test

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/api/handlers"
	relay_middleware "github.com/irgordon/whisper/api/internal/api/middleware"
	"github.com/irgordon/whisper/api/internal/api/router"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/core/services"
	"github.com/irgordon/whisper/api/internal/db/memory"
	"github.com/irgordon/whisper/api/internal/db/storetest"
	"github.com/irgordon/whisper/api/internal/metrics"
	"github.com/irgordon/whisper/api/internal/telemetry"
)

const jwtSecret = "router-test-secret-at-least-32-characters"

var (
	quiet      = slog.New(slog.NewTextHandler(io.Discard, nil))
	sampleBlob = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 60))
)

type stack struct {
	server  *httptest.Server
	metrics *metrics.Metrics
}

func newStack(t *testing.T, limiter *relay_middleware.RateLimiter) *stack {
	t.Helper()
	return newStackWithClock(t, limiter, domain.SystemClock{})
}

func newStackWithClock(t *testing.T, limiter *relay_middleware.RateLimiter, clock domain.Clock) *stack {
	t.Helper()

	store := memory.New(memory.WithClock(clock))
	hub := telemetry.NewHub()
	m := metrics.New()
	relay := services.NewRelayService(
		store,
		services.NewTokenService(jwtSecret, clock),
		domain.Publishers{hub, m},
		clock,
		quiet,
	)

	mux := router.NewRouter(router.RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		SecretHandler:  handlers.NewSecretHandler(relay),
		ReceiptHandler: handlers.NewReceiptHandler(relay, hub, quiet),
		HealthHandler:  handlers.NewHealthHandler(store),
		RateLimiter:    limiter,
		Metrics:        m,
		Logger:         quiet,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &stack{server: srv, metrics: m}
}

func (s *stack) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *stack) create(t *testing.T) services.StoredSecret {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/secrets", "", map[string]any{
		"ciphertext":         sampleBlob,
		"expires_in":         3600000,
		"password_protected": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stored services.StoredSecret
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	return stored
}

func TestRouter_CreateExistsTake(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)
	assert.True(t, domain.IsValidSecretID(stored.ID))
	assert.NotEmpty(t, stored.BurnToken)

	resp := s.do(t, http.MethodGet, "/api/v1/secrets/"+stored.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store, max-age=0", resp.Header.Get("Cache-Control"))
	var exists map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exists))
	assert.True(t, exists["exists"])

	resp = s.do(t, http.MethodPost, "/api/v1/secrets/"+stored.ID+"/take", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var taken struct {
		Ciphertext        string `json:"ciphertext"`
		PasswordProtected bool   `json:"password_protected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&taken))
	assert.Equal(t, sampleBlob, taken.Ciphertext)

	resp = s.do(t, http.MethodPost, "/api/v1/secrets/"+stored.ID+"/take", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var errBody map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, domain.ErrNotFoundOrExpired.Error(), errBody["message"])
}

func TestRouter_CreateValidation(t *testing.T) {
	s := newStack(t, nil)

	resp := s.do(t, http.MethodPost, "/api/v1/secrets", "", map[string]any{
		"ciphertext": sampleBlob,
		"expires_in": 42,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/secrets", "", map[string]any{
		"ciphertext": sampleBlob,
		"expires_in": 60000,
		"plaintext":  "should never be sent",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Burn(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)
	other := s.create(t)

	resp := s.do(t, http.MethodDelete, "/api/v1/secrets/"+stored.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/v1/secrets/"+stored.ID, other.BurnToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/v1/secrets/"+stored.ID, stored.BurnToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/secrets/"+stored.ID+"/take", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_TTLs(t *testing.T) {
	s := newStack(t, nil)
	resp := s.do(t, http.MethodGet, "/api/v1/ttls", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var opts []domain.TTLOption
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opts))
	assert.Equal(t, domain.TTLOptions, opts)
}

func TestRouter_WebSocketReceipt(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") +
		"/api/v1/ws/secrets/" + stored.ID + "/receipts?token=" + stored.BurnToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := s.do(t, http.MethodPost, "/api/v1/secrets/"+stored.ID+"/take", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev domain.SecretEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stored.ID, ev.ID)
	assert.Equal(t, domain.EventConsumed, ev.Type)
}

func TestRouter_WebSocketReceiptRejectsBadToken(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") +
		"/api/v1/ws/secrets/" + stored.ID + "/receipts?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_SSEReceiptForGoneSecret(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)

	resp := s.do(t, http.MethodDelete, "/api/v1/secrets/"+stored.ID, stored.BurnToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/secrets/"+stored.ID+"/receipts", stored.BurnToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ev := readSSE(t, resp.Body)
	assert.Equal(t, domain.EventGone, ev.Type)
}

func TestRouter_SSEReceiptOnTake(t *testing.T) {
	s := newStack(t, nil)
	stored := s.create(t)

	resp := s.do(t, http.MethodGet, "/api/v1/secrets/"+stored.ID+"/receipts", stored.BurnToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	take := s.do(t, http.MethodPost, "/api/v1/secrets/"+stored.ID+"/take", "", nil)
	require.Equal(t, http.StatusOK, take.StatusCode)

	ev := readSSE(t, resp.Body)
	assert.Equal(t, domain.EventConsumed, ev.Type)
}

func readSSE(t *testing.T, body io.Reader) domain.SecretEvent {
	t.Helper()
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev domain.SecretEvent
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		}
	}
	t.Fatalf("no SSE data line: %v", scanner.Err())
	return domain.SecretEvent{}
}

func TestRouter_RateLimit(t *testing.T) {
	s := newStack(t, relay_middleware.NewRateLimiter(1, 2, nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodGet, "/api/v1/ttls", "", nil).StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// Probes are outside the limited tree
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ping", "", nil).StatusCode)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newStack(t, nil)
	s.create(t)

	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `whisper_secret_events_total{type="created"} 1`)
	assert.Contains(t, string(body), `route="/api/v1/secrets"`)
}

func TestRouter_ReceiptsFollowTheStoredExpiry(t *testing.T) {
	clock := storetest.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 900_000_000, time.UTC))
	s := newStackWithClock(t, nil, clock)
	watched := s.create(t)
	burned := s.create(t)
	assert.True(t, watched.ExpiresAt.Equal(time.Date(2026, 1, 1, 13, 0, 0, 900_000_000, time.UTC)))

	// Half a second before the record expires it is still readable
	clock.Set(watched.ExpiresAt.Add(-500 * time.Millisecond))

	resp := s.do(t, http.MethodGet, "/api/v1/secrets/"+watched.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var peek struct {
		Exists    bool      `json:"exists"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peek))
	assert.True(t, peek.Exists)
	assert.True(t, watched.ExpiresAt.Equal(peek.ExpiresAt))

	stream := s.do(t, http.MethodGet, "/api/v1/secrets/"+watched.ID+"/receipts", watched.BurnToken, nil)
	require.Equal(t, http.StatusOK, stream.StatusCode)

	take := s.do(t, http.MethodPost, "/api/v1/secrets/"+watched.ID+"/take", "", nil)
	require.Equal(t, http.StatusOK, take.StatusCode)
	assert.Equal(t, domain.EventConsumed, readSSE(t, stream.Body).Type)

	clock.Set(burned.ExpiresAt.Add(-400 * time.Millisecond))
	resp = s.do(t, http.MethodDelete, "/api/v1/secrets/"+burned.ID, burned.BurnToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
