package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yp-alpha/progression/internal/progression"
	"github.com/yp-alpha/progression/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	srv   *httptest.Server
	clock *clock
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ck := &clock{now: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)}
	if cfg.Ledger == nil {
		eng, err := progression.NewEngine(storage.NewMemoryStore(), nil,
			progression.WithClock(ck.Now),
			progression.WithRetry(16, time.Microsecond),
		)
		require.NoError(t, err)
		cfg.Ledger = eng
	}
	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &testServer{srv: srv, clock: ck}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

const athlete = "/api/v1/athletes/ath-1"

func session(day int) map[string]any {
	return map[string]any{"enrollmentRef": "prog-a", "dayNumber": day, "durationSeconds": 1800}
}

func TestEnrollAndCompleteSession(t *testing.T) {
	ts := newTestServer(t, Config{})

	status, body := ts.do(t, http.MethodPost, athlete+"/enroll", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ath-1", body["userId"])
	assert.EqualValues(t, 1, body["level"])

	status, body = ts.do(t, http.MethodPost, athlete+"/enroll", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_enrolled", body["error"])

	status, body = ts.do(t, http.MethodPost, athlete+"/sessions", session(1))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 110, body["xpAwarded"])
	assert.EqualValues(t, 5, body["currencyAwarded"])
	assert.EqualValues(t, 1, body["streak"])

	status, body = ts.do(t, http.MethodPost, athlete+"/sessions", session(1))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "already_completed", body["error"])

	status, body = ts.do(t, http.MethodGet, athlete+"/summary", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 110, body["totalXp"])
	assert.EqualValues(t, 5, body["currency"])

	status, body = ts.do(t, http.MethodGet, athlete+"/daily", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 110, body["xpEarnedToday"])
	assert.Equal(t, true, body["canEarnMoreXp"])

	status, body = ts.do(t, http.MethodGet, athlete+"/completions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["completions"], 1)

	status, body = ts.do(t, http.MethodGet, athlete+"/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["totalSessions"])
	assert.EqualValues(t, 1, body["completedDays"])
}

func TestSessionRejections(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, athlete+"/enroll", nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"TooShort", map[string]any{"enrollmentRef": "prog-a", "dayNumber": 1, "durationSeconds": 60}, http.StatusUnprocessableEntity, "session_too_short"},
		{"MissingRef", map[string]any{"dayNumber": 1, "durationSeconds": 1800}, http.StatusBadRequest, "bad_request"},
		{"DayZero", map[string]any{"enrollmentRef": "prog-a", "dayNumber": 0, "durationSeconds": 1800}, http.StatusBadRequest, "bad_request"},
		{"NotJSON", "{nope", http.StatusBadRequest, "bad_request"},
		{"Empty", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, athlete+"/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	_, body := ts.do(t, http.MethodGet, athlete+"/summary", nil)
	assert.EqualValues(t, 0, body["totalXp"], "rejected sessions must not change the record")
}

func TestUnknownAthlete(t *testing.T) {
	ts := newTestServer(t, Config{})

	for _, path := range []string{"/summary", "/daily", "/completions", "/stats", "/streak-repair"} {
		status, body := ts.do(t, http.MethodGet, "/api/v1/athletes/ghost"+path, nil)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "not_found", body["error"], path)
	}
	status, _ := ts.do(t, http.MethodPost, "/api/v1/athletes/ghost/sessions", session(1))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAwardsAndEconomy(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, athlete+"/enroll", nil)

	status, body := ts.do(t, http.MethodPost, athlete+"/xp", map[string]any{"amount": 0, "reason": "bonus"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_amount", body["error"])

	status, body = ts.do(t, http.MethodPost, athlete+"/currency", map[string]any{"amount": 40, "reason": "promo"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 40, body["awarded"])

	status, body = ts.do(t, http.MethodPost, athlete+"/streak-freeze", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_currency", body["error"])

	ts.clock.Advance(24 * time.Hour)
	ts.do(t, http.MethodPost, athlete+"/currency", map[string]any{"amount": 20})

	status, body = ts.do(t, http.MethodPost, athlete+"/streak-freeze", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["freezeCount"])
	assert.EqualValues(t, 10, body["newCurrency"])

	status, body = ts.do(t, http.MethodPost, athlete+"/streak-repair", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "no_streak", body["error"])

	status, body = ts.do(t, http.MethodPost, athlete+"/xp", map[string]any{"amount": 50, "reason": "coach"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 50, body["awarded"])
}

func TestRepairQuote(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, athlete+"/enroll", nil)
	ts.do(t, http.MethodPost, athlete+"/sessions", session(1))

	status, body := ts.do(t, http.MethodGet, athlete+"/streak-repair", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "streak_not_broken", body["error"])

	ts.clock.Advance(36 * time.Hour)
	status, body = ts.do(t, http.MethodGet, athlete+"/streak-repair", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 100, body["cost"])
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestMountsFeedAndMetrics(t *testing.T) {
	mark := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Handler", name)
			w.WriteHeader(http.StatusTeapot)
		})
	}
	ts := newTestServer(t, Config{Feed: mark("feed"), Metrics: mark("metrics")})

	for path, want := range map[string]string{"/ws": "feed", "/metrics": "metrics"} {
		resp, err := http.Get(ts.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTeapot, resp.StatusCode, path)
		assert.Equal(t, want, resp.Header.Get("X-Handler"), path)
	}
}

func TestRateLimited(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2})
	ts.do(t, http.MethodPost, athlete+"/enroll", nil)
	ts.do(t, http.MethodGet, athlete+"/summary", nil)

	status, body := ts.do(t, http.MethodGet, athlete+"/summary", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["error"])

	status, _ = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status, "health checks are not rate limited")
}
