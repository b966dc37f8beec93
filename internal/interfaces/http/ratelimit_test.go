package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/config"
)

func limitedHandler(rl *RateLimiter, preset string) http.Handler {
	return rl.Middleware(preset)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func rateLimitRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/search", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	return req
}

// anyArgs accepts whatever arguments the limiter produced; timestamps and
// member tokens are not predictable.
func anyArgs(_, _ []interface{}) error { return nil }

func expectWindow(mock redismock.ClientMock, key string, count int64) {
	mock.ExpectTxPipeline()
	mock.CustomMatch(anyArgs).ExpectZRemRangeByScore(key, "0", "0").SetVal(0)
	mock.CustomMatch(anyArgs).ExpectZAdd(key, &redis.Z{}).SetVal(1)
	mock.ExpectZCard(key).SetVal(count)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()
}

func TestRateLimiter_Allows(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, config.Default().RateLimit)
	expectWindow(mock, "rl:standard:203.0.113.9", 3)

	rec := httptest.NewRecorder()
	limitedHandler(rl, "standard").ServeHTTP(rec, rateLimitRequest())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "97", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RejectsOverQuota(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, config.Default().RateLimit)
	expectWindow(mock, "rl:strict:203.0.113.9", 21) // strict preset is 20/min

	rec := httptest.NewRecorder()
	limitedHandler(rl, "strict").ServeHTTP(rec, rateLimitRequest())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), CodeRateLimited)
}

func TestRateLimiter_FailsOpenOnBackendError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(db, config.Default().RateLimit)

	mock.ExpectTxPipeline()
	mock.CustomMatch(anyArgs).ExpectZRemRangeByScore("rl:standard:203.0.113.9", "0", "0").
		SetErr(redis.TxFailedErr)

	rec := httptest.NewRecorder()
	limitedHandler(rl, "standard").ServeHTTP(rec, rateLimitRequest())

	assert.Equal(t, http.StatusOK, rec.Code, "limiter outage must not block reads")
}

func TestRateLimiter_DisabledWithoutBackend(t *testing.T) {
	rl := NewRateLimiter(nil, config.Default().RateLimit)

	rec := httptest.NewRecorder()
	limitedHandler(rl, "standard").ServeHTTP(rec, rateLimitRequest())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
}

func TestClientIP_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		xff      string
		realIP   string
		remote   string
		expected string
	}{
		{"forwarded-for wins", "198.51.100.1, 10.0.0.1", "192.0.2.2", "127.0.0.1:1234", "198.51.100.1"},
		{"real-ip next", "", "192.0.2.2", "127.0.0.1:1234", "192.0.2.2"},
		{"socket address last", "", "", "127.0.0.1:1234", "127.0.0.1"},
		{"unparseable remote kept", "", "", "bogus", "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.expected, clientIP(req))
		})
	}
}
