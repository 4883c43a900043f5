package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	vars := map[string]string{
		"USER_STORE":           "memory",
		"BCRYPT_COST":          "4",
		"TOKEN_SWEEP_INTERVAL": "10ms",
	}
	for k, v := range extra {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func TestNewApp_MemoryStoreServesRoutes(t *testing.T) {
	a, err := NewApp(memoryConfig(t, nil), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/register",
		strings.NewReader(`{"email":"a@x.com"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewApp_RedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	a, err := NewApp(memoryConfig(t, map[string]string{
		"RATE_LIMIT_BACKEND": "redis",
		"REDIS_HOST":         mr.Host(),
		"REDIS_PORT":         strconv.Itoa(port),
		"RATE_LIMIT_MAX":     "1",
	}), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	send := func() int {
		w := httptest.NewRecorder()
		a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login",
			strings.NewReader(`{"email":"nobody@x.com","password":"x"}`)))
		return w.Code
	}
	assert.Equal(t, http.StatusBadRequest, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	_, err := NewApp(memoryConfig(t, map[string]string{
		"RATE_LIMIT_BACKEND": "redis",
		"REDIS_HOST":         "127.0.0.1",
		"REDIS_PORT":         "1",
	}), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a, err := NewApp(memoryConfig(t, nil), testLogger())
	require.NoError(t, err)
	a.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
