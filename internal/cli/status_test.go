package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harun/mission-control/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers /auth/login, /auth/logout and an authenticated /mc/status
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts, _ := fakeServerWithSessions(t)
	return ts
}

// fakeServerWithSessions also reports the number of sessions still open
func fakeServerWithSessions(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	open := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["password"] != "mission-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		open++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "token": "tok"})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok" {
			mu.Lock()
			open--
			mu.Unlock()
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("GET /mc/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"health":      "online",
			"uptime":      3725,
			"lastRefresh": time.Now().UTC(),
			"startTime":   time.Now().UTC(),
			"version":     "1.0.0",
			"status":      "operational",
		})
	})
	return httptest.NewServer(mux), func() int {
		mu.Lock()
		defer mu.Unlock()
		return open
	}
}

func TestStatusLiveThenCached(t *testing.T) {
	t.Setenv("MC_PASSWORD", "")
	path, _ := writeConfig(t, map[string]any{"admin": map[string]any{"password": "mission-pass"}})
	ts := fakeServer(t)

	out, err := execute(t, "--config", path, "status", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: stopped")
	assert.Contains(t, out, "Server: online\n")
	assert.Contains(t, out, "Version: 1.0.0")
	assert.Contains(t, out, "Server uptime: 1h2m5s")

	ts.Close()

	out, err = execute(t, "--config", path, "status", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Server: online (cached)")
}

func TestStatusLogsOutAfterFetch(t *testing.T) {
	t.Setenv("MC_PASSWORD", "")
	path, _ := writeConfig(t, map[string]any{"admin": map[string]any{"password": "mission-pass"}})
	ts, openSessions := fakeServerWithSessions(t)
	defer ts.Close()

	for i := 0; i < 3; i++ {
		out, err := execute(t, "--config", path, "status", "--url", ts.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Server: online")
	}
	assert.Equal(t, 0, openSessions())
}

func TestStatusUnreachableWithoutCache(t *testing.T) {
	path, _ := writeConfig(t, map[string]any{"admin": map[string]any{"password": "mission-pass"}})
	ts := fakeServer(t)
	ts.Close()

	out, err := execute(t, "--config", path, "status", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, errServerUnreachable.Error())
}

func TestStatusRejectedLogin(t *testing.T) {
	t.Setenv("MC_PASSWORD", "")
	path, _ := writeConfig(t, map[string]any{"admin": map[string]any{"password": "wrong-pass"}})
	ts := fakeServer(t)
	defer ts.Close()

	out, err := execute(t, "--config", path, "status", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "unexpected status 401")
}

func TestServerURL(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:8899", serverURL(cfg))

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 9000
	assert.Equal(t, "http://10.0.0.5:9000", serverURL(cfg))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours, minutes, seconds", 1*time.Hour + 15*time.Minute + 30*time.Second, "1h15m30s"},
		{"zero", 0, "0s"},
		{"rounds", 1500 * time.Millisecond, "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
