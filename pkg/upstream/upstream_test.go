package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer x", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get(tracing.HeaderTraceID))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	m := metrics.NewMetrics()
	c := NewClient("test", time.Second, srv.Client(), m)

	var out struct{ OK bool }
	ctx := tracing.WithTraceID(context.Background(), "trace-1")
	require.NoError(t, c.GetJSON(ctx, srv.URL, http.Header{"Authorization": {"Bearer x"}}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("test", "ok")))
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("github", time.Second, nil, nil)
	err := c.GetJSON(context.Background(), srv.URL, nil, &struct{}{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, se.Body, "rate limited")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("slow", 50*time.Millisecond, nil, nil)
	start := time.Now()
	err := c.GetJSON(context.Background(), srv.URL, nil, nil)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := NewClient("weather", time.Second, nil, nil)
	err := c.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnreachable(t *testing.T) {
	c := NewClient("down", time.Second, nil, nil)
	err := c.GetJSON(context.Background(), "http://127.0.0.1:1", nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
