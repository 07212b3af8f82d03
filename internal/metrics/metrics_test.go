package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}
	if m.HTTPRequestsTotal == nil || m.UpstreamRequestsTotal == nil {
		t.Error("request counters are nil")
	}
	if m.BackupsTotal == nil || m.SchedulerRunsTotal == nil {
		t.Error("job counters are nil")
	}
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.ObserveHTTP("/mc/status", "GET", 200, 3*time.Millisecond)
	m.ObserveUpstream("github", time.Now(), nil)
	m.ObserveUpstream("github", time.Now(), errors.New("timeout"))
	m.SetActiveSessions(3)
	m.RecordLogin(true)
	m.RecordLogin(false)
	m.RecordLogin(false)
	m.RecordActivity("global")
	m.RecordWebhook("github", "accepted")
	m.RecordBackup(1024, nil)
	m.RecordBackup(0, errors.New("no key"))
	m.RecordSchedulerRun("backup", "ok")
	m.RecordTelegram(nil)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/mc/status", "GET", "200")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("github", "error")); got != 1 {
		t.Errorf("upstream errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.LoginsTotal.WithLabelValues("failure")); got != 2 {
		t.Errorf("failed logins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BackupSizeBytes); got != 1024 {
		t.Errorf("backup size = %v, want 1024", got)
	}
	if got := testutil.ToFloat64(m.BackupsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("backup errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TelegramMessagesSentTotal); got != 1 {
		t.Errorf("telegram sent = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.ObserveHTTP("/", "GET", 200, time.Millisecond)
	m.ObserveUpstream("stripe", time.Now(), nil)
	m.SetActiveSessions(1)
	m.RecordLogin(true)
	m.RecordActivity("user")
	m.RecordWebhook("stripe", "accepted")
	m.RecordBackup(1, nil)
	m.RecordSchedulerRun("digest", "ok")
	m.RecordTelegram(nil)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/mc/weather", "GET", 500, time.Millisecond)
	m.RecordWebhook("stripe", "accepted")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"mc_http_requests_total",
		"mc_http_request_duration_seconds",
		"mc_webhook_events_total",
		"mc_sessions_active",
		"go_goroutines",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}
