// Package proxy forwards dashboard calls to the VPS-hosted Mission Control instance.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/tracing"
	"github.com/rs/zerolog"
)

const (
	DefaultPath   = "/mc/status"
	DefaultAction = "login"

	maxBodyBytes = 1 << 20
)

var (
	// ErrNotConfigured is returned when VPS_URL is not set
	ErrNotConfigured = errors.New("VPS_URL not set")

	actionPattern = regexp.MustCompile(`^[a-z]+$`)
)

// Unreachable is the body served when the VPS cannot be reached
type Unreachable struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Forwarder relays /api/proxy and /api/auth requests to the VPS
type Forwarder struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewForwarder creates a forwarder; a zero timeout means 10s
func NewForwarder(baseURL string, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
		metrics: m,
		logger:  logger.With().Str("component", "proxy").Logger(),
	}
}

// Proxy handles ANY /api/proxy?path=/x by forwarding to {VPS_URL}{path}
func (f *Forwarder) Proxy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid path"})
		return
	}

	f.forward(w, r, path)
}

// Auth handles ANY /api/auth?action=login by forwarding to {VPS_URL}/auth/{action}
func (f *Forwarder) Auth(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := r.URL.Query().Get("action")
	if action == "" {
		action = DefaultAction
	}
	if !actionPattern.MatchString(action) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
		return
	}

	f.forward(w, r, "/auth/"+action)
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, path string) {
	start := time.Now()
	status, body, err := f.Do(r.Context(), r.Method, path, r.Header.Get("Authorization"), r.Body)
	f.metrics.ObserveUpstream("vps", start, err)

	if err != nil {
		f.logger.Warn().Err(err).Str("path", path).Msg("VPS unreachable")
		writeJSON(w, http.StatusBadGateway, Unreachable{Error: "VPS unreachable", Detail: err.Error()})
		return
	}

	if json.Valid(body) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(status)
	w.Write(body)
}

// Do sends one request to the VPS and returns its status and body.
// Only network failures are errors; any HTTP status is relayed.
func (f *Forwarder) Do(ctx context.Context, method, path, authorization string, body io.Reader) (int, []byte, error) {
	if f.baseURL == "" {
		return 0, nil, ErrNotConfigured
	}

	var payload io.Reader
	if body != nil && (method == http.MethodPost || method == http.MethodPut) {
		data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
		if err != nil {
			return 0, nil, fmt.Errorf("read request body: %w", err)
		}
		if len(data) > 0 {
			payload = bytes.NewReader(data)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	tracing.Inject(ctx, req)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
