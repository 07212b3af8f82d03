// Package upstream holds the HTTP plumbing shared by the GitHub, Stripe and weather clients.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/tracing"
)

// UserAgent is sent on every outbound request
const UserAgent = "Mission-Control-Dashboard/1.0"

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 512

// ErrUnavailable wraps every failure to reach or understand a collaborator
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is a non-2xx response
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// Unwrap makes errors.Is(err, ErrUnavailable) hold
func (e *StatusError) Unwrap() error {
	return ErrUnavailable
}

// Client performs JSON requests against one collaborator with a bounded timeout
type Client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewClient creates a client; a zero timeout means 10s
func NewClient(name string, timeout time.Duration, httpClient *http.Client, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{name: name, http: httpClient, timeout: timeout, metrics: m}
}

// Name returns the collaborator name used in metrics and errors
func (c *Client) Name() string {
	return c.name
}

// GetJSON issues a GET and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(ctx, req, out)
}

// Do sends req under the client timeout and decodes a 2xx JSON body into out.
// Every failure wraps ErrUnavailable.
func (c *Client) Do(ctx context.Context, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream(c.name, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	tracing.Inject(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Upstream: c.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrUnavailable, c.name, err)
	}
	return nil
}
