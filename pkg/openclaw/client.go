// Package openclaw is a client for the OpenClaw agent gateway.
//
// The gateway speaks JSON-RPC 2.0 over a websocket. On connect it sends an
// auth.challenge frame; the client answers with an HMAC-SHA256 of the challenge
// keyed by the gateway token and waits for auth.success before issuing calls.
// Server events interleaved with responses are skipped.
package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harun/mission-control/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultURL = "ws://127.0.0.1:18789/ws"

	defaultTimeout = 10 * time.Second
	defaultLogTail = 100
)

var (
	// ErrNotConfigured is returned when no gateway token is set
	ErrNotConfigured = errors.New("OPENCLAW_GATEWAY_TOKEN environment variable not set")
	// ErrAuthFailed is returned when the gateway rejects the handshake
	ErrAuthFailed = errors.New("gateway authentication failed")
)

// Options configures a Client
type Options struct {
	URL     string
	Token   string
	Timeout time.Duration
	Metrics *metrics.Metrics
	Dialer  *websocket.Dialer
}

// Client holds one authenticated gateway connection and serialises calls over it.
// A failed call drops the connection; the next call redials.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a gateway client. No connection is made until the first call.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: opts.Timeout}
	}
	return &Client{
		url:     opts.URL,
		token:   opts.Token,
		timeout: opts.Timeout,
		dialer:  opts.Dialer,
		metrics: opts.Metrics,
		now:     time.Now,
		logger:  logger.With().Str("component", "openclaw").Logger(),
	}
}

// Configured reports whether a gateway token is set
func (c *Client) Configured() bool {
	return c.token != ""
}

// Close drops the gateway connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Agents lists agents with their liveness
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var result struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.Call(ctx, "agents.list", nil, &result); err != nil {
		return nil, err
	}

	now := c.now()
	agents := make([]Agent, 0, len(result.Agents))
	for _, a := range result.Agents {
		a.Liveness = LivenessOf(a.LastActivity, now)
		agents = append(agents, a)
	}
	return agents, nil
}

// Logs returns the most recent log lines; limit <= 0 means 100
func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogTail
	}
	var result struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := c.Call(ctx, "logs.tail", map[string]any{"limit": limit}, &result); err != nil {
		return nil, err
	}
	if result.Logs == nil {
		result.Logs = []LogEntry{}
	}
	return result.Logs, nil
}

// Sessions lists agent sessions
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.Call(ctx, "sessions.list", nil, &result); err != nil {
		return nil, err
	}
	if result.Sessions == nil {
		result.Sessions = []Session{}
	}
	return result.Sessions, nil
}

// Costs returns the spend summary
func (c *Client) Costs(ctx context.Context) (Costs, error) {
	var costs Costs
	if err := c.Call(ctx, "costs.summary", nil, &costs); err != nil {
		return Costs{}, err
	}
	return costs, nil
}

// SubmitTask dispatches a prompt to an agent
func (c *Client) SubmitTask(ctx context.Context, task Task) (TaskResult, error) {
	if task.AgentID == "" || task.Prompt == "" {
		return TaskResult{}, fmt.Errorf("agent id and prompt are required")
	}
	var result TaskResult
	if err := c.Call(ctx, "agent.task", task, &result); err != nil {
		return TaskResult{}, err
	}
	return result, nil
}

// Call performs one JSON-RPC call and decodes the result into out
func (c *Client) Call(ctx context.Context, method string, params any, out any) (err error) {
	if c.token == "" {
		return ErrNotConfigured
	}

	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("openclaw", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	result, err := c.roundTripLocked(ctx, method, params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			_ = c.dropLocked()
		}
		c.logger.Warn().Err(err).Str("method", method).Msg("Gateway call failed")
		return err
	}

	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial gateway: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.logger.Debug().Str("url", c.url).Msg("Gateway connected")
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var challenge authChallenge
	if err := conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("read auth challenge: %w", err)
	}
	if challenge.Event != eventChallenge || challenge.Challenge == "" {
		return fmt.Errorf("%w: unexpected first frame %q", ErrAuthFailed, challenge.Event)
	}

	if err := conn.WriteJSON(authResponse{
		Method:    methodAuth,
		Signature: Sign(c.token, challenge.Challenge),
	}); err != nil {
		return fmt.Errorf("send auth response: %w", err)
	}

	var result authResult
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	if result.Event != eventAuthSuccess {
		return fmt.Errorf("%w: %s", ErrAuthFailed, result.Message)
	}
	return nil
}

func (c *Client) roundTripLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	id := uuid.NewString()
	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			return nil, fmt.Errorf("parse %s response: %w", method, err)
		}
		if resp.Event != "" || resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}
