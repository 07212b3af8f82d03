package openclaw

import (
	"encoding/json"
	"fmt"
	"time"
)

// Liveness buckets an agent by time since its last activity
type Liveness string

const (
	LivenessOnline  Liveness = "online"
	LivenessIdle    Liveness = "idle"
	LivenessOffline Liveness = "offline"

	onlineWindow = 2 * time.Minute
	idleWindow   = 10 * time.Minute
)

// LivenessOf classifies lastActivity relative to now. A nil or zero time is offline.
func LivenessOf(lastActivity *time.Time, now time.Time) Liveness {
	if lastActivity == nil || lastActivity.IsZero() {
		return LivenessOffline
	}
	since := now.Sub(*lastActivity)
	switch {
	case since < onlineWindow:
		return LivenessOnline
	case since < idleWindow:
		return LivenessIdle
	default:
		return LivenessOffline
	}
}

// Agent is one agent known to the gateway
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status,omitempty"`
	Model        string     `json:"model,omitempty"`
	CurrentTask  string     `json:"currentTask,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	Liveness     Liveness   `json:"liveness"`
}

// LogEntry is one line of agent output
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Session is an agent conversation session
type Session struct {
	Key          string     `json:"key"`
	AgentID      string     `json:"agentId"`
	Channel      string     `json:"channel,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	Messages     int        `json:"messages"`
	Tokens       int64      `json:"tokens"`
}

// Costs summarises model spend
type Costs struct {
	Currency string             `json:"currency"`
	Today    float64            `json:"today"`
	Week     float64            `json:"week"`
	Month    float64            `json:"month"`
	ByAgent  map[string]float64 `json:"byAgent,omitempty"`
	ByModel  map[string]float64 `json:"byModel,omitempty"`
}

// Task is a prompt dispatched to an agent
type Task struct {
	AgentID  string         `json:"agentId"`
	Prompt   string         `json:"prompt"`
	Session  string         `json:"session,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult acknowledges a dispatched task
type TaskResult struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// rpcRequest is a JSON-RPC 2.0 request
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response or a server event
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// RPCError is an error returned by the gateway
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// authChallenge is the first frame the gateway sends
type authChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// authResponse answers the challenge
type authResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// authResult reports the handshake outcome
type authResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	eventChallenge   = "auth.challenge"
	eventAuthSuccess = "auth.success"
	eventAuthFailure = "auth.failure"
	methodAuth       = "auth.response"
)
