package observability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant action
type AuditEvent struct {
	Type      string         `json:"event_type"` // auth, backup, config
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"` // login, logout, register, run
	Status    string         `json:"status"` // success, failure
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// NewAuditLogger opens path for appending
func NewAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logger: zerolog.New(file),
		file:   file,
	}, nil
}

// NewAuditLoggerTo writes audit events to an existing logger, mostly for tests
func NewAuditLoggerTo(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Record writes an event, filling timestamp and trace ID from ctx when unset
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Send()
}

// RecordAuth records a login, logout or registration
func (a *AuditLogger) RecordAuth(ctx context.Context, action, actor string, ok bool, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     "auth",
		Actor:    actor,
		Action:   action,
		Status:   status(ok),
		Metadata: metadata,
	})
}

// RecordBackup records a backup run
func (a *AuditLogger) RecordBackup(ctx context.Context, actor string, ok bool, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     "backup",
		Actor:    actor,
		Action:   "run",
		Status:   status(ok),
		Metadata: metadata,
	})
}

// Close closes the audit file
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
