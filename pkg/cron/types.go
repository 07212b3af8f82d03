package cron

import (
	"context"
	"time"

	"github.com/harun/mission-control/internal/metrics"
)

// JobFunc is the work a scheduled job performs
type JobFunc func(ctx context.Context) error

// Job is a registered daily job
type Job struct {
	Name string
	Expr string // five-field cron expression
	Run  JobFunc
}

// Run statuses
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// JobState tracks runtime state of a job. It is persisted across restarts.
type JobState struct {
	LastRunDate       string `json:"lastRunDate,omitempty"`       // YYYY-MM-DD in the scheduler timezone
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`       // When last executed
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`       // When to run next
	LastStatus        string `json:"lastStatus,omitempty"`        // "ok" or "error"
	LastError         string `json:"lastError,omitempty"`         // Last error message
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`    // Last execution duration
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"` // Sequential failure count
}

// JobStatus pairs a job definition with its state
type JobStatus struct {
	Name  string   `json:"name"`
	Expr  string   `json:"expr"`
	State JobState `json:"state"`
}

// Event is emitted after every run attempt
type Event struct {
	Job         string `json:"job"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	DurationMs  *int64 `json:"durationMs,omitempty"`
	NextRunAtMs *int64 `json:"nextRunAtMs,omitempty"`
}

// RunMode specifies how to run a job manually
type RunMode string

const (
	// RunModeDue runs only if the job has not run today
	RunModeDue RunMode = "due"
	// RunModeForce runs regardless of today's state
	RunModeForce RunMode = "force"
)

// ServiceOptions configures the scheduler
type ServiceOptions struct {
	StatePath string         // mc-scheduler.json
	Location  *time.Location // defaults to time.Local
	CatchUp   bool           // fire a missed run on Start
	Metrics   *metrics.Metrics
	OnEvent   func(evt Event)
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
