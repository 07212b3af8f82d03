package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a five-field cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron schedule requires an expression")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns the first fire time after now in loc
func NextRun(sched cron.Schedule, now time.Time, loc *time.Location) time.Time {
	return sched.Next(now.In(loc))
}

// LastFire returns the most recent fire time in the 24 hours up to and including now.
// The zero time means the schedule did not fire in that window.
func LastFire(sched cron.Schedule, now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	var last time.Time
	for t := sched.Next(now.Add(-24 * time.Hour)); !t.IsZero() && !t.After(now); t = sched.Next(t) {
		last = t
	}
	return last
}

// DateOf formats t as a calendar date in loc
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// Missed reports whether the latest fire time up to now was never run.
// A job whose last run date equals the fire date is never missed.
func Missed(sched cron.Schedule, state JobState, now time.Time, loc *time.Location) bool {
	last := LastFire(sched, now, loc)
	if last.IsZero() {
		return false
	}
	if state.LastRunDate == DateOf(last, loc) {
		return false
	}
	if state.LastRunAtMs != nil && *state.LastRunAtMs >= last.UnixMilli() {
		return false
	}
	return true
}
