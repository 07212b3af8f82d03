package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrStopped     = errors.New("scheduler is stopped")
)

type entry struct {
	job   Job
	sched cron.Schedule
}

// Service fires registered jobs at most once per calendar day
type Service struct {
	jobs    map[string]*entry
	states  map[string]*JobState
	timers  map[string]*time.Timer
	running map[string]bool
	options ServiceOptions
	loc     *time.Location
	now     func() time.Time
	logger  zerolog.Logger
	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a scheduler. Jobs are added with Register and fire after Start.
func NewService(opts ServiceOptions, logger zerolog.Logger) (*Service, error) {
	if opts.StatePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		jobs:    make(map[string]*entry),
		states:  make(map[string]*JobState),
		timers:  make(map[string]*time.Timer),
		running: make(map[string]bool),
		options: opts,
		loc:     loc,
		now:     time.Now,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Register adds a daily job
func (s *Service) Register(name, expr string, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if fn == nil {
		return fmt.Errorf("job %s has no function", name)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	e := &entry{job: Job{Name: name, Expr: expr, Run: fn}, sched: sched}
	s.jobs[name] = e
	if _, ok := s.states[name]; !ok {
		s.states[name] = &JobState{}
	}

	if s.started {
		s.scheduleLocked(e)
	}

	s.logger.Info().Str("job", name).Str("expr", expr).Msg("Job registered")
	return nil
}

// Start loads persisted state, fires missed runs when catch-up is on and arms the timers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	if err := s.loadLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load scheduler state, starting fresh")
	}
	s.started = true

	now := s.now()
	for _, e := range s.jobs {
		if s.options.CatchUp && Missed(e.sched, *s.states[e.job.Name], now, s.loc) {
			s.logger.Info().Str("job", e.job.Name).Msg("Catching up missed run")
			s.wg.Add(1)
			go func(e *entry) {
				defer s.wg.Done()
				_, _ = s.execute(e, RunModeDue)
			}(e)
		}
		s.scheduleLocked(e)
	}

	s.logger.Info().Int("jobCount", len(s.jobs)).Str("timezone", s.loc.String()).Msg("Scheduler started")
	return nil
}

// RunJob runs a job now and waits for it. RunModeDue skips a job that already ran today.
func (s *Service) RunJob(name string, mode RunMode) (Event, error) {
	s.mu.Lock()
	e, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return Event{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(e, mode)
}

// ListJobs returns every job with its state, sorted by name
func (s *Service) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, JobStatus{Name: name, Expr: e.job.Expr, State: *s.states[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels timers, waits for running jobs and persists state
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.cancel()
	for name := range s.timers {
		s.cancelLocked(name)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist scheduler state on shutdown")
		return err
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// scheduleLocked arms the timer for the next fire time (must hold lock)
func (s *Service) scheduleLocked(e *entry) {
	s.cancelLocked(e.job.Name)

	now := s.now()
	next := NextRun(e.sched, now, s.loc)
	if next.IsZero() {
		s.logger.Warn().Str("job", e.job.Name).Msg("Schedule never fires")
		return
	}
	s.states[e.job.Name].NextRunAtMs = Int64Ptr(next.UnixMilli())

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.timers[e.job.Name] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		_, _ = s.execute(e, RunModeDue)

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped {
			s.scheduleLocked(e)
		}
	})

	s.logger.Debug().
		Str("job", e.job.Name).
		Dur("delay", delay).
		Time("nextRun", next).
		Msg("Job scheduled")
}

// cancelLocked stops a job's timer (must hold lock)
func (s *Service) cancelLocked(name string) {
	if timer, exists := s.timers[name]; exists {
		timer.Stop()
		delete(s.timers, name)
	}
}

// execute runs one job attempt and records its outcome
func (s *Service) execute(e *entry, mode RunMode) (Event, error) {
	name := e.job.Name

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Event{}, ErrStopped
	}
	state := s.states[name]
	start := s.now()
	today := DateOf(start, s.loc)

	if s.running[name] || (mode == RunModeDue && state.LastRunDate == today) {
		evt := Event{Job: name, Status: StatusSkipped, NextRunAtMs: state.NextRunAtMs}
		s.mu.Unlock()
		s.logger.Debug().Str("job", name).Str("date", today).Msg("Job already ran today, skipping")
		s.options.Metrics.RecordSchedulerRun(name, StatusSkipped)
		s.emit(evt)
		return evt, nil
	}

	// The date is claimed before the job runs so a crash mid-run cannot fire it twice.
	s.running[name] = true
	state.LastRunDate = today
	state.LastRunAtMs = Int64Ptr(start.UnixMilli())
	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist scheduler state")
	}
	ctx := tracing.NewJobContext(s.ctx, name)
	s.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Msg("Executing job")

	err := e.job.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.now().Sub(start).Milliseconds()
	delete(s.running, name)
	state.LastDurationMs = Int64Ptr(duration)

	if err != nil {
		state.LastStatus = StatusError
		state.LastError = err.Error()
		state.ConsecutiveErrors++
		logger.Error().
			Err(err).
			Int("consecutiveErrors", state.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		state.LastStatus = StatusOK
		state.LastError = ""
		state.ConsecutiveErrors = 0
		logger.Info().Int64("durationMs", duration).Msg("Job execution completed")
	}

	if persistErr := s.persistLocked(); persistErr != nil {
		s.logger.Error().Err(persistErr).Msg("Failed to persist scheduler state")
	}
	s.options.Metrics.RecordSchedulerRun(name, state.LastStatus)

	evt := Event{
		Job:         name,
		Status:      state.LastStatus,
		Error:       state.LastError,
		DurationMs:  Int64Ptr(duration),
		NextRunAtMs: state.NextRunAtMs,
	}
	s.emit(evt)
	return evt, err
}

func (s *Service) emit(evt Event) {
	if s.options.OnEvent != nil {
		s.options.OnEvent(evt)
	}
}

// loadLocked reads persisted state (must hold lock)
func (s *Service) loadLocked() error {
	loaded := map[string]JobState{}
	if err := jsonstore.ReadFile(s.options.StatePath, map[string]JobState{}, &loaded, s.logger); err != nil {
		return err
	}
	for name, st := range loaded {
		st := st
		s.states[name] = &st
	}
	for name := range s.jobs {
		if _, ok := s.states[name]; !ok {
			s.states[name] = &JobState{}
		}
	}
	s.logger.Debug().Int("count", len(loaded)).Msg("Loaded scheduler state")
	return nil
}

// persistLocked writes state atomically (must hold lock)
func (s *Service) persistLocked() error {
	out := make(map[string]JobState, len(s.states))
	for name, st := range s.states {
		out[name] = *st
	}
	return jsonstore.WriteFile(s.options.StatePath, out)
}
