// Package daemon assembles every Mission Control component and runs them as one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/mission-control/internal/config"
	"github.com/harun/mission-control/internal/logger"
	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/observability"
	"github.com/harun/mission-control/internal/server"
	"github.com/harun/mission-control/internal/telegram"
	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/auth"
	"github.com/harun/mission-control/pkg/backup"
	"github.com/harun/mission-control/pkg/cron"
	"github.com/harun/mission-control/pkg/digest"
	"github.com/harun/mission-control/pkg/github"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/offline"
	"github.com/harun/mission-control/pkg/openclaw"
	"github.com/harun/mission-control/pkg/proxy"
	"github.com/harun/mission-control/pkg/session"
	"github.com/harun/mission-control/pkg/stripe"
	"github.com/harun/mission-control/pkg/sysstats"
	"github.com/harun/mission-control/pkg/weather"
	"github.com/harun/mission-control/pkg/webhook"
)

const (
	jobBackup = "backup"
	jobDigest = "digest"

	alertTimeout = 15 * time.Second
)

// Daemon represents the Mission Control service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	metrics  *metrics.Metrics
	audit    *observability.AuditLogger
	store    *jsonstore.Store
	sessions *session.Store
	users    *auth.UserStore
	auth     *auth.Service
	activity *activity.Log

	// Integrations
	github    *github.Client
	stripe    *stripe.Client
	weather   *weather.Client
	gateway   *openclaw.Client
	forwarder *proxy.Forwarder
	sampler   *sysstats.Sampler

	// Services
	backup    *backup.Job
	digest    *digest.Builder
	webhook   *webhook.Receiver
	scheduler *cron.Service
	server    *server.Server

	// Telegram
	telegramBot *telegram.Bot
	telegramCmd *telegram.Commands

	lifecycle *LifecycleManager

	createdAt time.Time
	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		logger:    log,
		createdAt: time.Now(),
	}

	if err := d.initializeCoreModules(); err != nil {
		d.closeCore()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.closeCore()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds storage, auth and the upstream clients
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	d.metrics = metrics.NewMetrics()

	audit, err := observability.NewAuditLogger(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		d.logger.Warn().Err(err).Msg("Audit file unavailable, auditing to the main log")
		audit = observability.NewAuditLoggerTo(d.logger.Component("audit"))
	}
	d.audit = audit

	d.store = jsonstore.New(cfg.DataDir, d.logger.Component("store"))
	d.sessions = session.NewStore(cfg.SessionTTL(), d.logger.Component("session"),
		session.WithActiveObserver(d.metrics.SetActiveSessions))
	d.users = auth.NewUserStore(d.store, d.logger.Component("users"))
	d.auth = auth.NewService(
		auth.AdminCredential{Username: cfg.Admin.Username, Password: cfg.Admin.Password},
		d.users,
		d.sessions,
		auth.ServiceOptions{Metrics: d.metrics, Audit: d.audit},
		d.logger.Component("auth"),
	)
	d.activity = activity.NewLog(d.store, d.metrics, d.logger.Component("activity"))

	d.github = github.NewClient(github.Options{
		Token:    cfg.GitHub.Token,
		Username: cfg.GitHub.Username,
		BaseURL:  cfg.GitHub.BaseURL,
		Timeout:  seconds(cfg.GitHub.Timeout),
		Metrics:  d.metrics,
	}, d.logger.Component("github"))

	d.stripe = stripe.NewClient(stripe.Options{
		SecretKey: cfg.Stripe.SecretKey,
		BaseURL:   cfg.Stripe.BaseURL,
		Timeout:   seconds(cfg.Stripe.Timeout),
		Metrics:   d.metrics,
	}, d.logger.Component("stripe"))

	d.weather = weather.NewClient(weather.Options{
		City:         cfg.Weather.City,
		Latitude:     cfg.Weather.Latitude,
		Longitude:    cfg.Weather.Longitude,
		WttrURL:      cfg.Weather.WttrURL,
		OpenMeteoURL: cfg.Weather.OpenMeteoURL,
		Timeout:      seconds(cfg.Weather.Timeout),
		Metrics:      d.metrics,
	}, d.logger.Component("weather"))

	d.gateway = openclaw.NewClient(openclaw.Options{
		URL:     cfg.OpenClaw.URL,
		Token:   cfg.OpenClaw.Token,
		Timeout: seconds(cfg.OpenClaw.Timeout),
		Metrics: d.metrics,
	}, d.logger.Component("openclaw"))

	d.forwarder = proxy.NewForwarder(cfg.VPS.URL, seconds(cfg.VPS.Timeout), d.metrics, d.logger.Component("proxy"))
	d.sampler = sysstats.NewSampler(d.createdAt, cfg.DataDir)

	return nil
}

// initializeServices builds the jobs, the notifier and the HTTP server
func (d *Daemon) initializeServices() error {
	cfg := d.config

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("invalid scheduler timezone: %w", err)
	}

	// Telegram is optional; every consumer treats a nil bot as "no notifier"
	bot, err := telegram.New(&cfg.Telegram, d.metrics, d.logger.Component("telegram"))
	switch {
	case err == nil:
		d.telegramBot = bot
		d.telegramCmd = telegram.NewCommands(bot)
		d.registerCommands()
		bot.SetCommandHandler(d.telegramCmd)
	case errors.Is(err, telegram.ErrNotConfigured):
		d.logger.Info().Msg("Telegram not configured, notifications disabled")
	default:
		d.logger.Warn().Err(err).Msg("Failed to connect Telegram bot, notifications disabled")
	}

	var mirror backup.Mirror
	if cfg.Backup.S3.Bucket != "" {
		s3, err := backup.NewS3Mirror(context.Background(), backup.S3Config{
			Bucket:          cfg.Backup.S3.Bucket,
			Region:          cfg.Backup.S3.Region,
			Endpoint:        cfg.Backup.S3.Endpoint,
			AccessKeyID:     cfg.Backup.S3.AccessKeyID,
			SecretAccessKey: cfg.Backup.S3.SecretAccessKey,
			Prefix:          cfg.Backup.S3.Prefix,
			ForcePathStyle:  cfg.Backup.S3.ForcePathStyle,
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Offsite backup mirror disabled")
		} else {
			mirror = s3
		}
	}
	d.backup = backup.NewJob(backup.Options{
		DataDir:   cfg.DataDir,
		BackupDir: cfg.BackupDir(),
		Key:       cfg.Backup.Key,
		Retention: cfg.Backup.Retention,
		Mirror:    mirror,
		Metrics:   d.metrics,
		Audit:     d.audit,
	}, d.logger.Component("backup"))

	sources := digest.Sources{
		Activity: d.activity,
		Weather:  d.weather,
		System:   d.sampler,
	}
	if d.github.Configured() {
		sources.GitHub = d.github
	}
	d.digest = digest.NewBuilder(digest.Options{
		User:     cfg.Admin.Username,
		City:     cfg.Weather.City,
		Location: loc,
	}, sources, d.logger.Component("digest"))

	var notifier webhook.Notifier
	if d.telegramBot != nil {
		notifier = d.telegramBot
	}
	d.webhook, err = webhook.NewReceiver(webhook.Options{
		GitHubSecret:       cfg.GitHub.WebhookSecret,
		StripeSecret:       cfg.Stripe.WebhookSecret,
		RateLimitPerMinute: cfg.Webhook.RateLimit,
		AlertEvents:        cfg.Telegram.AlertEvents,
		TrustedProxies:     cfg.Webhook.TrustedProxies,
		Metrics:            d.metrics,
	}, d.activity, notifier, d.logger.Component("webhook"))
	if err != nil {
		return fmt.Errorf("failed to create webhook receiver: %w", err)
	}

	if err := d.initializeScheduler(loc); err != nil {
		return err
	}

	d.server, err = server.NewServer(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		PublicDir:       cfg.Server.PublicDir,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: seconds(cfg.Server.ShutdownTimeout),
		StartTime:       d.createdAt,
		Auth:            d.auth,
		Activity:        d.activity,
		Store:           d.store,
		GitHub:          d.github,
		Stripe:          d.stripe,
		Gateway:         d.gateway,
		Weather:         d.weather,
		Stats:           d.sampler,
		Backup:          d.backup,
		Digest:          d.digest,
		Webhook:         d.webhook,
		Proxy:           d.forwarder,
		Offline:         OfflinePolicy(cfg.Offline),
		Metrics:         d.metrics,
		Logger:          d.logger.Component("server"),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return nil
}

// initializeScheduler registers the daily jobs
func (d *Daemon) initializeScheduler(loc *time.Location) error {
	cfg := d.config

	svc, err := cron.NewService(cron.ServiceOptions{
		StatePath: cfg.SchedulerStatePath(),
		Location:  loc,
		CatchUp:   cfg.Scheduler.CatchUp,
		Metrics:   d.metrics,
		OnEvent:   d.onSchedulerEvent,
	}, d.logger.Component("scheduler"))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	d.scheduler = svc

	if d.backup.Configured() {
		if err := svc.Register(jobBackup, cfg.Backup.Schedule, func(ctx context.Context) error {
			_, err := d.runBackup(ctx, "scheduler")
			return err
		}); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	} else {
		d.logger.Info().Msg("BACKUP_KEY not set, scheduled backups disabled")
	}

	if cfg.Digest.Enabled && d.telegramBot != nil {
		if err := svc.Register(jobDigest, cfg.Digest.Schedule, func(ctx context.Context) error {
			_, err := d.digest.Send(ctx, d.telegramBot)
			return err
		}); err != nil {
			return fmt.Errorf("failed to register digest job: %w", err)
		}
	}

	return nil
}

// runBackup writes a backup and records it in the global activity feed
func (d *Daemon) runBackup(ctx context.Context, source string) (backup.Result, error) {
	res, err := d.backup.Run(ctx)
	if err != nil {
		return res, err
	}
	if _, err := d.activity.AppendGlobal(source, "Backup created: "+res.Filename, "backup", map[string]any{
		"filename":  res.Filename,
		"size":      res.Size,
		"fileCount": res.FileCount,
	}); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to record backup activity")
	}
	return res, nil
}

// onSchedulerEvent forwards job failures to Telegram
func (d *Daemon) onSchedulerEvent(evt cron.Event) {
	if evt.Status != cron.StatusError || d.telegramBot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	text := fmt.Sprintf("⚠️ Job %s failed: %s", evt.Job, evt.Error)
	if err := d.telegramBot.Send(ctx, text); err != nil {
		d.logger.Warn().Err(err).Str("job", evt.Job).Msg("Failed to deliver job failure alert")
	}
}

// OfflinePolicy maps the configured cache policy onto the offline engine
func OfflinePolicy(c config.OfflineConfig) offline.Policy {
	return offline.Policy{
		Version:         c.CacheVersion,
		StaticResources: c.StaticResources,
		FontHosts:       c.FontHosts,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting Mission Control")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.users.Watch(func(count int) {
		d.logger.Info().Int("users", count).Msg("User file reloaded")
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to watch user file, edits need a restart")
	}

	cleanup := time.Duration(d.config.Session.CleanupIntervalMinutes) * time.Minute
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	d.sessions.StartCleanupRoutine(cleanup)

	if err := d.server.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info().Str("addr", d.config.Addr()).Msg("HTTP server started")

	if err := d.scheduler.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start scheduler")
	} else {
		logger.Info().Int("jobs", len(d.scheduler.ListJobs())).Msg("Scheduler started")
	}

	if d.telegramBot != nil {
		if err := d.telegramBot.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start Telegram bot")
		} else {
			if err := d.telegramCmd.SetCommands(); err != nil {
				logger.Warn().Err(err).Msg("Failed to publish bot commands")
			}
			logger.Info().Msg("Telegram bot started")
		}
	}

	logger.Info().Msg("Mission Control started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping Mission Control")

	var errs []error

	if d.telegramBot != nil {
		d.telegramBot.Stop()
	}

	if err := d.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if err := d.server.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), seconds(d.config.Server.ShutdownTimeout)+time.Second)
	if err := d.webhook.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("webhook receiver: %w", err))
	}
	cancel()

	d.closeCore()

	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info().Msg("Mission Control stopped")
	return nil
}

// closeCore releases watchers, connections and files held by core modules
func (d *Daemon) closeCore() {
	if d.gateway != nil {
		_ = d.gateway.Close()
	}
	if d.users != nil {
		_ = d.users.Close()
	}
	if d.sessions != nil {
		_ = d.sessions.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
	Jobs      []cron.JobStatus
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.sessions.Count(),
		Jobs:     d.scheduler.ListJobs(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetServer returns the HTTP server
func (d *Daemon) GetServer() *server.Server {
	return d.server
}

// GetScheduler returns the daily job scheduler
func (d *Daemon) GetScheduler() *cron.Service {
	return d.scheduler
}

// GetTelegramBot returns the Telegram bot, nil when not configured
func (d *Daemon) GetTelegramBot() *telegram.Bot {
	return d.telegramBot
}
