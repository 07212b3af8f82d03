// Package server exposes the Mission Control HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/auth"
	"github.com/harun/mission-control/pkg/backup"
	"github.com/harun/mission-control/pkg/digest"
	"github.com/harun/mission-control/pkg/github"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/offline"
	"github.com/harun/mission-control/pkg/openclaw"
	"github.com/harun/mission-control/pkg/stripe"
	"github.com/harun/mission-control/pkg/sysstats"
	"github.com/harun/mission-control/pkg/weather"
	"github.com/rs/zerolog"
)

// Version is reported by GET /mc/status
const Version = "1.0.0"

// GitHubAPI is the subset of the GitHub client served under /mc/github
type GitHubAPI interface {
	Repos(ctx context.Context) ([]github.Repo, error)
	Commits(ctx context.Context) ([]github.Push, error)
	Issues(ctx context.Context) ([]github.Issue, error)
	PullRequests(ctx context.Context) ([]github.PullRequest, error)
}

// StripeAPI is the subset of the Stripe client served under /mc/stripe
type StripeAPI interface {
	MRR(ctx context.Context) (stripe.MRR, error)
	Customers(ctx context.Context) (stripe.Customers, error)
}

// GatewayAPI is the subset of the agent gateway client served under /mc/openclaw
type GatewayAPI interface {
	Agents(ctx context.Context) ([]openclaw.Agent, error)
	Logs(ctx context.Context, limit int) ([]openclaw.LogEntry, error)
	Sessions(ctx context.Context) ([]openclaw.Session, error)
	Costs(ctx context.Context) (openclaw.Costs, error)
	SubmitTask(ctx context.Context, task openclaw.Task) (openclaw.TaskResult, error)
}

// WeatherAPI fetches current conditions
type WeatherAPI interface {
	Current(ctx context.Context, city string) (weather.Report, error)
}

// StatsSampler samples host usage
type StatsSampler interface {
	Sample() (sysstats.Stats, error)
}

// BackupRunner writes an encrypted snapshot
type BackupRunner interface {
	Run(ctx context.Context) (backup.Result, error)
}

// DigestBuilder assembles the daily digest
type DigestBuilder interface {
	Build(ctx context.Context) digest.Digest
}

// Forwarder relays the unauthenticated /api/proxy and /api/auth routes
type Forwarder interface {
	Proxy(w http.ResponseWriter, r *http.Request)
	Auth(w http.ResponseWriter, r *http.Request)
}

// Config holds server configuration and collaborators.
// Auth, Activity and Store are required; every other collaborator is optional
// and its routes answer with the degraded body when it is missing.
type Config struct {
	Host            string
	Port            int
	PublicDir       string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	StartTime       time.Time

	Auth     *auth.Service
	Activity *activity.Log
	Store    *jsonstore.Store
	GitHub   GitHubAPI
	Stripe   StripeAPI
	Gateway  GatewayAPI
	Weather  WeatherAPI
	Stats    StatsSampler
	Backup   BackupRunner
	Digest   DigestBuilder
	Webhook  http.Handler
	Proxy    Forwarder
	Offline  offline.Policy
	Manifest offline.Manifest
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Server is the Mission Control HTTP server
type Server struct {
	cfg     Config
	handler http.Handler
	schemas *schemas
	server  *http.Server
	logger  zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a server and builds its routes
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if cfg.Activity == nil {
		return nil, fmt.Errorf("activity log is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("json store is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 50 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.Manifest.Name == "" {
		cfg.Manifest = offline.DefaultManifest()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "server").Logger(),
	}

	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s.schemas = compiled

	routes, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.handler = s.middleware(routes)

	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Mission Control server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop refuses new requests, waits for in-flight ones, then shuts the listener down
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Mission Control server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("Mission Control server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}
