package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/github"
	"github.com/harun/mission-control/pkg/openclaw"
	"github.com/harun/mission-control/pkg/stripe"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// serveGitHub runs fetch and maps failures to {error, message}
func serveGitHub[T any](s *Server, w http.ResponseWriter, r *http.Request, what string, fetch func(context.Context, GitHubAPI) ([]T, error)) {
	if s.cfg.GitHub == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to fetch " + what,
			"message": github.ErrNoToken.Error(),
		})
		return
	}

	items, err := fetch(r.Context(), s.cfg.GitHub)
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Warn().Err(err).Str("resource", what).Msg("GitHub request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to fetch " + what,
			"message": err.Error(),
		})
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGitHubRepos(w http.ResponseWriter, r *http.Request) {
	serveGitHub(s, w, r, "repositories", func(ctx context.Context, c GitHubAPI) ([]github.Repo, error) {
		return c.Repos(ctx)
	})
}

func (s *Server) handleGitHubCommits(w http.ResponseWriter, r *http.Request) {
	serveGitHub(s, w, r, "commits", func(ctx context.Context, c GitHubAPI) ([]github.Push, error) {
		return c.Commits(ctx)
	})
}

func (s *Server) handleGitHubIssues(w http.ResponseWriter, r *http.Request) {
	serveGitHub(s, w, r, "issues", func(ctx context.Context, c GitHubAPI) ([]github.Issue, error) {
		return c.Issues(ctx)
	})
}

func (s *Server) handleGitHubPRs(w http.ResponseWriter, r *http.Request) {
	serveGitHub(s, w, r, "pull requests", func(ctx context.Context, c GitHubAPI) ([]github.PullRequest, error) {
		return c.PullRequests(ctx)
	})
}

// gatewayDegraded answers a failed gateway call with an empty collection under key
func (s *Server) gatewayDegraded(w http.ResponseWriter, r *http.Request, key string, empty any, err error) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Warn().Err(err).Str("resource", key).Msg("Agent gateway request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":    err.Error(),
		"degraded": true,
		key:        empty,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway == nil {
		s.gatewayDegraded(w, r, "agents", []openclaw.Agent{}, openclaw.ErrNotConfigured)
		return
	}
	agents, err := s.cfg.Gateway.Agents(r.Context())
	if err != nil {
		s.gatewayDegraded(w, r, "agents", []openclaw.Agent{}, err)
		return
	}
	if agents == nil {
		agents = []openclaw.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	if s.cfg.Gateway == nil {
		s.gatewayDegraded(w, r, "logs", []openclaw.LogEntry{}, openclaw.ErrNotConfigured)
		return
	}
	logs, err := s.cfg.Gateway.Logs(r.Context(), limit)
	if err != nil {
		s.gatewayDegraded(w, r, "logs", []openclaw.LogEntry{}, err)
		return
	}
	if logs == nil {
		logs = []openclaw.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleAgentSessions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway == nil {
		s.gatewayDegraded(w, r, "sessions", []openclaw.Session{}, openclaw.ErrNotConfigured)
		return
	}
	sessions, err := s.cfg.Gateway.Sessions(r.Context())
	if err != nil {
		s.gatewayDegraded(w, r, "sessions", []openclaw.Session{}, err)
		return
	}
	if sessions == nil {
		sessions = []openclaw.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleAgentCosts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway == nil {
		s.gatewayDegraded(w, r, "costs", openclaw.Costs{}, openclaw.ErrNotConfigured)
		return
	}
	costs, err := s.cfg.Gateway.Costs(r.Context())
	if err != nil {
		s.gatewayDegraded(w, r, "costs", openclaw.Costs{}, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"costs": costs})
}

func (s *Server) handleAgentTask(w http.ResponseWriter, r *http.Request) {
	var task openclaw.Task
	if err := s.decodeBody(r, s.schemas.agentTask, &task); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	if s.cfg.Gateway == nil {
		s.gatewayDegraded(w, r, "task", nil, openclaw.ErrNotConfigured)
		return
	}
	res, err := s.cfg.Gateway.SubmitTask(r.Context(), task)
	if err != nil {
		s.gatewayDegraded(w, r, "task", nil, err)
		return
	}

	user := sessionFrom(r.Context()).User
	if _, err := s.cfg.Activity.Append(user, "Task dispatched to agent "+agentLabel(task.AgentID), "agent", map[string]any{
		"taskId":  res.TaskID,
		"agentId": task.AgentID,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record task activity")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"taskId":  res.TaskID,
		"status":  res.Status,
	})
}

func agentLabel(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func (s *Server) handleStripeMRR(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stripe == nil {
		s.stripeDegraded(w, r, map[string]any{"mrr": 0}, stripe.ErrNoKey)
		return
	}
	mrr, err := s.cfg.Stripe.MRR(r.Context())
	if err != nil {
		s.stripeDegraded(w, r, map[string]any{"mrr": 0}, err)
		return
	}
	writeJSON(w, http.StatusOK, mrr)
}

func (s *Server) handleStripeCustomers(w http.ResponseWriter, r *http.Request) {
	empty := map[string]any{"total": 0, "recent": []any{}}
	if s.cfg.Stripe == nil {
		s.stripeDegraded(w, r, empty, stripe.ErrNoKey)
		return
	}
	customers, err := s.cfg.Stripe.Customers(r.Context())
	if err != nil {
		s.stripeDegraded(w, r, empty, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) stripeDegraded(w http.ResponseWriter, r *http.Request, body map[string]any, err error) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Warn().Err(err).Msg("Stripe request failed")
	body["error"] = err.Error()
	body["degraded"] = true
	writeJSON(w, http.StatusInternalServerError, body)
}
