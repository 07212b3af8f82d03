package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/backup"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/proxy"
	"github.com/harun/mission-control/pkg/weather"
)

type activityRequest struct {
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r.Context()).User

	var doc any
	if err := s.cfg.Store.Read(jsonstore.UserFile("data", user), map[string]any{}, &doc); err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to read data")
		writeError(w, http.StatusInternalServerError, "Failed to read data")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePostData(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r.Context()).User

	var doc map[string]any
	if err := s.decodeBody(r, s.schemas.data, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "Data must be a JSON object")
		return
	}

	if err := s.cfg.Store.Write(jsonstore.UserFile("data", user), doc); err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to write data")
		writeError(w, http.StatusInternalServerError, "Failed to write data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Data backed up successfully",
	})
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	var entries []activity.Entry
	if r.URL.Query().Get("scope") == activity.GlobalScope {
		entries = s.cfg.Activity.ListGlobal()
	} else {
		entries = s.cfg.Activity.List(sessionFrom(r.Context()).User)
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAppendActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := s.decodeBody(r, s.schemas.activity, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid activity")
		return
	}

	entry, err := s.cfg.Activity.Append(sessionFrom(r.Context()).User, req.Description, req.Type, req.Metadata)
	if errors.Is(err, activity.ErrDescriptionRequired) {
		writeError(w, http.StatusBadRequest, "Description is required")
		return
	}
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Failed to append activity")
		writeError(w, http.StatusInternalServerError, "Failed to write activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activity": entry})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"health":      "online",
		"uptime":      int64(now.Sub(s.cfg.StartTime).Seconds()),
		"lastRefresh": now.UTC(),
		"startTime":   s.cfg.StartTime.UTC(),
		"version":     Version,
		"status":      "operational",
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	degraded := map[string]any{
		"error":       "Failed to get system stats",
		"cpu":         0,
		"memory":      0,
		"disk":        0,
		"uptime":      0,
		"loadAverage": [3]float64{},
	}
	if s.cfg.Stats == nil {
		writeJSON(w, http.StatusInternalServerError, degraded)
		return
	}
	stats, err := s.cfg.Stats.Sample()
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Warn().Err(err).Msg("System stats unavailable")
		writeJSON(w, http.StatusInternalServerError, degraded)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Weather == nil {
		writeJSON(w, http.StatusInternalServerError, weather.Unavailable())
		return
	}
	report, err := s.cfg.Weather.Current(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Warn().Err(err).Msg("Weather unavailable")
		writeJSON(w, http.StatusInternalServerError, weather.Unavailable())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Digest == nil {
		writeError(w, http.StatusServiceUnavailable, "Digest not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Digest.Build(r.Context()))
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Backup == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": backup.ErrNoBackupKey.Error()})
		return
	}

	res, err := s.cfg.Backup.Run(r.Context())
	if err != nil {
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("Backup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	user := sessionFrom(r.Context()).User
	if _, err := s.cfg.Activity.Append(user, fmt.Sprintf("Backup created: %s", res.Filename), "backup", map[string]any{
		"filename":  res.Filename,
		"size":      res.Size,
		"fileCount": res.FileCount,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record backup activity")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"filename":  res.Filename,
		"size":      res.Size,
		"fileCount": res.FileCount,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Webhook == nil {
		writeError(w, http.StatusServiceUnavailable, "Webhook receiver not configured")
		return
	}
	s.cfg.Webhook.ServeHTTP(w, r)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Proxy == nil {
		vpsNotConfigured(w, r)
		return
	}
	s.cfg.Proxy.Proxy(w, r)
}

func (s *Server) handleProxyAuth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Proxy == nil {
		vpsNotConfigured(w, r)
		return
	}
	s.cfg.Proxy.Auth(w, r)
}

func vpsNotConfigured(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusBadGateway, proxy.Unreachable{
		Error:  "VPS unreachable",
		Detail: proxy.ErrNotConfigured.Error(),
	})
}
