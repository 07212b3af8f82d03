package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// userView is the public shape of a registered user
type userView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(r, s.schemas.login, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Username and password are required",
		})
		return
	}

	sess, err := s.cfg.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logger := tracing.LoggerFromContext(r.Context(), s.logger)
			logger.Error().Err(err).Msg("Login failed")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   "Invalid credentials",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   sess.Token,
		"user":    sess.User,
		"role":    sess.Role,
		"expires": sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.cfg.Auth.Logout(r.Context(), tokenFromRequest(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Auth.Check(tokenFromRequest(r))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          sess.User,
		"role":          sess.Role,
		"expires":       sess.ExpiresAt,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	actor := sessionFrom(r.Context())
	if actor.Role != auth.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "Admin role required"})
		return
	}

	var req registerRequest
	if err := s.decodeBody(r, s.schemas.register, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	user, err := s.cfg.Auth.Register(r.Context(), actor, req.Username, req.Password, req.Role)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "Admin role required"})
		return
	case errors.Is(err, auth.ErrUserExists):
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "Username already exists"})
		return
	case errors.Is(err, auth.ErrInvalidUser):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	default:
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Str("username", req.Username).Msg("Failed to register user")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to register user"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user": userView{
			ID:        user.ID,
			Username:  user.Username,
			Role:      user.Role,
			CreatedAt: user.CreatedAt,
			LastLogin: user.LastLogin,
		},
	})
}
