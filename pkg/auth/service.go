// Package auth validates credentials and manages the users allowed into Mission Control.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/observability"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/session"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidCredentials covers both unknown users and wrong passwords
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden is returned when a non-admin tries an admin operation
	ErrForbidden = errors.New("admin role required")
	// ErrInvalidUser is returned for malformed registration input
	ErrInvalidUser = errors.New("invalid user")
)

// Usernames key per-user files through jsonstore.UserFile, so the pattern
// stays inside the file-name alphabet and the mapping is one to one.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// reservedUsernames name shared files and cannot be registered
var reservedUsernames = map[string]bool{
	activity.GlobalScope: true,
	"anonymous":          true,
}

const minPasswordLength = 8

// AdminCredential is the built-in administrator account
type AdminCredential struct {
	Username string
	Password string
}

// Service authenticates logins against the admin credential and registered users
type Service struct {
	admin    AdminCredential
	users    *UserStore
	sessions *session.Store
	metrics  *metrics.Metrics
	audit    *observability.AuditLogger
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceOptions wires optional collaborators
type ServiceOptions struct {
	Metrics *metrics.Metrics
	Audit   *observability.AuditLogger
}

// NewService creates an auth service
func NewService(admin AdminCredential, users *UserStore, sessions *session.Store, opts ServiceOptions, logger zerolog.Logger) *Service {
	return &Service{
		admin:    admin,
		users:    users,
		sessions: sessions,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		logger:   logger.With().Str("component", "auth").Logger(),
		now:      time.Now,
	}
}

// Login verifies credentials and opens a session
func (s *Service) Login(ctx context.Context, username, password string) (session.Session, error) {
	username = strings.TrimSpace(username)

	canonical, role, ok := s.verify(username, password)
	s.metrics.RecordLogin(ok)
	s.audit.RecordAuth(ctx, "login", username, ok, nil)
	if !ok {
		s.logger.Warn().Str("username", username).Msg("Login failed")
		return session.Session{}, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(canonical, role)
	if err != nil {
		return session.Session{}, err
	}

	if canonical != s.admin.Username {
		if err := s.users.TouchLogin(canonical, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("username", canonical).Msg("Failed to record last login")
		}
	}

	s.logger.Info().Str("username", canonical).Str("role", role).Msg("Login succeeded")
	return sess, nil
}

// verify returns the canonical username and role for valid credentials
func (s *Service) verify(username, password string) (string, string, bool) {
	if username == "" || password == "" {
		burnPasswordCheck(password)
		return "", "", false
	}

	if s.admin.Password != "" && constantTimeEqual(username, s.admin.Username) {
		if constantTimeEqual(password, s.admin.Password) {
			return s.admin.Username, RoleAdmin, true
		}
		burnPasswordCheck(password)
		return "", "", false
	}

	user, found := s.users.Find(username)
	if !found {
		burnPasswordCheck(password)
		return "", "", false
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return "", "", false
	}

	role := user.Role
	if role == "" {
		role = RoleUser
	}
	return user.Username, role, true
}

// Check validates token and slides its expiry
func (s *Service) Check(token string) (session.Session, bool) {
	return s.sessions.Check(token)
}

// Logout revokes token
func (s *Service) Logout(ctx context.Context, token string) bool {
	sess, ok := s.sessions.Check(token)
	removed := s.sessions.Delete(token)
	if ok {
		s.audit.RecordAuth(ctx, "logout", sess.User, true, nil)
	}
	return removed
}

// Register creates a user. Only admins may register users.
func (s *Service) Register(ctx context.Context, actor session.Session, username, password, role string) (User, error) {
	if actor.Role != RoleAdmin {
		s.audit.RecordAuth(ctx, "register", actor.User, false, map[string]any{"target": username, "reason": "forbidden"})
		return User{}, ErrForbidden
	}

	user, err := s.CreateUser(username, password, role)
	s.audit.RecordAuth(ctx, "register", actor.User, err == nil, map[string]any{"target": username})
	return user, err
}

// CreateUser validates input, hashes the password and persists the user.
// It performs no authorisation check; Register is the HTTP-facing entry point.
func (s *Service) CreateUser(username, password, role string) (User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return User{}, fmt.Errorf("%w: username must be 3-32 letters, digits, '_' or '-'", ErrInvalidUser)
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, minPasswordLength)
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleAdmin && role != RoleUser {
		return User{}, fmt.Errorf("%w: role must be %q or %q", ErrInvalidUser, RoleAdmin, RoleUser)
	}
	if reservedUsernames[strings.ToLower(username)] {
		return User{}, fmt.Errorf("%w: username %q is reserved", ErrInvalidUser, username)
	}
	if s.admin.Username != "" && jsonstore.SanitizeID(username) == jsonstore.SanitizeID(s.admin.Username) {
		return User{}, ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Add(user); err != nil {
		return User{}, err
	}

	s.logger.Info().Str("username", username).Str("role", role).Msg("User registered")
	return user, nil
}

// Users returns the user store
func (s *Service) Users() *UserStore {
	return s.users
}
