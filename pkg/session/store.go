// Package session holds authenticated browser sessions in memory.
//
// A session is keyed by an opaque 64-hex token and carries a sliding expiry:
// every successful Check pushes the expiry TTL into the future. Sessions are
// lost on restart.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// tokenBytes is the entropy of a session token (64 hex characters)
const tokenBytes = 32

// Session is one authenticated login
type Session struct {
	Token        string    `json:"-"`
	User         string    `json:"user"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithActiveObserver is called with the live session count after every change
func WithActiveObserver(fn func(active int)) Option {
	return func(s *Store) {
		s.observe = fn
	}
}

// Store is a concurrency-safe token map with sliding TTL
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	observe  func(int)
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates an empty store whose sessions live ttl past their last use
func NewStore(ttl time.Duration, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the sliding lifetime
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create mints a new session for user
func (s *Store) Create(user, role string) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	sess := &Session{
		Token:        token,
		User:         user,
		Role:         role,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[token] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	s.notify(active)
	s.logger.Debug().Str("user", user).Time("expires_at", sess.ExpiresAt).Msg("Session created")

	return *sess, nil
}

// Check reports whether token names a live session and, if so, slides its expiry.
// An expired session is removed on sight.
func (s *Store) Check(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	now := s.now()

	s.mu.Lock()
	sess, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		active := len(s.sessions)
		s.mu.Unlock()
		s.notify(active)
		return Session{}, false
	}
	sess.LastActiveAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	out := *sess
	s.mu.Unlock()

	return out, true
}

// Delete revokes token immediately. It reports whether a session was removed.
func (s *Store) Delete(token string) bool {
	s.mu.Lock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	active := len(s.sessions)
	s.mu.Unlock()

	if ok {
		s.notify(active)
	}
	return ok
}

// DeleteUser revokes every session belonging to user
func (s *Store) DeleteUser(user string) int {
	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if sess.User == user {
			delete(s.sessions, token)
			removed++
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.notify(active)
	}
	return removed
}

// Count returns the number of stored sessions, expired ones not yet swept included
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Cleanup removes expired sessions and returns how many were dropped
func (s *Store) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.notify(active)
		s.logger.Debug().Int("removed", removed).Int("active", active).Msg("Expired sessions swept")
	}
	return removed
}

// StartCleanupRoutine sweeps expired sessions every interval until Close
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Close stops the cleanup routine and waits for it to exit
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func (s *Store) notify(active int) {
	if s.observe != nil {
		s.observe(active)
	}
}

// NewToken returns 32 random bytes hex encoded
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
