package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/session"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Authorization, Content-Type, X-MC-Token"

	loginPage = "/login.html"
)

// statusRecorder captures the response status for logs and metrics
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.status = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// Flush lets streamed proxy responses through
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// middleware wraps the router, outermost first: recover, drain, observe, cors
func (s *Server) middleware(next http.Handler) http.Handler {
	return s.recoverer(s.drain(s.observe(s.cors(next))))
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := tracing.LoggerFromContext(r.Context(), s.logger)
				logger.Error().
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// drain tracks in-flight requests and refuses new ones once Stop began
func (s *Server) drain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shuttingDown() {
			w.Header().Set("Connection", "close")
			writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()
		next.ServeHTTP(w, r)
	})
}

// observe attaches a trace id, logs the request and records metrics
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := tracing.FromRequest(r)
		w.Header().Set(tracing.HeaderTraceID, tracing.GetTraceID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		s.cfg.Metrics.ObserveHTTP(route, r.Method, rec.status, elapsed)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		event := logger.Debug()
		switch {
		case rec.status >= 500:
			event = logger.Error()
		case rec.status >= 400:
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})
}

// cors allows any origin. Preflights end here with 204, except on the VPS
// forwarders which answer OPTIONS themselves.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)

		if r.Method == http.MethodOptions && !strings.HasPrefix(r.URL.Path, "/api/") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// protect rejects requests without a live session. Browsers asking for HTML
// are sent to the login page; everything else gets 401.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.cfg.Auth.Check(tokenFromRequest(r))
		if !ok {
			if strings.Contains(r.Header.Get("Accept"), "text/html") {
				http.Redirect(w, r, loginPage, http.StatusFound)
				return
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		ctx = tracing.WithUser(ctx, sess.User)
		next(w, r.WithContext(ctx))
	}
}

// tokenFromRequest reads the session token from the bearer header,
// the X-MC-Token header or the token query parameter, in that order
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.Header.Get("X-MC-Token"); token != "" {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// sessionFrom returns the session attached by protect
func sessionFrom(ctx context.Context) session.Session {
	sess, _ := ctx.Value(sessionKey).(session.Session)
	return sess
}
