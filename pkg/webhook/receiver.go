// Package webhook receives GitHub, Stripe and generic deliveries and records them
// in the global activity feed.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/rs/zerolog"
)

const (
	defaultMaxBody      = 1 << 20
	defaultAlertTimeout = 15 * time.Second
)

// ActivityRecorder stores accepted deliveries
type ActivityRecorder interface {
	AppendGlobal(source, description, typ string, metadata map[string]any) (activity.Entry, error)
}

// Notifier delivers alert text, typically to Telegram
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Options configures a Receiver
type Options struct {
	GitHubSecret       string
	StripeSecret       string
	StripeTolerance    time.Duration
	RateLimitPerMinute int
	MaxBodyBytes       int64
	AlertEvents        []string // event types or sources to alert on, "*" for all
	TrustedProxies     []string // CIDRs or IPs whose forwarding headers are honoured
	Metrics            *metrics.Metrics
}

// Receiver handles POST /mc/webhook
type Receiver struct {
	options     Options
	activity    ActivityRecorder
	notifier    Notifier
	rateLimiter *RateLimiter
	proxies     TrustedProxies
	stats       *StatsTracker
	alerts      map[string]bool
	now         func() time.Time
	logger      zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// NewReceiver creates a receiver. notifier may be nil.
func NewReceiver(options Options, recorder ActivityRecorder, notifier Notifier, logger zerolog.Logger) (*Receiver, error) {
	if recorder == nil {
		return nil, fmt.Errorf("activity recorder is required")
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 60
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = defaultMaxBody
	}
	if options.StripeTolerance == 0 {
		options.StripeTolerance = DefaultStripeTolerance
	}

	proxies, err := ParseTrustedProxies(options.TrustedProxies)
	if err != nil {
		return nil, err
	}

	alerts := make(map[string]bool, len(options.AlertEvents))
	for _, e := range options.AlertEvents {
		alerts[strings.TrimSpace(e)] = true
	}

	return &Receiver{
		options:     options,
		activity:    recorder,
		notifier:    notifier,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		proxies:     proxies,
		stats:       NewStatsTracker(),
		alerts:      alerts,
		now:         time.Now,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}, nil
}

// ServeHTTP handles one delivery
func (rv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := rv.now()

	rv.shutdownMu.RLock()
	if rv.isShuttingDown {
		rv.shutdownMu.RUnlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Server is shutting down"})
		return
	}
	rv.inFlight.Add(1)
	rv.shutdownMu.RUnlock()
	defer rv.inFlight.Done()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	ip := rv.proxies.ClientIP(r)
	if !rv.rateLimiter.Allow(ip) {
		retryAfter := rv.rateLimiter.RetryAfter(ip)
		rv.logger.Warn().Str("ip", ip).Int("retryAfter", retryAfter).Msg("Rate limit exceeded")
		rv.options.Metrics.RecordWebhook("unknown", "rate_limited")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		return
	}

	source := Classify(r.Header)

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rv.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rv.finish(source, start, "too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		rv.logger.Error().Err(err).Str("source", string(source)).Msg("Failed to read request body")
		rv.finish(source, start, "bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}

	if err := rv.verify(source, r.Header, rawBody); err != nil {
		rv.logger.Warn().Err(err).Str("source", string(source)).Str("ip", ip).Msg("Webhook signature rejected")
		rv.finish(source, start, "unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}

	event := Describe(source, r.Header, rawBody)
	event.ReceivedAt = start

	entry, err := rv.activity.AppendGlobal(string(source), event.Description, "webhook", withEventType(event))
	if err != nil {
		rv.logger.Error().Err(err).Str("source", string(source)).Msg("Failed to record webhook")
		rv.finish(source, start, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record webhook"})
		return
	}

	rv.finish(source, start, "ok")
	rv.logger.Info().
		Str("source", string(source)).
		Str("type", event.Type).
		Str("id", entry.ID).
		Str("ip", ip).
		Dur("duration", rv.now().Sub(start)).
		Msg("Webhook received")

	writeJSON(w, http.StatusOK, Response{Received: true, Source: source, ID: entry.ID})

	if rv.shouldAlert(event) {
		rv.inFlight.Add(1)
		go rv.sendAlert(event)
	}
}

func (rv *Receiver) verify(source Source, h http.Header, body []byte) error {
	switch source {
	case SourceGitHub:
		if rv.options.GitHubSecret != "" {
			return VerifyGitHub(body, h.Get("X-Hub-Signature-256"), rv.options.GitHubSecret)
		}
	case SourceStripe:
		if rv.options.StripeSecret != "" {
			return VerifyStripe(body, h.Get("Stripe-Signature"), rv.options.StripeSecret, rv.now(), rv.options.StripeTolerance)
		}
	}
	return nil
}

func (rv *Receiver) finish(source Source, start time.Time, status string) {
	rv.stats.Track(source, status == "ok", float64(rv.now().Sub(start).Milliseconds()))
	rv.options.Metrics.RecordWebhook(string(source), status)
}

func (rv *Receiver) shouldAlert(ev Event) bool {
	if rv.notifier == nil || len(rv.alerts) == 0 {
		return false
	}
	return rv.alerts["*"] || rv.alerts[ev.Type] || rv.alerts[string(ev.Source)]
}

func (rv *Receiver) sendAlert(ev Event) {
	defer rv.inFlight.Done()
	defer func() {
		if r := recover(); r != nil {
			rv.logger.Error().Interface("panic", r).Msg("Panic in webhook alert")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), defaultAlertTimeout)
	defer cancel()

	text := fmt.Sprintf("Webhook (%s): %s", ev.Source, ev.Description)
	if err := rv.notifier.Send(ctx, text); err != nil {
		rv.logger.Warn().Err(err).Str("type", ev.Type).Msg("Failed to send webhook alert")
	}
}

// Stats returns per-source delivery statistics
func (rv *Receiver) Stats() []SourceStats {
	return rv.stats.All()
}

// Stop rejects new deliveries and waits for in-flight requests and alerts
func (rv *Receiver) Stop(ctx context.Context) error {
	rv.shutdownMu.Lock()
	rv.isShuttingDown = true
	rv.shutdownMu.Unlock()

	rv.rateLimiter.Stop()

	done := make(chan struct{})
	go func() {
		rv.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		rv.logger.Warn().Msg("Webhook shutdown timeout reached")
		return ctx.Err()
	}
}

func withEventType(ev Event) map[string]any {
	meta := make(map[string]any, len(ev.Metadata)+1)
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	meta["eventType"] = ev.Type
	return meta
}

// TrustedProxies lists the peers allowed to set X-Forwarded-For and X-Real-IP
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts CIDRs and bare IPs
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (tp TrustedProxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range tp {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address used as the rate-limit key. Forwarding
// headers count only when the direct peer is a trusted proxy; the
// X-Forwarded-For chain is walked from the right, skipping trusted hops.
func (tp TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !tp.trusts(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !tp.trusts(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
