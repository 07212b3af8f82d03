package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registration tracks the active and waiting workers for one origin
type Registration struct {
	storage   *Storage
	transport http.RoundTripper
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	active   *Worker
	waiting  *Worker
	queue    []QueuedRequest
	onNotify NotificationHandler
}

// NewRegistration creates an empty registration
func NewRegistration(storage *Storage, transport http.RoundTripper, logger zerolog.Logger) *Registration {
	if storage == nil {
		storage = NewStorage()
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Registration{
		storage:   storage,
		transport: transport,
		now:       time.Now,
		logger:    logger.With().Str("component", "offline").Logger(),
	}
}

// Storage returns the shared cache storage
func (r *Registration) Storage() *Storage {
	return r.storage
}

// Register installs w. The first worker activates at once; later ones wait
// until SkipWaiting, replacing any worker already waiting.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	if err := w.Install(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		if _, err := w.Activate(); err != nil {
			return err
		}
		r.active = w
		return nil
	}

	if r.waiting != nil {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	r.logger.Info().Str("version", w.Version()).Msg("New version waiting")
	return nil
}

// Updating reports whether a newer version is installed and waiting
func (r *Registration) Updating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting != nil
}

// Active returns the controlling worker, nil before the first activation
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SkipWaiting activates the waiting worker now. Fetches already running
// finish on the worker they started on.
func (r *Registration) SkipWaiting() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == nil {
		return nil
	}
	if _, err := r.waiting.Activate(); err != nil {
		return err
	}
	if r.active != nil {
		r.active.setState(StateRedundant)
	}
	r.active = r.waiting
	r.waiting = nil
	r.logger.Info().Str("version", r.active.Version()).Msg("Skipped waiting")
	return nil
}

// RoundTrip routes through the active worker, or the network when none is active
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := r.Active(); w != nil {
		return w.Fetch(req)
	}
	return r.transport.RoundTrip(req)
}

// HandleMessage answers a client message
func (r *Registration) HandleMessage(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case MessageSkipWaiting:
		return nil, r.SkipWaiting()
	case MessageGetVersion:
		w := r.Active()
		if w == nil {
			return VersionReply{}, nil
		}
		return VersionReply{Version: w.Version()}, nil
	case MessageCacheUpdate:
		w := r.Active()
		if w == nil {
			return CacheUpdateReply{}, fmt.Errorf("%w: no active worker", ErrInvalidState)
		}
		n, err := w.UpdateCache(ctx, msg.URLs)
		return CacheUpdateReply{Updated: n}, err
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// OnNotification sets the push notification handler
func (r *Registration) OnNotification(h NotificationHandler) {
	r.mu.Lock()
	r.onNotify = h
	r.mu.Unlock()
}

// Push turns a push payload into a notification and hands it to the handler
func (r *Registration) Push(payload []byte) Notification {
	n := BuildNotification(payload, r.now())

	r.mu.Lock()
	h := r.onNotify
	r.mu.Unlock()

	if h != nil {
		h(n)
	}
	return n
}

// Enqueue stores a non-GET request for replay on the next background sync
func (r *Registration) Enqueue(req *http.Request) error {
	if req.Method == http.MethodGet {
		return fmt.Errorf("only non-GET requests are queued")
	}
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		body = b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, QueuedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
		Queued: r.now(),
	})
	return nil
}

// Pending returns how many requests wait for sync
func (r *Registration) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Sync replays queued requests for the background-sync tag.
// Requests that fail at the network stay queued; any HTTP answer counts as delivered.
func (r *Registration) Sync(ctx context.Context, tag string) (SyncResult, error) {
	if tag != SyncTag {
		return SyncResult{}, fmt.Errorf("unknown sync tag %q", tag)
	}

	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	var res SyncResult
	var failed []QueuedRequest
	for _, q := range queue {
		if err := r.replay(ctx, q); err != nil {
			r.logger.Warn().Err(err).Str("method", q.Method).Str("url", q.URL).Msg("Sync failed for request")
			failed = append(failed, q)
			continue
		}
		res.Replayed++
	}
	res.Failed = len(failed)

	if len(failed) > 0 {
		r.mu.Lock()
		r.queue = append(failed, r.queue...)
		r.mu.Unlock()
	}

	r.logger.Info().Int("replayed", res.Replayed).Int("failed", res.Failed).Msg("Background sync complete")
	return res, nil
}

func (r *Registration) replay(ctx context.Context, q QueuedRequest) error {
	req, err := http.NewRequestWithContext(ctx, q.Method, q.URL, bytes.NewReader(q.Body))
	if err != nil {
		return err
	}
	req.Header = q.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := r.transport.RoundTrip(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
