package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is a worker lifecycle state
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting to activate
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// HeaderCache marks responses served from cache
const HeaderCache = "X-Offline-Cache"

var ErrInvalidState = errors.New("invalid worker state")

// Worker applies one cache policy version
type Worker struct {
	policy         Policy
	origin         *url.URL
	storage        *Storage
	transport      http.RoundTripper
	refreshTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger

	mu        sync.Mutex
	state     State
	activated bool // once set, the worker keeps serving fetches it is handed
	wg        sync.WaitGroup
}

// NewWorker creates a worker for origin (scheme://host) using transport for the network
func NewWorker(policy Policy, origin string, storage *Storage, transport http.RoundTripper, logger zerolog.Logger) (*Worker, error) {
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}
	if storage == nil {
		storage = NewStorage()
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	policy = policy.withDefaults()

	return &Worker{
		policy:         policy,
		origin:         &url.URL{Scheme: o.Scheme, Host: o.Host},
		storage:        storage,
		transport:      transport,
		refreshTimeout: 15 * time.Second,
		now:            time.Now,
		logger:         logger.With().Str("component", "offline").Str("version", policy.Version).Logger(),
		state:          StateNew,
	}, nil
}

// Version returns the cache version this worker owns
func (w *Worker) Version() string {
	return w.policy.Version
}

// Policy returns the worker's policy
func (w *Worker) Policy() Policy {
	return w.policy
}

// State returns the lifecycle state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install pre-populates the versioned cache with every static resource.
// Any failure leaves the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateNew {
		w.mu.Unlock()
		return fmt.Errorf("%w: install from %s", ErrInvalidState, w.state)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	w.logger.Info().Msg("Installing")

	cache := w.storage.Open(w.policy.Version)
	for _, u := range w.policy.StaticURLs(w.origin) {
		entry, err := w.fetchEntry(ctx, u)
		if err != nil {
			w.setState(StateRedundant)
			w.storage.Delete(w.policy.Version)
			return fmt.Errorf("failed to cache %s: %w", u, err)
		}
		cache.Put(entry)
	}

	w.setState(StateInstalled)
	w.logger.Info().Int("resources", len(w.policy.StaticResources)).Msg("Installation complete")
	return nil
}

// Activate deletes every other cache and takes over fetches. It returns the deleted cache names.
func (w *Worker) Activate() ([]string, error) {
	w.mu.Lock()
	if w.state != StateInstalled {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: activate from %s", ErrInvalidState, w.state)
	}
	w.mu.Unlock()

	var deleted []string
	for _, name := range w.storage.Names() {
		if name != w.policy.Version {
			w.storage.Delete(name)
			deleted = append(deleted, name)
			w.logger.Info().Str("cache", name).Msg("Deleted old cache")
		}
	}

	w.mu.Lock()
	w.state = StateActive
	w.activated = true
	w.mu.Unlock()
	w.logger.Info().Msg("Activation complete")
	return deleted, nil
}

// RoundTrip makes a Worker usable as an http.Client transport
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Fetch(req)
}

// controlling reports whether the worker has ever activated
func (w *Worker) controlling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activated
}

// Fetch answers req according to the policy.
// A worker that never activated does not control fetches, so they go to the
// network untouched, as do non-GET and foreign-origin requests (other than font hosts).
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	if !w.controlling() || req.Method != http.MethodGet {
		return w.transport.RoundTrip(req)
	}
	same := sameOrigin(req.URL, w.origin)
	if !same && !w.policy.IsFontHost(req.URL.Hostname()) {
		return w.transport.RoundTrip(req)
	}

	var resp *http.Response
	var err error
	switch {
	case same && w.policy.IsAPI(req.URL.Path):
		resp, err = w.networkFirst(req)
	case w.policy.IsStatic(req.URL, w.origin):
		resp, err = w.cacheFirst(req)
	default:
		resp, err = w.networkFirst(req)
	}
	if err == nil {
		return resp, nil
	}

	w.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Fetch failed")
	if isNavigation(req) {
		return offlinePage(req), nil
	}
	return offlineResponse(req), nil
}

// networkFirst tries the network, caching successes, and falls back to the cached copy
func (w *Worker) networkFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	cache := w.storage.Open(w.policy.Version)

	resp, err := w.transport.RoundTrip(req)
	if err == nil {
		return w.store(cache, key, req, resp)
	}

	if entry, ok := cache.Match(key); ok {
		r := entry.Response(req)
		r.Header.Set(HeaderCache, "fallback")
		return r, nil
	}
	return nil, err
}

// cacheFirst serves the cached copy and refreshes it in the background
func (w *Worker) cacheFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	cache := w.storage.Open(w.policy.Version)

	if entry, ok := cache.Match(key); ok {
		w.refresh(req, cache, key)
		r := entry.Response(req)
		r.Header.Set(HeaderCache, "hit")
		return r, nil
	}

	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return w.store(cache, key, req, resp)
}

// refresh re-fetches key without blocking the caller
func (w *Worker) refresh(req *http.Request, cache *Cache, key string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), w.refreshTimeout)
		defer cancel()

		entry, err := w.fetchEntry(ctx, key)
		if err != nil {
			w.logger.Debug().Err(err).Str("url", key).Msg("Background refresh failed")
			return
		}
		cache.Put(entry)
	}()
}

// Wait blocks until background refreshes finish
func (w *Worker) Wait() {
	w.wg.Wait()
}

// UpdateCache re-fetches urls, or every static resource when urls is empty.
// It returns how many entries were updated.
func (w *Worker) UpdateCache(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		urls = w.policy.StaticURLs(w.origin)
	}
	cache := w.storage.Open(w.policy.Version)

	updated := 0
	var errs []error
	for _, raw := range urls {
		u := resolve(w.origin, raw)
		entry, err := w.fetchEntry(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		cache.Put(entry)
		updated++
	}
	w.logger.Info().Int("updated", updated).Int("failed", len(errs)).Msg("Cache updated")
	return updated, errors.Join(errs...)
}

// fetchEntry GETs u and returns it as a cache entry. Non-2xx answers are errors.
func (w *Worker) fetchEntry(ctx context.Context, u string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Entry{URL: u, StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body, Stored: w.now()}, nil
}

// store caches a successful response and hands back an equivalent unread one
func (w *Worker) store(cache *Cache, key string, req *http.Request, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	cache.Put(&Entry{URL: key, StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body, Stored: w.now()})

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func offlinePage(req *http.Request) *http.Response {
	body := []byte(OfflineHTML)
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/html"}, HeaderCache: {"offline"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func offlineResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:     "408 Offline",
		StatusCode: http.StatusRequestTimeout,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{HeaderCache: {"offline"}},
		Body:       http.NoBody,
		Request:    req,
	}
}
