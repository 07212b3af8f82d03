package offline

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Entry is a stored response
type Entry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	Stored     time.Time   `json:"stored"`
}

// Response rebuilds an *http.Response for req
func (e *Entry) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Cache is one named cache
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Match returns the entry stored for url
func (c *Cache) Match(url string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

// Put stores an entry, replacing any previous one for the same URL
func (c *Cache) Put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.URL] = e
}

// Keys returns the stored URLs, sorted
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Storage holds named caches
type Storage struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

// NewStorage creates empty cache storage
func NewStorage() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it when absent
func (s *Storage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = newCache()
		s.caches[name] = c
	}
	return c
}

// Has reports whether the named cache exists
func (s *Storage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok
}

// Delete removes the named cache
func (s *Storage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok
}

// Names returns cache names, sorted
func (s *Storage) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every cache for persistence
func (s *Storage) Snapshot() map[string][]*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]*Entry, len(s.caches))
	for name, c := range s.caches {
		c.mu.RLock()
		entries := make([]*Entry, 0, len(c.entries))
		for _, e := range c.entries {
			entries = append(entries, e)
		}
		c.mu.RUnlock()
		sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
		out[name] = entries
	}
	return out
}

// Restore replaces the storage contents with a snapshot
func (s *Storage) Restore(snap map[string][]*Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches = make(map[string]*Cache, len(snap))
	for name, entries := range snap {
		c := newCache()
		for _, e := range entries {
			if e != nil && e.URL != "" {
				c.entries[e.URL] = e
			}
		}
		s.caches[name] = c
	}
}
