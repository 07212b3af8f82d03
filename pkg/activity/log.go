// Package activity keeps the bounded, newest-first activity feeds.
//
// Each user has a feed capped at UserCap entries; webhook deliveries go to the
// global feed capped at GlobalCap. An append rewrites the whole file. Appends
// to the same feed are not serialised: two concurrent appends may each read
// the old feed and the later write wins, dropping the other entry.
package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/jsonstore"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	// UserCap bounds a per-user feed
	UserCap = 500
	// GlobalCap bounds the global webhook feed
	GlobalCap = 1000
	// ListLimit is the window returned by List
	ListLimit = 50
	// GlobalScope names the global feed
	GlobalScope = "global"
	// DefaultType is used when an entry has no type
	DefaultType = "user"
)

// ErrDescriptionRequired is returned when appending an entry without a description
var ErrDescriptionRequired = errors.New("description is required")

// Entry is one activity record
type Entry struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   time.Time      `json:"timestamp"`
	User        string         `json:"user,omitempty"`
}

// Log reads and appends activity feeds through the JSON store
type Log struct {
	store   *jsonstore.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLog creates an activity log
func NewLog(store *jsonstore.Store, m *metrics.Metrics, logger zerolog.Logger) *Log {
	return &Log{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "activity").Logger(),
		now:     time.Now,
	}
}

// Append prepends an entry to user's feed
func (l *Log) Append(user, description, typ string, metadata map[string]any) (Entry, error) {
	return l.append(jsonstore.UserFile("activity", user), UserCap, user, description, typ, metadata)
}

// AppendGlobal prepends an entry to the global feed
func (l *Log) AppendGlobal(source, description, typ string, metadata map[string]any) (Entry, error) {
	return l.append(jsonstore.UserFile("activity", GlobalScope), GlobalCap, source, description, typ, metadata)
}

func (l *Log) append(file string, limit int, user, description, typ string, metadata map[string]any) (Entry, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Entry{}, ErrDescriptionRequired
	}
	if typ == "" {
		typ = DefaultType
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	id, err := gonanoid.New()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate activity id: %w", err)
	}

	entry := Entry{
		ID:          id,
		Description: description,
		Type:        typ,
		Metadata:    metadata,
		Timestamp:   l.now().UTC(),
		User:        user,
	}

	entries := l.read(file)
	entries = append([]Entry{entry}, entries...)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	if err := l.store.Write(file, entries); err != nil {
		l.logger.Error().Err(err).Str("file", file).Msg("Failed to write activity")
		return Entry{}, err
	}

	scope := "user"
	if limit == GlobalCap {
		scope = GlobalScope
	}
	l.metrics.RecordActivity(scope)

	return entry, nil
}

// List returns up to ListLimit of user's most recent entries
func (l *Log) List(user string) []Entry {
	return window(l.read(jsonstore.UserFile("activity", user)))
}

// ListGlobal returns up to ListLimit of the most recent global entries
func (l *Log) ListGlobal() []Entry {
	return window(l.read(jsonstore.UserFile("activity", GlobalScope)))
}

// Since returns every entry in user's feed (or the global feed when user is GlobalScope)
// whose timestamp is not before t
func (l *Log) Since(user string, t time.Time) []Entry {
	var out []Entry
	for _, e := range l.read(jsonstore.UserFile("activity", user)) {
		if e.Timestamp.Before(t) {
			// feeds are newest first
			break
		}
		out = append(out, e)
	}
	return out
}

func (l *Log) read(file string) []Entry {
	var entries []Entry
	_ = l.store.Read(file, []Entry{}, &entries)
	return entries
}

func window(entries []Entry) []Entry {
	if len(entries) > ListLimit {
		return entries[:ListLimit]
	}
	return entries
}
