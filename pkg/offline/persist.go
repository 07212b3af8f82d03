package offline

import (
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/rs/zerolog"
)

// Load reads a storage snapshot from path. A missing or corrupt file yields empty storage.
func Load(path string, logger zerolog.Logger) *Storage {
	snap := map[string][]*Entry{}
	_ = jsonstore.ReadFile(path, map[string][]*Entry{}, &snap, logger)

	s := NewStorage()
	s.Restore(snap)
	return s
}

// Save writes a storage snapshot to path atomically
func Save(path string, s *Storage) error {
	return jsonstore.WriteFile(path, s.Snapshot())
}
