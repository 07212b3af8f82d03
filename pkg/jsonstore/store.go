// Package jsonstore reads and writes the flat JSON documents Mission Control keeps on disk.
//
// Reads never fail because of a missing or corrupt file: the caller's default is
// returned (and written, for missing files). Writes go to a temp file in the same
// directory and are renamed into place, so a crash never leaves a half-written
// document. Concurrent writers to the same file are not coordinated; the last
// rename wins.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// ErrStorage marks file system failures surfaced by Write
var ErrStorage = errors.New("storage error")

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Store is rooted at a data directory
type Store struct {
	dir    string
	logger zerolog.Logger
}

// New creates a store rooted at dir
func New(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "jsonstore").Logger(),
	}
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of a document name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Read decodes the named document into out, falling back to def
func (s *Store) Read(name string, def, out any) error {
	return ReadFile(s.Path(name), def, out, s.logger)
}

// Write replaces the named document with value
func (s *Store) Write(name string, value any) error {
	return WriteFile(s.Path(name), value)
}

// ReadFile decodes path into out. A missing file is created holding def.
// An unreadable or unparsable file is logged and def is decoded into out instead.
// The returned error is only non-nil when def itself cannot be encoded.
func ReadFile(path string, def, out any, logger zerolog.Logger) error {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if werr := WriteFile(path, def); werr != nil {
			logger.Warn().Err(werr).Str("path", path).Msg("Failed to create file with default")
		}
		return decodeDefault(def, out)
	case err != nil:
		logger.Error().Err(err).Str("path", path).Msg("Failed to read file, using default")
		return decodeDefault(def, out)
	}

	if err := json.Unmarshal(data, out); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to parse file, using default")
		return decodeDefault(def, out)
	}

	return nil
}

// WriteFile atomically replaces path with value encoded as indented JSON
func WriteFile(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteBytes(path, data, 0644)
}

// WriteBytes atomically replaces path with data
func WriteBytes(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync temp file: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %v", ErrStorage, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("%w: failed to chmod temp file: %v", ErrStorage, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorage, err)
	}

	return nil
}

// UserFile returns the per-user document name for kind, e.g. mc-data-tolga.json
func UserFile(kind, user string) string {
	return fmt.Sprintf("mc-%s-%s.json", kind, SanitizeID(user))
}

// SanitizeID lowercases id and replaces anything outside [a-z0-9_-] so it is safe in a file name
func SanitizeID(id string) string {
	id = unsafeIDChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(id)), "_")
	if id == "" || id == "_" {
		return "anonymous"
	}
	return id
}

func decodeDefault(def, out any) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal default: %w", err)
	}
	return json.Unmarshal(data, out)
}
