// Package backup writes encrypted snapshots of the dashboard's JSON data files.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/observability"
	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/rs/zerolog"
)

const (
	DefaultRetention = 30

	filePrefix = "mc-backup-"
	fileSuffix = ".enc"
)

var dataFilePattern = regexp.MustCompile(`^mc-[A-Za-z0-9_.-]+\.json$`)

// Payload is the plaintext sealed inside a backup
type Payload struct {
	Timestamp time.Time                  `json:"timestamp"`
	Files     map[string]json.RawMessage `json:"files"`
}

// Result describes a written backup
type Result struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	FileCount int    `json:"fileCount"`
}

// Info describes a backup on disk
type Info struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// Mirror copies finished backups offsite
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// Options configures a Job
type Options struct {
	DataDir   string
	BackupDir string // defaults to DataDir/backups
	Key       string
	Retention int
	KDF       KDFParams
	Mirror    Mirror
	Metrics   *metrics.Metrics
	Audit     *observability.AuditLogger
}

// Job snapshots the data directory
type Job struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewJob creates a backup job
func NewJob(opts Options, logger zerolog.Logger) *Job {
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(opts.DataDir, "backups")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.KDF == (KDFParams{}) {
		opts.KDF = DefaultKDFParams()
	}
	return &Job{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "backup").Logger(),
	}
}

// Configured reports whether a backup key is set
func (j *Job) Configured() bool {
	return j.opts.Key != ""
}

// Dir returns the backup directory
func (j *Job) Dir() string {
	return j.opts.BackupDir
}

// Run encrypts every mc-*.json data file into one backup, then prunes old backups.
// Mirror failures are logged and do not fail the run.
func (j *Job) Run(ctx context.Context) (res Result, err error) {
	logger := tracing.LoggerFromContext(ctx, j.logger)
	defer func() {
		j.opts.Metrics.RecordBackup(res.Size, err)
		j.opts.Audit.RecordBackup(ctx, actor(ctx), err == nil, map[string]any{
			"filename":  res.Filename,
			"size":      res.Size,
			"fileCount": res.FileCount,
		})
	}()

	if j.opts.Key == "" {
		return Result{}, ErrNoBackupKey
	}

	now := j.now()
	payload, err := j.collect(now)
	if err != nil {
		return Result{}, err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal backup payload: %w", err)
	}

	sealed, err := Encrypt(plaintext, j.opts.Key, j.opts.KDF)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(j.opts.BackupDir, 0700); err != nil {
		return Result{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := Filename(now)
	if err := jsonstore.WriteBytes(filepath.Join(j.opts.BackupDir, name), sealed, 0600); err != nil {
		return Result{}, err
	}

	res = Result{Filename: name, Size: int64(len(sealed)), FileCount: len(payload.Files)}
	logger.Info().Str("filename", name).Int64("size", res.Size).Int("files", res.FileCount).Msg("Backup written")

	if removed, err := j.Prune(); err != nil {
		logger.Warn().Err(err).Msg("Failed to prune old backups")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Pruned old backups")
	}

	if j.opts.Mirror != nil {
		if err := j.opts.Mirror.Upload(ctx, name, sealed); err != nil {
			logger.Warn().Err(err).Str("filename", name).Msg("Failed to mirror backup offsite")
		}
	}

	return res, nil
}

func (j *Job) collect(now time.Time) (Payload, error) {
	payload := Payload{Timestamp: now.UTC(), Files: map[string]json.RawMessage{}}

	entries, err := os.ReadDir(j.opts.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return payload, nil
		}
		return Payload{}, fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !dataFilePattern.MatchString(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(j.opts.DataDir, e.Name()))
		if err != nil {
			return Payload{}, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		if !json.Valid(data) {
			j.logger.Warn().Str("file", e.Name()).Msg("Skipping data file with invalid JSON")
			continue
		}
		payload.Files[e.Name()] = json.RawMessage(data)
	}
	return payload, nil
}

// Prune keeps the newest Retention backups. Names sort chronologically.
func (j *Job) Prune() (int, error) {
	names, err := j.names()
	if err != nil {
		return 0, err
	}
	if len(names) <= j.opts.Retention {
		return 0, nil
	}

	stale := names[:len(names)-j.opts.Retention]
	removed := 0
	var errs []error
	for _, name := range stale {
		if err := os.Remove(filepath.Join(j.opts.BackupDir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// List returns backups oldest first
func (j *Job) List() ([]Info, error) {
	names, err := j.names()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		fi, err := os.Stat(filepath.Join(j.opts.BackupDir, name))
		if err != nil {
			continue
		}
		infos = append(infos, Info{Filename: name, Size: fi.Size(), Created: fi.ModTime()})
	}
	return infos, nil
}

func (j *Job) names() ([]string, error) {
	entries, err := os.ReadDir(j.opts.BackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Restore decrypts a backup and writes its data files into dir.
// Existing files with the same names are replaced.
func Restore(data []byte, key, dir string) (Payload, error) {
	plaintext, err := Decrypt(data, key)
	if err != nil {
		return Payload{}, err
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, fmt.Errorf("failed to parse backup payload: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Payload{}, fmt.Errorf("failed to create restore directory: %w", err)
	}
	for name, content := range payload.Files {
		if !dataFilePattern.MatchString(name) {
			return Payload{}, fmt.Errorf("backup contains invalid file name %q", name)
		}
		if err := jsonstore.WriteBytes(filepath.Join(dir, name), content, 0644); err != nil {
			return Payload{}, err
		}
	}
	return payload, nil
}

// Filename returns the backup file name for t: mc-backup-YYYY-MM-DD-<epochMillis>.enc
func Filename(t time.Time) string {
	return fmt.Sprintf("%s%s-%d%s", filePrefix, t.Format("2006-01-02"), t.UnixMilli(), fileSuffix)
}

func actor(ctx context.Context) string {
	if user := tracing.GetUser(ctx); user != "" {
		return user
	}
	if job := tracing.GetJob(ctx); job != "" {
		return "scheduler:" + job
	}
	return "system"
}
