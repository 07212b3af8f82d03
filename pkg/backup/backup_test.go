package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/harun/mission-control/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) Upload(ctx context.Context, name string, data []byte) error {
	args := m.Called(ctx, name, data)
	return args.Error(0)
}

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3aws.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func seedData(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"mc-data-tolga.json":      `{"tasks":[1,2]}`,
		"mc-activity-global.json": `[]`,
		"mc-users.json":           `[]`,
		"notes.txt":               "not included",
		"mc-broken.json":          `{broken`,
		"config.json":             `{"not":"data"}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func newTestJob(t *testing.T, opts Options) *Job {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	if opts.KDF == (KDFParams{}) {
		opts.KDF = testKDF
	}
	return NewJob(opts, zerolog.New(os.Stdout).Level(zerolog.Disabled))
}

func TestRunWritesEncryptedBackup(t *testing.T) {
	dataDir := t.TempDir()
	seedData(t, dataDir)
	m := metrics.NewMetrics()

	job := newTestJob(t, Options{DataDir: dataDir, Key: "backup-key", Metrics: m})
	fixed := time.Date(2024, 3, 9, 3, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	res, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mc-backup-2024-03-09-1709953200000.enc", res.Filename)
	assert.Equal(t, 3, res.FileCount)
	assert.Positive(t, res.Size)

	path := filepath.Join(dataDir, "backups", res.Filename)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Size, int64(len(data)))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BackupsTotal.WithLabelValues("ok")))
}

func TestRunThenRestore(t *testing.T) {
	dataDir := t.TempDir()
	seedData(t, dataDir)
	job := newTestJob(t, Options{DataDir: dataDir, Key: "backup-key"})

	res, err := job.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(job.Dir(), res.Filename))
	require.NoError(t, err)

	target := t.TempDir()
	payload, err := Restore(data, "backup-key", target)
	require.NoError(t, err)
	assert.Len(t, payload.Files, 3)

	restored, err := os.ReadFile(filepath.Join(target, "mc-data-tolga.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks":[1,2]}`, string(restored))
	assert.NoFileExists(t, filepath.Join(target, "notes.txt"))

	_, err = Restore(data, "wrong-key", t.TempDir())
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestRunWithoutKey(t *testing.T) {
	m := metrics.NewMetrics()
	job := newTestJob(t, Options{Metrics: m})
	assert.False(t, job.Configured())

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoBackupKey)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BackupsTotal.WithLabelValues("error")))
}

func TestRunEmptyDataDir(t *testing.T) {
	job := newTestJob(t, Options{DataDir: filepath.Join(t.TempDir(), "missing"), Key: "k"})

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FileCount)
}

func TestRetentionKeepsThirty(t *testing.T) {
	dataDir := t.TempDir()
	seedData(t, dataDir)
	job := newTestJob(t, Options{DataDir: dataDir, Key: "k"})

	base := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	var first, last string
	for i := 0; i < 31; i++ {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		job.now = func() time.Time { return at }
		res, err := job.Run(context.Background())
		require.NoError(t, err)
		if i == 0 {
			first = res.Filename
		}
		last = res.Filename
	}

	infos, err := job.List()
	require.NoError(t, err)
	assert.Len(t, infos, 30)
	assert.NoFileExists(t, filepath.Join(job.Dir(), first))
	assert.Equal(t, last, infos[len(infos)-1].Filename)
}

func TestPruneIgnoresForeignFiles(t *testing.T) {
	job := newTestJob(t, Options{Key: "k", Retention: 1})
	require.NoError(t, os.MkdirAll(job.Dir(), 0700))
	for _, name := range []string{"mc-backup-2024-01-01-1.enc", "mc-backup-2024-01-02-2.enc", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(job.Dir(), name), []byte("x"), 0600))
	}

	removed, err := job.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.FileExists(t, filepath.Join(job.Dir(), "keep.txt"))
	assert.FileExists(t, filepath.Join(job.Dir(), "mc-backup-2024-01-02-2.enc"))
}

func TestRunMirrorsOffsite(t *testing.T) {
	mirror := new(mockMirror)
	mirror.On("Upload", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("[]uint8")).Return(nil)

	job := newTestJob(t, Options{Key: "k", Mirror: mirror})
	res, err := job.Run(context.Background())
	require.NoError(t, err)

	mirror.AssertCalled(t, "Upload", mock.Anything, res.Filename, mock.Anything)
}

func TestRunMirrorFailureDoesNotFail(t *testing.T) {
	mirror := new(mockMirror)
	mirror.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("s3 down"))

	job := newTestJob(t, Options{Key: "k", Mirror: mirror})
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(job.Dir(), res.Filename))
}

func TestRestoreRejectsUnsafeNames(t *testing.T) {
	plaintext := []byte(`{"timestamp":"2024-01-01T00:00:00Z","files":{"../evil.json":{}}}`)
	sealed, err := Encrypt(plaintext, "k", testKDF)
	require.NoError(t, err)

	_, err = Restore(sealed, "k", t.TempDir())
	assert.Error(t, err)
}

func TestS3MirrorUpload(t *testing.T) {
	client := new(mockS3Client)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3aws.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return *in.Bucket == "mc-backups" &&
			*in.Key == "daily/mc-backup-x.enc" &&
			bytes.Equal(body, []byte("sealed")) &&
			*in.ContentLength == 6
	})).Return(&s3aws.PutObjectOutput{}, nil)

	mirror := NewS3MirrorWithClient(client, "mc-backups", "/daily/")
	require.NoError(t, mirror.Upload(context.Background(), "mc-backup-x.enc", []byte("sealed")))
	client.AssertExpectations(t)
}

func TestS3MirrorUploadError(t *testing.T) {
	client := new(mockS3Client)
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	mirror := NewS3MirrorWithClient(client, "mc-backups", "")
	assert.Equal(t, "mc-backup-x.enc", mirror.Key("mc-backup-x.enc"))

	err := mirror.Upload(context.Background(), "mc-backup-x.enc", []byte("sealed"))
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3MirrorValidates(t *testing.T) {
	_, err := NewS3Mirror(context.Background(), S3Config{Bucket: "b"})
	assert.Error(t, err)
}
