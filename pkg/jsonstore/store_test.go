package jsonstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), zerolog.New(os.Stdout).Level(zerolog.Disabled))
}

func TestReadMissingCreatesDefault(t *testing.T) {
	s := newTestStore(t)

	var out map[string]any
	require.NoError(t, s.Read("mc-data-tolga.json", map[string]any{"theme": "dark"}, &out))
	assert.Equal(t, map[string]any{"theme": "dark"}, out)

	data, err := os.ReadFile(s.Path("mc-data-tolga.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(data))

	var again map[string]any
	require.NoError(t, s.Read("mc-data-tolga.json", map[string]any{}, &again))
	assert.Equal(t, out, again)
}

func TestReadCorruptReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path("mc-activity-tolga.json"), []byte("{not json"), 0644))

	var out []string
	require.NoError(t, s.Read("mc-activity-tolga.json", []string{}, &out))
	assert.Empty(t, out)
	assert.NotNil(t, out)

	// the corrupt file is left for inspection
	data, err := os.ReadFile(s.Path("mc-activity-tolga.json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	type doc struct {
		Name  string         `json:"name"`
		Count int            `json:"count"`
		Tags  []string       `json:"tags"`
		Meta  map[string]any `json:"meta"`
	}
	in := doc{Name: "mission", Count: 3, Tags: []string{"a", "b"}, Meta: map[string]any{"k": "v"}}

	require.NoError(t, s.Write("mc-data-x.json", in))

	var out doc
	require.NoError(t, s.Read("mc-data-x.json", doc{}, &out))
	assert.Equal(t, in, out)

	data, err := os.ReadFile(s.Path("mc-data-x.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"name\": \"mission\"")
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Write("mc-data-race.json", map[string]int{"writer": i}))
		}(i)
	}
	wg.Wait()

	matches, err := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	var out map[string]int
	require.NoError(t, s.Read("mc-data-race.json", map[string]int{}, &out))
	assert.Contains(t, out, "writer")
}

func TestWriteUnmarshalableValue(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Write("bad.json", map[string]any{"ch": make(chan int)}))
}

func TestWriteToUnwritableDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0500))
	t.Cleanup(func() { os.Chmod(dir, 0755) })

	err := WriteFile(filepath.Join(dir, "x.json"), 1)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestUserFile(t *testing.T) {
	assert.Equal(t, "mc-data-tolga.json", UserFile("data", "tolga"))
	assert.Equal(t, "mc-activity-global.json", UserFile("activity", "global"))
	assert.Equal(t, "mc-data-_etc_passwd.json", UserFile("data", "../etc/passwd"))
	assert.Equal(t, "mc-data-anonymous.json", UserFile("data", ""))
	assert.Equal(t, "mc-data-alice_smith.json", UserFile("data", "Alice Smith"))
}
