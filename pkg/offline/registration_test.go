package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationLifecycle(t *testing.T) {
	net := newFakeNetwork()
	reg := NewRegistration(NewStorage(), net, zerolog.Nop())
	assert.Nil(t, reg.Active())

	v1 := newTestWorker(t, net, reg.Storage(), "mission-control-v1")
	require.NoError(t, reg.Register(context.Background(), v1))
	assert.Equal(t, v1, reg.Active())
	assert.Equal(t, StateActive, v1.State())
	assert.False(t, reg.Updating())

	v2 := newTestWorker(t, net, reg.Storage(), "mission-control-v2")
	require.NoError(t, reg.Register(context.Background(), v2))
	assert.True(t, reg.Updating())
	assert.Equal(t, v1, reg.Active(), "new version waits")
	assert.Equal(t, StateInstalled, v2.State())

	reply, err := reg.HandleMessage(context.Background(), Message{Type: MessageGetVersion})
	require.NoError(t, err)
	assert.Equal(t, VersionReply{Version: "mission-control-v1"}, reply)

	_, err = reg.HandleMessage(context.Background(), Message{Type: MessageSkipWaiting})
	require.NoError(t, err)
	assert.Equal(t, v2, reg.Active())
	assert.Equal(t, StateRedundant, v1.State())
	assert.Equal(t, []string{"mission-control-v2"}, reg.Storage().Names())

	reply, err = reg.HandleMessage(context.Background(), Message{Type: MessageGetVersion})
	require.NoError(t, err)
	assert.Equal(t, VersionReply{Version: "mission-control-v2"}, reply)
}

func TestRegistrationInFlightFetchKeepsOldVersion(t *testing.T) {
	net := newFakeNetwork()
	reg := NewRegistration(NewStorage(), net, zerolog.Nop())
	v1 := newTestWorker(t, net, reg.Storage(), "mission-control-v1")
	require.NoError(t, reg.Register(context.Background(), v1))

	// a fetch that grabbed v1 before the swap
	started := reg.Active()

	v2 := newTestWorker(t, net, reg.Storage(), "mission-control-v2")
	require.NoError(t, reg.Register(context.Background(), v2))
	require.NoError(t, reg.SkipWaiting())

	req, err := http.NewRequest(http.MethodGet, origin+"/mc/status", nil)
	require.NoError(t, err)
	net.set(origin+"/mc/status", `{}`)
	resp, err := started.Fetch(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mission-control-v1", started.Version())
}

func TestRegistrationRoundTripWithoutWorker(t *testing.T) {
	net := newFakeNetwork()
	reg := NewRegistration(nil, net, zerolog.Nop())

	req, err := http.NewRequest(http.MethodGet, origin+"/", nil)
	require.NoError(t, err)
	resp, err := reg.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "<html>home</html>", readBody(t, resp))
}

func TestHandleMessageCacheUpdate(t *testing.T) {
	net := newFakeNetwork()
	reg := NewRegistration(NewStorage(), net, zerolog.Nop())

	_, err := reg.HandleMessage(context.Background(), Message{Type: MessageCacheUpdate})
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, reg.Register(context.Background(), newTestWorker(t, net, reg.Storage(), "mission-control-v1")))
	net.set(origin+"/mc/status", `{"health":"online"}`)

	reply, err := reg.HandleMessage(context.Background(), Message{Type: MessageCacheUpdate, URLs: []string{"/mc/status"}})
	require.NoError(t, err)
	assert.Equal(t, CacheUpdateReply{Updated: 1}, reply)

	_, err = reg.HandleMessage(context.Background(), Message{Type: "BOGUS"})
	assert.Error(t, err)
}

func TestPush(t *testing.T) {
	reg := NewRegistration(nil, newFakeNetwork(), zerolog.Nop())
	reg.now = func() time.Time { return time.UnixMilli(1700000000000) }

	var shown []Notification
	reg.OnNotification(func(n Notification) { shown = append(shown, n) })

	n := reg.Push(nil)
	assert.Equal(t, DefaultNotificationTitle, n.Title)
	assert.Equal(t, DefaultNotificationBody, n.Body)
	assert.Equal(t, int64(1700000000000), n.Data["dateOfArrival"])

	n = reg.Push([]byte("Backup completed"))
	assert.Equal(t, "Mission Control", n.Title)
	assert.Equal(t, "Backup completed", n.Body)

	n = reg.Push([]byte(`{"title":"Deploy","body":"v2 is live"}`))
	assert.Equal(t, "Deploy", n.Title)
	assert.Equal(t, "v2 is live", n.Body)

	require.Len(t, shown, 3)
	assert.Len(t, shown[0].Actions, 2)
}

func TestBackgroundSync(t *testing.T) {
	net := newFakeNetwork()
	net.set(origin+"/mc/data", `{"success":true}`)
	reg := NewRegistration(nil, net, zerolog.Nop())

	req, err := http.NewRequest(http.MethodPost, origin+"/mc/data", strings.NewReader(`{"tasks":[]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, reg.Enqueue(req))

	get, err := http.NewRequest(http.MethodGet, origin+"/mc/data", nil)
	require.NoError(t, err)
	assert.Error(t, reg.Enqueue(get))
	assert.Equal(t, 1, reg.Pending())

	_, err = reg.Sync(context.Background(), "other-tag")
	assert.Error(t, err)

	net.setOffline(true)
	res, err := reg.Sync(context.Background(), SyncTag)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Replayed: 0, Failed: 1}, res)
	assert.Equal(t, 1, reg.Pending(), "failed requests stay queued")

	net.setOffline(false)
	res, err = reg.Sync(context.Background(), SyncTag)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Replayed: 1, Failed: 0}, res)
	assert.Equal(t, 0, reg.Pending())
	assert.Equal(t, 2, net.count(http.MethodPost, origin+"/mc/data"))
}

func TestStoragePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "offline.json")

	s := NewStorage()
	s.Open("mission-control-v1").Put(&Entry{
		URL:        origin + "/mc/status",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"health":"online"}`),
	})
	require.NoError(t, Save(path, s))

	loaded := Load(path, zerolog.Nop())
	entry, ok := loaded.Open("mission-control-v1").Match(origin + "/mc/status")
	require.True(t, ok)
	assert.Equal(t, `{"health":"online"}`, string(entry.Body))
	assert.Equal(t, "application/json", entry.Header.Get("Content-Type"))

	empty := Load(filepath.Join(t.TempDir(), "missing.json"), zerolog.Nop())
	assert.Empty(t, empty.Names())
}

func TestRenderWorker(t *testing.T) {
	policy := Policy{
		Version:         "mission-control-v7",
		StaticResources: []string{"/", "/app.js"},
		APIPrefix:       "/mc/",
		FontHosts:       []string{"fonts.gstatic.com"},
	}
	script, err := RenderWorker(policy)
	require.NoError(t, err)

	js := string(script)
	assert.Contains(t, js, `const CACHE_NAME = "mission-control-v7";`)
	assert.Contains(t, js, `const STATIC_RESOURCES = ["/","/app.js"];`)
	assert.Contains(t, js, `const API_PREFIX = "/mc/";`)
	assert.Contains(t, js, `const FONT_HOSTS = ["fonts.gstatic.com"];`)
	assert.Contains(t, js, `const SYNC_TAG = "background-sync";`)
	assert.Contains(t, js, "'SKIP_WAITING'")
	assert.NotContains(t, js, "{{")

	// failed writes are stored in the same object store the sync handler replays
	assert.Contains(t, js, "event.respondWith(sendOrQueue(request))")
	assert.Contains(t, js, "objectStore('requests').add(entry)")
	assert.Contains(t, js, "sync.register(SYNC_TAG)")
}

func TestManifest(t *testing.T) {
	body, err := json.Marshal(DefaultManifest())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	for _, key := range []string{"name", "short_name", "start_url", "display", "icons", "theme_color", "background_color"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "standalone", m["display"])
}
