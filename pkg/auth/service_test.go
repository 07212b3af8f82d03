package auth

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/internal/observability"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc     *Service
	users   *UserStore
	metrics *metrics.Metrics
	audit   *bytes.Buffer
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	store := jsonstore.New(t.TempDir(), testLogger())
	users := NewUserStore(store, testLogger())
	sessions := session.NewStore(24*time.Hour, testLogger())
	m := metrics.NewMetrics()
	var buf bytes.Buffer

	svc := NewService(
		AdminCredential{Username: "tolga", Password: "mission-pass"},
		users,
		sessions,
		ServiceOptions{Metrics: m, Audit: observability.NewAuditLoggerTo(zerolog.New(&buf))},
		testLogger(),
	)
	return &testEnv{svc: svc, users: users, metrics: m, audit: &buf}
}

func TestLoginAdmin(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	sess, err := env.svc.Login(ctx, "tolga", "mission-pass")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, sess.Token)
	assert.Equal(t, RoleAdmin, sess.Role)

	got, ok := env.svc.Check(sess.Token)
	require.True(t, ok)
	assert.Equal(t, "tolga", got.User)

	assert.True(t, env.svc.Logout(ctx, sess.Token))
	_, ok = env.svc.Check(sess.Token)
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LoginsTotal.WithLabelValues("success")))
	assert.Contains(t, env.audit.String(), `"action":"logout"`)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	_, err := env.svc.CreateUser("alice", "alice-password", RoleUser)
	require.NoError(t, err)

	cases := []struct{ user, pass string }{
		{"tolga", "wrong"},
		{"alice", "wrong-password"},
		{"nobody", "whatever"},
		{"", ""},
	}
	for _, c := range cases {
		_, err := env.svc.Login(ctx, c.user, c.pass)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, "invalid credentials", err.Error())
	}
	assert.Equal(t, float64(4), testutil.ToFloat64(env.metrics.LoginsTotal.WithLabelValues("failure")))
}

func TestLoginRegisteredUser(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.CreateUser("Alice", "alice-password", "")
	require.NoError(t, err)

	sess, err := env.svc.Login(context.Background(), "alice", "alice-password")
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.User)
	assert.Equal(t, RoleUser, sess.Role)

	u, ok := env.users.Find("alice")
	require.True(t, ok)
	assert.NotNil(t, u.LastLogin)
}

func TestEmptyAdminPasswordDisablesAdmin(t *testing.T) {
	store := jsonstore.New(t.TempDir(), testLogger())
	svc := NewService(AdminCredential{Username: "tolga"}, NewUserStore(store, testLogger()),
		session.NewStore(time.Hour, testLogger()), ServiceOptions{}, testLogger())

	_, err := svc.Login(context.Background(), "tolga", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	admin := session.Session{User: "tolga", Role: RoleAdmin}

	t.Run("admin registers user", func(t *testing.T) {
		u, err := env.svc.Register(ctx, admin, "bob", "bob-password", RoleUser)
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Contains(t, u.PasswordHash, ":")
		assert.NotContains(t, u.PasswordHash, "bob-password")
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		_, err := env.svc.Register(ctx, session.Session{User: "bob", Role: RoleUser}, "eve", "eve-password", RoleAdmin)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := env.svc.Register(ctx, admin, "BOB", "another-pass", RoleUser)
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("admin name reserved", func(t *testing.T) {
		_, err := env.svc.Register(ctx, admin, "tolga", "another-pass", RoleUser)
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := env.svc.Register(ctx, admin, "x", "long-enough", RoleUser)
		assert.ErrorIs(t, err, ErrInvalidUser)

		_, err = env.svc.Register(ctx, admin, "carol", "short", RoleUser)
		assert.ErrorIs(t, err, ErrInvalidUser)

		_, err = env.svc.Register(ctx, admin, "carol", "long-enough", "root")
		assert.ErrorIs(t, err, ErrInvalidUser)
	})
}

func TestCreateUserFileKeysAreUnique(t *testing.T) {
	env := newTestService(t)

	t.Run("dot rejected", func(t *testing.T) {
		_, err := env.svc.CreateUser("a.b", "long-enough", RoleUser)
		assert.ErrorIs(t, err, ErrInvalidUser)
	})

	t.Run("reserved feed names", func(t *testing.T) {
		for _, name := range []string{"global", "GLOBAL", "anonymous"} {
			_, err := env.svc.CreateUser(name, "long-enough", RoleUser)
			assert.ErrorIs(t, err, ErrInvalidUser, name)
		}
	})

	t.Run("distinct users get distinct files", func(t *testing.T) {
		_, err := env.svc.CreateUser("a_b", "long-enough", RoleUser)
		require.NoError(t, err)
		_, err = env.svc.CreateUser("a-b", "long-enough", RoleUser)
		require.NoError(t, err)

		assert.NotEqual(t, jsonstore.UserFile("data", "a_b"), jsonstore.UserFile("data", "a-b"))
		assert.NotEqual(t, jsonstore.UserFile("activity", "a_b"), jsonstore.UserFile("activity", "global"))
	})

	t.Run("case variant collides", func(t *testing.T) {
		_, err := env.svc.CreateUser("A_B", "long-enough", RoleUser)
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("admin file key", func(t *testing.T) {
		svc := NewService(
			AdminCredential{Username: "ops.lead", Password: "mission-pass"},
			env.users,
			session.NewStore(time.Hour, testLogger()),
			ServiceOptions{},
			testLogger(),
		)
		_, err := svc.CreateUser("ops_lead", "long-enough", RoleUser)
		assert.ErrorIs(t, err, ErrUserExists)
	})
}
