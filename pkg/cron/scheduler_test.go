package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Run("valid expression", func(t *testing.T) {
		_, err := ParseSchedule("0 3 * * *")
		assert.NoError(t, err)
	})

	t.Run("empty expression", func(t *testing.T) {
		_, err := ParseSchedule("")
		assert.Error(t, err)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := ParseSchedule("not a cron")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron expression")
	})

	t.Run("seconds field rejected", func(t *testing.T) {
		_, err := ParseSchedule("0 0 3 * * *")
		assert.Error(t, err)
	})
}

func TestNextRun(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)

	before := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), NextRun(sched, before, time.UTC))

	after := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC), NextRun(sched, after, time.UTC))
}

func TestNextRunTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	sched, err := ParseSchedule("0 8 * * *")
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC) // 07:00 local
	next := NextRun(sched, now, loc)
	assert.Equal(t, time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC), next.UTC())
}

func TestLastFire(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), LastFire(sched, now, time.UTC))

	early := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 4, 30, 3, 0, 0, 0, time.UTC), LastFire(sched, early, time.UTC))

	exact := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, exact, LastFire(sched, exact, time.UTC))
}

func TestMissed(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("never ran", func(t *testing.T) {
		assert.True(t, Missed(sched, JobState{}, now, time.UTC))
	})

	t.Run("ran today", func(t *testing.T) {
		assert.False(t, Missed(sched, JobState{LastRunDate: "2024-05-01"}, now, time.UTC))
	})

	t.Run("ran yesterday", func(t *testing.T) {
		state := JobState{
			LastRunDate: "2024-04-30",
			LastRunAtMs: Int64Ptr(time.Date(2024, 4, 30, 3, 0, 0, 0, time.UTC).UnixMilli()),
		}
		assert.True(t, Missed(sched, state, now, time.UTC))
	})

	t.Run("manual run after fire time yesterday", func(t *testing.T) {
		// 01:00 today, yesterday's 03:00 fire was covered by a run at 23:00
		early := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
		state := JobState{
			LastRunDate: "2024-04-30",
			LastRunAtMs: Int64Ptr(time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC).UnixMilli()),
		}
		assert.False(t, Missed(sched, state, early, time.UTC))
	})
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	ts := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01", DateOf(ts, time.UTC))
	assert.Equal(t, "2024-04-30", DateOf(ts, loc))
}
