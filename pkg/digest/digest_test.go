package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/github"
	"github.com/harun/mission-control/pkg/sysstats"
	"github.com/harun/mission-control/pkg/weather"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockActivity struct{ mock.Mock }

func (m *mockActivity) Since(user string, t time.Time) []activity.Entry {
	args := m.Called(user, t)
	return args.Get(0).([]activity.Entry)
}

type mockWeather struct{ mock.Mock }

func (m *mockWeather) Current(ctx context.Context, city string) (weather.Report, error) {
	args := m.Called(ctx, city)
	return args.Get(0).(weather.Report), args.Error(1)
}

type mockStats struct{ mock.Mock }

func (m *mockStats) Sample() (sysstats.Stats, error) {
	args := m.Called()
	return args.Get(0).(sysstats.Stats), args.Error(1)
}

type mockGitHub struct{ mock.Mock }

func (m *mockGitHub) Issues(ctx context.Context) ([]github.Issue, error) {
	args := m.Called(ctx)
	return args.Get(0).([]github.Issue), args.Error(1)
}

func (m *mockGitHub) PullRequests(ctx context.Context) ([]github.PullRequest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]github.PullRequest), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Send(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

var today = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func entry(desc, typ string, at time.Time) activity.Entry {
	return activity.Entry{ID: desc, Description: desc, Type: typ, Timestamp: at}
}

func newBuilder(sources Sources) *Builder {
	b := NewBuilder(Options{User: "harun", Location: time.UTC, Top: 3}, sources, zerolog.Nop())
	b.now = func() time.Time { return today }
	return b
}

func TestBuildFull(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	act := new(mockActivity)
	act.On("Since", activity.GlobalScope, start).Return([]activity.Entry{
		entry("push to harun/mc (2 commits)", "webhook", today.Add(-1*time.Hour)),
		entry("invoice.paid: 49.00 USD", "webhook", today.Add(-3*time.Hour)),
		entry("server restarted", "system", today.Add(-5*time.Hour)),
	})
	act.On("Since", "harun", start).Return([]activity.Entry{
		entry("updated tasks", "user", today.Add(-2*time.Hour)),
	})

	w := new(mockWeather)
	w.On("Current", mock.Anything, "").Return(weather.Report{City: "Istanbul", Temp: "18", Condition: "Sunny"}, nil)

	st := new(mockStats)
	st.On("Sample").Return(sysstats.Stats{CPU: 12.5, Memory: 40, Disk: 61}, nil)

	gh := new(mockGitHub)
	gh.On("PullRequests", mock.Anything).Return([]github.PullRequest{{Number: 1}, {Number: 2}}, nil)
	gh.On("Issues", mock.Anything).Return([]github.Issue{{Number: 3}}, nil)

	d := newBuilder(Sources{Activity: act, Weather: w, System: st, GitHub: gh}).Build(context.Background())

	assert.Equal(t, "2024-05-01", d.Date)
	assert.Equal(t, 4, d.ActivityCount)
	assert.Equal(t, 2, d.WebhookEvents)
	require.Len(t, d.TopActivities, 3)
	assert.Equal(t, "push to harun/mc (2 commits)", d.TopActivities[0].Description)
	assert.Equal(t, "updated tasks", d.TopActivities[1].Description)
	assert.Equal(t, "invoice.paid: 49.00 USD", d.TopActivities[2].Description)
	require.NotNil(t, d.Weather)
	assert.Equal(t, "Istanbul", d.Weather.City)
	assert.Equal(t, 12.5, d.System.CPU)
	assert.Equal(t, GitHubSummary{OpenPRs: 2, OpenIssues: 1}, d.GitHub)
}

func TestBuildBestEffort(t *testing.T) {
	w := new(mockWeather)
	w.On("Current", mock.Anything, mock.Anything).Return(weather.Report{}, errors.New("wttr down"))

	st := new(mockStats)
	st.On("Sample").Return(sysstats.Stats{}, errors.New("no /proc"))

	gh := new(mockGitHub)
	gh.On("PullRequests", mock.Anything).Return([]github.PullRequest(nil), github.ErrNoToken)
	gh.On("Issues", mock.Anything).Return([]github.Issue(nil), github.ErrNoToken)

	d := newBuilder(Sources{Weather: w, System: st, GitHub: gh}).Build(context.Background())

	assert.Equal(t, "2024-05-01", d.Date)
	assert.Nil(t, d.Weather)
	assert.NotNil(t, d.TopActivities)
	assert.Empty(t, d.TopActivities)
	assert.Equal(t, GitHubSummary{}, d.GitHub)
	assert.Equal(t, sysstats.Stats{}, d.System)
}

func TestBuildNoSources(t *testing.T) {
	d := newBuilder(Sources{}).Build(context.Background())
	assert.Equal(t, 0, d.ActivityCount)
	assert.Contains(t, Render(d), "Weather: unavailable")
}

func TestSend(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "Mission Control digest for 2024-05-01")
	})).Return(nil)

	d, err := newBuilder(Sources{}).Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", d.Date)
	n.AssertExpectations(t)
}

func TestSendFailure(t *testing.T) {
	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything).Return(errors.New("chat not found"))

	_, err := newBuilder(Sources{}).Send(context.Background(), n)
	assert.ErrorContains(t, err, "chat not found")
}

func TestSendWithoutNotifier(t *testing.T) {
	_, err := newBuilder(Sources{}).Send(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoNotifier)
}

func TestRender(t *testing.T) {
	d := Digest{
		Date:          "2024-05-01",
		ActivityCount: 2,
		WebhookEvents: 1,
		TopActivities: []activity.Entry{entry("push to harun/mc (1 commits)", "webhook", time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC))},
		Weather:       &weather.Report{City: "Istanbul", Temp: "18", Condition: "Sunny"},
		System:        sysstats.Stats{CPU: 12.5, Memory: 40, Disk: 61},
		GitHub:        GitHubSummary{OpenPRs: 2, OpenIssues: 1},
	}

	expected := "Mission Control digest for 2024-05-01\n\n" +
		"Activity: 2 entries, 1 webhook events\n" +
		"GitHub: 2 open PRs, 1 open issues\n" +
		"Weather: Istanbul 18°C, Sunny\n" +
		"System: CPU 12.5%, memory 40.0%, disk 61.0%\n" +
		"\nRecent:\n" +
		"- 07:30 push to harun/mc (1 commits)"
	assert.Equal(t, expected, Render(d))
}
