package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Options{
		Token:    token,
		Username: "octo",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, zerolog.New(os.Stdout).Level(zerolog.Disabled))
}

func TestMissingToken(t *testing.T) {
	called := false
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Repos(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, called)
	assert.False(t, c.Configured())
}

func TestRepos(t *testing.T) {
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/repos", r.URL.Path)
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		w.Write([]byte(`[{"id":1,"name":"mc","full_name":"octo/mc","description":"dash",
			"html_url":"https://github.com/octo/mc","private":true,"language":"Go",
			"stargazers_count":5,"forks_count":2,"updated_at":"2024-01-02T00:00:00Z",
			"created_at":"2023-01-01T00:00:00Z"}]`))
	})

	repos, err := c.Repos(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, Repo{
		ID:          1,
		Name:        "mc",
		FullName:    "octo/mc",
		Description: "dash",
		URL:         "https://github.com/octo/mc",
		Private:     true,
		Language:    "Go",
		Stars:       5,
		Forks:       2,
		UpdatedAt:   "2024-01-02T00:00:00Z",
		CreatedAt:   "2023-01-01T00:00:00Z",
	}, repos[0])
}

func TestCommitsFiltersPushEvents(t *testing.T) {
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/octo/events", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		w.Write([]byte(`[
			{"id":"1","type":"WatchEvent","repo":{"name":"octo/a"}},
			{"id":"2","type":"PushEvent","repo":{"name":"octo/mc"},"created_at":"2024-01-01T00:00:00Z",
			 "payload":{"ref":"refs/heads/main","commits":[
			   {"sha":"0123456789abcdef","message":"fix","author":{"name":"Octo"}}]}}
		]`))
	})

	pushes, err := c.Commits(context.Background())
	require.NoError(t, err)
	require.Len(t, pushes, 1)

	p := pushes[0]
	assert.Equal(t, "2", p.ID)
	assert.Equal(t, "octo/mc", p.Repo)
	assert.Equal(t, "refs/heads/main", p.Ref)
	require.Len(t, p.Commits, 1)
	assert.Equal(t, Commit{
		SHA:     "0123456",
		Message: "fix",
		Author:  "Octo",
		URL:     "https://github.com/octo/mc/commit/0123456789abcdef",
	}, p.Commits[0])
}

func TestCommitsCapsAtTwenty(t *testing.T) {
	var events []string
	for i := 0; i < 30; i++ {
		events = append(events, `{"id":"x","type":"PushEvent","repo":{"name":"octo/mc"},"payload":{}}`)
	}
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[" + strings.Join(events, ",") + "]"))
	})

	pushes, err := c.Commits(context.Background())
	require.NoError(t, err)
	assert.Len(t, pushes, 20)
	assert.NotNil(t, pushes[0].Commits)
}

func TestIssuesTruncatesBody(t *testing.T) {
	long := strings.Repeat("a", 250)
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/issues", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		w.Write([]byte(`[{"id":7,"number":3,"title":"bug","body":"` + long + `",
			"html_url":"https://github.com/octo/mc/issues/3","state":"open",
			"labels":[{"name":"bug"}],"assignees":[{"login":"octo"}],
			"repository_url":"https://api.github.com/repos/octo/mc"}]`))
	})

	issues, err := c.Issues(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)

	is := issues[0]
	assert.Equal(t, strings.Repeat("a", 200)+"...", is.Body)
	assert.Equal(t, []string{"bug"}, is.Labels)
	assert.Equal(t, []string{"octo"}, is.Assignees)
	assert.Equal(t, "mc", is.Repo)
}

func TestPullRequests(t *testing.T) {
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/issues", r.URL.Path)
		assert.Equal(t, "author:octo type:pr state:open", r.URL.Query().Get("q"))
		w.Write([]byte(`{"total_count":1,"items":[{"id":9,"number":12,"title":"feat","body":"short",
			"state":"open","labels":[],"repository_url":"https://api.github.com/repos/octo/tools"}]}`))
	})

	prs, err := c.PullRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, "short", prs[0].Body)
	assert.Equal(t, "tools", prs[0].Repo)
	assert.Empty(t, prs[0].Labels)
}

func TestUpstreamFailure(t *testing.T) {
	c := newTestClient(t, "ghp_test", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := c.Issues(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "", preview(""))
	assert.Equal(t, "hello", preview("hello"))
	assert.Equal(t, strings.Repeat("é", 200)+"...", preview(strings.Repeat("é", 201)))
}
