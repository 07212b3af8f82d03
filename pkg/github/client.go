// Package github reshapes the GitHub REST API into dashboard widgets.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/metrics"
	"github.com/harun/mission-control/pkg/upstream"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL  = "https://api.github.com"
	DefaultUsername = "ryojindev"

	pageSize      = 20
	bodyPreview   = 200
	shortSHALen   = 7
	eventsPerPage = 50
)

// ErrNoToken is returned by every call when no token is configured
var ErrNoToken = errors.New("GITHUB_TOKEN environment variable not set")

// Options configures a Client
type Options struct {
	Token    string
	Username string
	BaseURL  string
	Timeout  time.Duration
	Metrics  *metrics.Metrics
}

// Client calls the GitHub API on behalf of the configured user
type Client struct {
	token    string
	username string
	baseURL  string
	http     *upstream.Client
	logger   zerolog.Logger
}

// NewClient creates a GitHub client
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		token:    opts.Token,
		username: opts.Username,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     upstream.NewClient("github", opts.Timeout, nil, opts.Metrics),
		logger:   logger.With().Str("component", "github").Logger(),
	}
}

// Configured reports whether a token is set
func (c *Client) Configured() bool {
	return c.token != ""
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.token == "" {
		return ErrNoToken
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "application/vnd.github.v3+json")

	if err := c.http.GetJSON(ctx, c.baseURL+endpoint, header, out); err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("GitHub request failed")
		return err
	}
	return nil
}

// Repos returns the user's 20 most recently updated repositories
func (c *Client) Repos(ctx context.Context) ([]Repo, error) {
	var raw []apiRepo
	if err := c.get(ctx, fmt.Sprintf("/user/repos?sort=updated&per_page=%d", pageSize), &raw); err != nil {
		return nil, err
	}

	repos := make([]Repo, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, Repo{
			ID:          r.ID,
			Name:        r.Name,
			FullName:    r.FullName,
			Description: r.Description,
			URL:         r.HTMLURL,
			Private:     r.Private,
			Language:    r.Language,
			Stars:       r.StargazersCount,
			Forks:       r.ForksCount,
			UpdatedAt:   r.UpdatedAt,
			CreatedAt:   r.CreatedAt,
		})
	}
	return repos, nil
}

// Commits returns up to 20 recent pushes from the user's public event stream
func (c *Client) Commits(ctx context.Context) ([]Push, error) {
	var events []apiEvent
	endpoint := fmt.Sprintf("/users/%s/events?per_page=%d", url.PathEscape(c.username), eventsPerPage)
	if err := c.get(ctx, endpoint, &events); err != nil {
		return nil, err
	}

	pushes := make([]Push, 0, pageSize)
	for _, ev := range events {
		if ev.Type != "PushEvent" {
			continue
		}
		if len(pushes) == pageSize {
			break
		}

		commits := make([]Commit, 0, len(ev.Payload.Commits))
		for _, cm := range ev.Payload.Commits {
			commits = append(commits, Commit{
				SHA:     shortSHA(cm.SHA),
				Message: cm.Message,
				Author:  cm.Author.Name,
				URL:     fmt.Sprintf("https://github.com/%s/commit/%s", ev.Repo.Name, cm.SHA),
			})
		}
		pushes = append(pushes, Push{
			ID:        ev.ID,
			Repo:      ev.Repo.Name,
			Ref:       ev.Payload.Ref,
			Commits:   commits,
			CreatedAt: ev.CreatedAt,
		})
	}
	return pushes, nil
}

// Issues returns open issues assigned to the user, most recently updated first
func (c *Client) Issues(ctx context.Context) ([]Issue, error) {
	var raw []apiIssue
	if err := c.get(ctx, fmt.Sprintf("/issues?state=open&sort=updated&per_page=%d", pageSize), &raw); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(raw))
	for _, is := range raw {
		issues = append(issues, is.toIssue())
	}
	return issues, nil
}

// PullRequests returns open pull requests authored by the user
func (c *Client) PullRequests(ctx context.Context) ([]PullRequest, error) {
	var result struct {
		TotalCount int        `json:"total_count"`
		Items      []apiIssue `json:"items"`
	}
	endpoint := fmt.Sprintf("/search/issues?q=author:%s+type:pr+state:open&sort=updated&per_page=%d",
		url.QueryEscape(c.username), pageSize)
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	prs := make([]PullRequest, 0, len(result.Items))
	for _, it := range result.Items {
		is := it.toIssue()
		prs = append(prs, PullRequest{
			ID:        is.ID,
			Number:    is.Number,
			Title:     is.Title,
			Body:      is.Body,
			URL:       is.URL,
			State:     is.State,
			Labels:    is.Labels,
			Repo:      is.Repo,
			CreatedAt: is.CreatedAt,
			UpdatedAt: is.UpdatedAt,
		})
	}
	return prs, nil
}

func shortSHA(sha string) string {
	if len(sha) > shortSHALen {
		return sha[:shortSHALen]
	}
	return sha
}

// preview truncates body to 200 characters and marks the cut with "..."
func preview(body string) string {
	r := []rune(body)
	if len(r) <= bodyPreview {
		return body
	}
	return string(r[:bodyPreview]) + "..."
}

// repoName returns the last segment of a repository API URL
func repoName(repositoryURL string) string {
	if i := strings.LastIndex(repositoryURL, "/"); i >= 0 {
		return repositoryURL[i+1:]
	}
	return repositoryURL
}
