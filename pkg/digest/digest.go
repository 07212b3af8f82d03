// Package digest assembles the daily summary and delivers it to Telegram.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/mission-control/internal/tracing"
	"github.com/harun/mission-control/pkg/activity"
	"github.com/harun/mission-control/pkg/github"
	"github.com/harun/mission-control/pkg/sysstats"
	"github.com/harun/mission-control/pkg/weather"
	"github.com/rs/zerolog"
)

// DefaultTop is how many recent activities a digest lists
const DefaultTop = 5

var ErrNoNotifier = errors.New("telegram is not configured")

// Digest is the daily summary
type Digest struct {
	Date          string           `json:"date"`
	ActivityCount int              `json:"activityCount"`
	WebhookEvents int              `json:"webhookEvents"`
	TopActivities []activity.Entry `json:"topActivities"`
	Weather       *weather.Report  `json:"weather"`
	System        sysstats.Stats   `json:"system"`
	GitHub        GitHubSummary    `json:"github"`
}

// GitHubSummary counts open work on GitHub
type GitHubSummary struct {
	OpenPRs    int `json:"openPRs"`
	OpenIssues int `json:"openIssues"`
}

// ActivitySource reads activity feeds
type ActivitySource interface {
	Since(user string, t time.Time) []activity.Entry
}

// WeatherSource reports current conditions
type WeatherSource interface {
	Current(ctx context.Context, city string) (weather.Report, error)
}

// StatsSource samples host statistics
type StatsSource interface {
	Sample() (sysstats.Stats, error)
}

// GitHubSource lists open issues and pull requests
type GitHubSource interface {
	Issues(ctx context.Context) ([]github.Issue, error)
	PullRequests(ctx context.Context) ([]github.PullRequest, error)
}

// Notifier delivers rendered text
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Sources are the collaborators a digest reads. Any of them may be nil.
type Sources struct {
	Activity ActivitySource
	Weather  WeatherSource
	System   StatsSource
	GitHub   GitHubSource
}

// Options configures a Builder
type Options struct {
	User     string // whose feed is counted alongside the global feed
	City     string // empty uses the weather client's default
	Location *time.Location
	Top      int
	Timeout  time.Duration // per collaborator
}

// Builder assembles digests best-effort: a failing source leaves its section empty
type Builder struct {
	opts    Options
	sources Sources
	now     func() time.Time
	logger  zerolog.Logger
}

// NewBuilder creates a digest builder
func NewBuilder(opts Options, sources Sources, logger zerolog.Logger) *Builder {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Top <= 0 {
		opts.Top = DefaultTop
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Builder{
		opts:    opts,
		sources: sources,
		now:     time.Now,
		logger:  logger.With().Str("component", "digest").Logger(),
	}
}

// Build assembles today's digest
func (b *Builder) Build(ctx context.Context) Digest {
	logger := tracing.LoggerFromContext(ctx, b.logger)

	now := b.now().In(b.opts.Location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.opts.Location)

	d := Digest{
		Date:          now.Format("2006-01-02"),
		TopActivities: []activity.Entry{},
	}

	if b.sources.Activity != nil {
		global := b.sources.Activity.Since(activity.GlobalScope, start)
		var personal []activity.Entry
		if b.opts.User != "" {
			personal = b.sources.Activity.Since(b.opts.User, start)
		}

		for _, e := range global {
			if e.Type == "webhook" {
				d.WebhookEvents++
			}
		}
		all := append(append([]activity.Entry{}, personal...), global...)
		d.ActivityCount = len(all)

		sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
		if len(all) > b.opts.Top {
			all = all[:b.opts.Top]
		}
		d.TopActivities = all
	}

	if b.sources.Weather != nil {
		wctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		report, err := b.sources.Weather.Current(wctx, b.opts.City)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Digest weather unavailable")
		} else {
			d.Weather = &report
		}
	}

	if b.sources.System != nil {
		stats, err := b.sources.System.Sample()
		if err != nil {
			logger.Warn().Err(err).Msg("Digest system stats unavailable")
		}
		d.System = stats
	}

	if b.sources.GitHub != nil {
		gctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		if prs, err := b.sources.GitHub.PullRequests(gctx); err != nil {
			logger.Debug().Err(err).Msg("Digest pull requests unavailable")
		} else {
			d.GitHub.OpenPRs = len(prs)
		}
		if issues, err := b.sources.GitHub.Issues(gctx); err != nil {
			logger.Debug().Err(err).Msg("Digest issues unavailable")
		} else {
			d.GitHub.OpenIssues = len(issues)
		}
		cancel()
	}

	return d
}

// Send builds today's digest and delivers it through n
func (b *Builder) Send(ctx context.Context, n Notifier) (Digest, error) {
	d := b.Build(ctx)
	if n == nil {
		return d, ErrNoNotifier
	}
	if err := n.Send(ctx, Render(d)); err != nil {
		return d, fmt.Errorf("failed to send digest: %w", err)
	}
	logger := tracing.LoggerFromContext(ctx, b.logger)
	logger.Info().
		Str("date", d.Date).
		Int("activities", d.ActivityCount).
		Msg("Digest sent")
	return d, nil
}

// Render formats a digest as plain text
func Render(d Digest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Mission Control digest for %s\n\n", d.Date)
	fmt.Fprintf(&sb, "Activity: %d entries, %d webhook events\n", d.ActivityCount, d.WebhookEvents)
	fmt.Fprintf(&sb, "GitHub: %d open PRs, %d open issues\n", d.GitHub.OpenPRs, d.GitHub.OpenIssues)

	if d.Weather != nil {
		fmt.Fprintf(&sb, "Weather: %s %s°C, %s\n", d.Weather.City, d.Weather.Temp, d.Weather.Condition)
	} else {
		sb.WriteString("Weather: unavailable\n")
	}

	fmt.Fprintf(&sb, "System: CPU %.1f%%, memory %.1f%%, disk %.1f%%\n", d.System.CPU, d.System.Memory, d.System.Disk)

	if len(d.TopActivities) > 0 {
		sb.WriteString("\nRecent:\n")
		for _, e := range d.TopActivities {
			fmt.Fprintf(&sb, "- %s %s\n", e.Timestamp.Format("15:04"), e.Description)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
