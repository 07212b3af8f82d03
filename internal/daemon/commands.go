package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mission-control/pkg/cron"
	"github.com/harun/mission-control/pkg/digest"
	"github.com/harun/mission-control/pkg/webhook"
)

// registerCommands wires the bot commands answered from the configured chat
func (d *Daemon) registerCommands() {
	d.telegramCmd.Register("status", "Show daemon status", d.cmdStatus)
	d.telegramCmd.Register("digest", "Send today's digest", d.cmdDigest)
	d.telegramCmd.Register("backup", "Run a backup now", d.cmdBackup)
	d.telegramCmd.Register("jobs", "List scheduled jobs", d.cmdJobs)
}

func (d *Daemon) cmdStatus(_ context.Context, _ []string) (string, error) {
	st := d.Status()
	state := "stopped"
	if st.Running {
		state = "running"
	}
	out := fmt.Sprintf("🛰 Mission Control %s\nUptime: %s\nActive sessions: %d\nJobs: %d",
		state, st.Uptime.Truncate(time.Second), st.Sessions, len(st.Jobs))
	if hooks := formatWebhookStats(d.webhook.Stats()); hooks != "" {
		out += "\n" + hooks
	}
	return out, nil
}

func (d *Daemon) cmdDigest(ctx context.Context, _ []string) (string, error) {
	return digest.Render(d.digest.Build(ctx)), nil
}

func (d *Daemon) cmdBackup(ctx context.Context, _ []string) (string, error) {
	res, err := d.runBackup(ctx, "telegram")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Backup %s written (%d files, %d bytes)", res.Filename, res.FileCount, res.Size), nil
}

func (d *Daemon) cmdJobs(_ context.Context, _ []string) (string, error) {
	return formatJobs(d.scheduler.ListJobs()), nil
}

// formatWebhookStats renders one line per source, empty when nothing arrived
func formatWebhookStats(stats []webhook.SourceStats) string {
	if len(stats) == 0 {
		return ""
	}

	lines := make([]string, 0, len(stats)+1)
	lines = append(lines, "Webhooks:")
	for _, s := range stats {
		lines = append(lines, fmt.Sprintf("  %s: %d received, %d failed, avg %.0fms",
			s.Source, s.TotalRequests, s.FailureCount, s.AverageResponseTime))
	}
	return strings.Join(lines, "\n")
}

func formatJobs(jobs []cron.JobStatus) string {
	if len(jobs) == 0 {
		return "No scheduled jobs"
	}

	var b strings.Builder
	for _, j := range jobs {
		last := j.State.LastRunDate
		if last == "" {
			last = "never"
		}
		fmt.Fprintf(&b, "%s (%s): last run %s", j.Name, j.Expr, last)
		if j.State.LastStatus != "" {
			fmt.Fprintf(&b, ", %s", j.State.LastStatus)
		}
		if j.State.LastError != "" {
			fmt.Fprintf(&b, " (%s)", j.State.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
