package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/harun/mission-control/internal/config"
	"github.com/harun/mission-control/internal/daemon"
	"github.com/harun/mission-control/pkg/offline"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// offlineCacheFile holds the last good /mc/status answer between runs
const offlineCacheFile = "offline-cache.json"

const logoutTimeout = 2 * time.Second

var errServerUnreachable = errors.New("server unreachable and no cached status")

var (
	statusURL     string
	statusTimeout int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Show the process status and query the running server's /mc/status.
The last good answer is cached so status still reports something while the
server is down.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "server base URL (default derived from server.host and server.port)")
	statusCmd.Flags().IntVar(&statusTimeout, "timeout", 5, "request timeout in seconds")
	rootCmd.AddCommand(statusCmd)
}

// statusReport mirrors the /mc/status body
type statusReport struct {
	Health      string    `json:"health"`
	Uptime      int64     `json:"uptime"`
	LastRefresh time.Time `json:"lastRefresh"`
	StartTime   time.Time `json:"startTime"`
	Version     string    `json:"version"`
	Status      string    `json:"status"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFile(cfg.DataDir)
	if pid, err := daemon.ReadPID(pidFile); err == nil && daemon.ProcessAlive(pid) {
		fmt.Fprintf(out, "Status: running\n")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}

	base := statusURL
	if base == "" {
		base = serverURL(cfg)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(statusTimeout)*time.Second)
	defer cancel()

	report, source, err := fetchStatus(ctx, cfg, base, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(out, "Server: %v\n", err)
		return nil
	}

	label := report.Health
	if source != "" {
		label += " (cached)"
	}
	fmt.Fprintf(out, "Server: %s\n", label)
	fmt.Fprintf(out, "Version: %s\n", report.Version)
	fmt.Fprintf(out, "Server uptime: %s\n", formatDuration(time.Duration(report.Uptime)*time.Second))
	fmt.Fprintf(out, "Last refresh: %s\n", report.LastRefresh.Local().Format(time.RFC3339))
	return nil
}

// serverURL derives the local base URL from the listen address
func serverURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// fetchStatus logs in and reads /mc/status through an offline worker
// registration, which answers from the persisted cache when the server cannot
// be reached. source is the X-Offline-Cache value, empty for a live answer.
func fetchStatus(ctx context.Context, cfg *config.Config, base string, log zerolog.Logger) (statusReport, string, error) {
	cachePath := filepath.Join(cfg.DataDir, offlineCacheFile)
	storage := offline.Load(cachePath, log)

	// the CLI only reads the API, so nothing is precached and install works offline
	policy := daemon.OfflinePolicy(cfg.Offline)
	policy.StaticResources = []string{}

	reg := offline.NewRegistration(storage, nil, log)
	worker, err := offline.NewWorker(policy, base, storage, nil, log)
	if err != nil {
		return statusReport{}, "", err
	}
	if err := reg.Register(ctx, worker); err != nil {
		return statusReport{}, "", fmt.Errorf("failed to start offline worker: %w", err)
	}
	client := &http.Client{Transport: reg}

	// login is a POST, so it bypasses the cache; a failure still allows a cached answer
	token, _ := login(ctx, client, base, cfg.Admin)
	if token != "" {
		defer logout(client, base, token, log)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/mc/status", nil)
	if err != nil {
		return statusReport{}, "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return statusReport{}, "", err
	}
	defer resp.Body.Close()

	source := resp.Header.Get(offline.HeaderCache)
	if source == "offline" {
		return statusReport{}, "", errServerUnreachable
	}
	if resp.StatusCode != http.StatusOK {
		return statusReport{}, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return statusReport{}, "", fmt.Errorf("invalid status response: %w", err)
	}

	if source == "" {
		worker.Wait()
		if err := offline.Save(cachePath, storage); err != nil {
			log.Warn().Err(err).Msg("Failed to persist status cache")
		}
	}
	return report, source, nil
}

// logout ends the session opened by login
func logout(client *http.Client, base, token string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("Logout failed")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func login(ctx context.Context, client *http.Client, base string, admin config.AdminConfig) (string, error) {
	if admin.Password == "" {
		return "", fmt.Errorf("admin password not configured")
	}
	body, err := json.Marshal(map[string]string{"username": admin.Username, "password": admin.Password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var res struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
