package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Config represents the main Mission Control configuration
type Config struct {
	// Data directory holding the mc-*.json documents
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`

	Server    ServerConfig    `json:"server" mapstructure:"server" yaml:"server"`
	Admin     AdminConfig     `json:"admin" mapstructure:"admin" yaml:"admin"`
	Session   SessionConfig   `json:"session" mapstructure:"session" yaml:"session"`
	GitHub    GitHubConfig    `json:"github" mapstructure:"github" yaml:"github"`
	Stripe    StripeConfig    `json:"stripe" mapstructure:"stripe" yaml:"stripe"`
	Weather   WeatherConfig   `json:"weather" mapstructure:"weather" yaml:"weather"`
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram" yaml:"telegram"`
	OpenClaw  OpenClawConfig  `json:"openclaw" mapstructure:"openclaw" yaml:"openclaw"`
	VPS       VPSConfig       `json:"vps" mapstructure:"vps" yaml:"vps"`
	Backup    BackupConfig    `json:"backup" mapstructure:"backup" yaml:"backup"`
	Digest    DigestConfig    `json:"digest" mapstructure:"digest" yaml:"digest"`
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler" yaml:"scheduler"`
	Webhook   WebhookConfig   `json:"webhook" mapstructure:"webhook" yaml:"webhook"`
	Offline   OfflineConfig   `json:"offline" mapstructure:"offline" yaml:"offline"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host" yaml:"host"`
	Port            int    `json:"port" mapstructure:"port" yaml:"port"`
	PublicDir       string `json:"public_dir" mapstructure:"public_dir" yaml:"public_dir"` // optional static front-end
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"` // seconds
	MaxBodyBytes    int64  `json:"max_body_bytes" mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// AdminConfig holds the built-in administrator credential
type AdminConfig struct {
	Username string `json:"username" mapstructure:"username" yaml:"username"`
	Password string `json:"password" mapstructure:"password" yaml:"password"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	TTLHours               int `json:"ttl_hours" mapstructure:"ttl_hours" yaml:"ttl_hours"`
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes" mapstructure:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token         string `json:"token" mapstructure:"token" yaml:"token"`
	Username      string `json:"username" mapstructure:"username" yaml:"username"`
	BaseURL       string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	Timeout       int    `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // seconds
}

// StripeConfig holds Stripe API settings
type StripeConfig struct {
	SecretKey     string `json:"secret_key" mapstructure:"secret_key" yaml:"secret_key"`
	BaseURL       string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	Timeout       int    `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // seconds
}

// WeatherConfig holds weather provider settings
type WeatherConfig struct {
	City         string  `json:"city" mapstructure:"city" yaml:"city"`
	Latitude     float64 `json:"latitude" mapstructure:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" mapstructure:"longitude" yaml:"longitude"`
	WttrURL      string  `json:"wttr_url" mapstructure:"wttr_url" yaml:"wttr_url"`
	OpenMeteoURL string  `json:"open_meteo_url" mapstructure:"open_meteo_url" yaml:"open_meteo_url"`
	Timeout      int     `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // seconds
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken    string   `json:"bot_token" mapstructure:"bot_token" yaml:"bot_token"`
	ChatID      int64    `json:"chat_id" mapstructure:"chat_id" yaml:"chat_id"`
	APIEndpoint string   `json:"api_endpoint" mapstructure:"api_endpoint" yaml:"api_endpoint"`
	AlertEvents []string `json:"alert_events" mapstructure:"alert_events" yaml:"alert_events"` // webhook events forwarded as alerts
}

// OpenClawConfig holds agent gateway settings
type OpenClawConfig struct {
	URL     string `json:"url" mapstructure:"url" yaml:"url"`
	Token   string `json:"token" mapstructure:"token" yaml:"token"`
	Timeout int    `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // seconds
}

// VPSConfig holds the upstream forwarded by /api/proxy and /api/auth
type VPSConfig struct {
	URL     string `json:"url" mapstructure:"url" yaml:"url"`
	Timeout int    `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // seconds
}

// BackupConfig holds encrypted backup settings
type BackupConfig struct {
	Key       string   `json:"key" mapstructure:"key" yaml:"key"`
	Dir       string   `json:"dir" mapstructure:"dir" yaml:"dir"`
	Retention int      `json:"retention" mapstructure:"retention" yaml:"retention"`
	Schedule  string   `json:"schedule" mapstructure:"schedule" yaml:"schedule"` // cron expression
	S3        S3Config `json:"s3" mapstructure:"s3" yaml:"s3"`
}

// S3Config holds the optional offsite backup mirror
type S3Config struct {
	Bucket          string `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
	Region          string `json:"region" mapstructure:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key" yaml:"secret_access_key"`
	Prefix          string `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	ForcePathStyle  bool   `json:"force_path_style" mapstructure:"force_path_style" yaml:"force_path_style"`
}

// DigestConfig holds daily digest settings
type DigestConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule" yaml:"schedule"` // cron expression
}

// SchedulerConfig holds daily job scheduler settings
type SchedulerConfig struct {
	Timezone  string `json:"timezone" mapstructure:"timezone" yaml:"timezone"`
	CatchUp   bool   `json:"catch_up" mapstructure:"catch_up" yaml:"catch_up"`
	StatePath string `json:"state_path" mapstructure:"state_path" yaml:"state_path"`
}

// WebhookConfig holds webhook receiver settings
type WebhookConfig struct {
	RateLimit int `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute per IP
	// TrustedProxies are CIDRs or IPs whose X-Forwarded-For is believed. Empty means the peer address is used.
	TrustedProxies []string `json:"trusted_proxies" mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// OfflineConfig holds the offline worker cache policy
type OfflineConfig struct {
	CacheVersion    string   `json:"cache_version" mapstructure:"cache_version" yaml:"cache_version"`
	StaticResources []string `json:"static_resources" mapstructure:"static_resources" yaml:"static_resources"`
	FontHosts       []string `json:"font_hosts" mapstructure:"font_hosts" yaml:"font_hosts"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8899,
			ShutdownTimeout: 10,
			MaxBodyBytes:    50 << 20,
		},
		Admin: AdminConfig{
			Username: "tolga",
		},
		Session: SessionConfig{
			TTLHours:               24,
			CleanupIntervalMinutes: 5,
		},
		GitHub: GitHubConfig{
			Username: "ryojindev",
			BaseURL:  "https://api.github.com",
			Timeout:  10,
		},
		Stripe: StripeConfig{
			BaseURL: "https://api.stripe.com",
			Timeout: 15,
		},
		Weather: WeatherConfig{
			City:         "Gold Coast",
			Latitude:     -28.0167,
			Longitude:    153.4,
			WttrURL:      "https://wttr.in",
			OpenMeteoURL: "https://api.open-meteo.com",
			Timeout:      5,
		},
		Telegram: TelegramConfig{
			AlertEvents: []string{},
		},
		OpenClaw: OpenClawConfig{
			URL:     "ws://127.0.0.1:18789/ws",
			Timeout: 10,
		},
		VPS: VPSConfig{
			Timeout: 10,
		},
		Backup: BackupConfig{
			Retention: 30,
			Schedule:  "0 3 * * *",
		},
		Digest: DigestConfig{
			Enabled:  true,
			Schedule: "0 8 * * *",
		},
		Scheduler: SchedulerConfig{
			Timezone: "Local",
			CatchUp:  true,
		},
		Webhook: WebhookConfig{
			RateLimit: 60,
		},
		Offline: OfflineConfig{
			CacheVersion:    "mission-control-v1",
			StaticResources: []string{"/", "/index.html", "/manifest.json"},
			FontHosts:       []string{"fonts.googleapis.com", "fonts.gstatic.com"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// SessionTTL returns the sliding session lifetime
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// BackupDir returns the directory encrypted backups are written to
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

// SchedulerStatePath returns the file holding scheduler last-run state
func (c *Config) SchedulerStatePath() string {
	if c.Scheduler.StatePath != "" {
		return c.Scheduler.StatePath
	}
	return filepath.Join(c.DataDir, "mc-scheduler.json")
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks that the required fields are present and well formed
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Admin.Username == "" {
		return fmt.Errorf("admin username is required")
	}
	if c.Admin.Password == "" {
		return fmt.Errorf("admin password is required (set MC_PASSWORD)")
	}
	if c.Session.TTLHours <= 0 {
		return fmt.Errorf("session ttl_hours must be positive")
	}
	if c.Backup.Retention <= 0 {
		return fmt.Errorf("backup retention must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	v := NewValidator()
	if errs := v.ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}

	return nil
}
