package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that set them.
// The first variable that is set wins.
var envBindings = map[string][]string{
	"data_dir":                    {"MC_DATA_DIR"},
	"server.port":                 {"MC_PORT", "PORT"},
	"server.host":                 {"MC_HOST"},
	"admin.username":              {"MC_USERNAME"},
	"admin.password":              {"MC_PASSWORD"},
	"github.token":                {"GITHUB_TOKEN"},
	"github.username":             {"GITHUB_USERNAME"},
	"github.webhook_secret":       {"GITHUB_WEBHOOK_SECRET"},
	"stripe.secret_key":           {"STRIPE_SECRET_KEY"},
	"stripe.webhook_secret":       {"STRIPE_WEBHOOK_SECRET"},
	"telegram.bot_token":          {"TELEGRAM_BOT_TOKEN"},
	"telegram.chat_id":            {"TELEGRAM_CHAT_ID"},
	"openclaw.url":                {"OPENCLAW_GATEWAY_URL"},
	"openclaw.token":              {"OPENCLAW_GATEWAY_TOKEN"},
	"vps.url":                     {"VPS_URL"},
	"backup.key":                  {"MC_BACKUP_KEY"},
	"backup.s3.bucket":            {"MC_BACKUP_S3_BUCKET"},
	"backup.s3.region":            {"MC_BACKUP_S3_REGION", "AWS_REGION"},
	"backup.s3.endpoint":          {"MC_BACKUP_S3_ENDPOINT"},
	"backup.s3.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"backup.s3.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
	"logging.level":               {"MC_LOG_LEVEL"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile sets the dotenv file read before the environment is consulted.
// An empty path disables dotenv loading.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
		}
	}

	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix("MC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType(configType(configPath))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mission-control")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "mission-control.log")
	}

	return cfg, nil
}

// Save writes the configuration to the config path
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path available")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	v.Set("data_dir", cfg.DataDir)
	v.Set("server", cfg.Server)
	v.Set("admin", map[string]string{"username": cfg.Admin.Username})
	v.Set("session", cfg.Session)
	v.Set("weather", cfg.Weather)
	v.Set("backup", map[string]any{
		"retention": cfg.Backup.Retention,
		"schedule":  cfg.Backup.Schedule,
	})
	v.Set("digest", cfg.Digest)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("webhook", cfg.Webhook)
	v.Set("offline", cfg.Offline)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mission-control", "config.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
