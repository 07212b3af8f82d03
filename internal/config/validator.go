package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ValidateSchedule validates a five-field cron expression
func (v *Validator) ValidateSchedule(name, expr string) error {
	if expr == "" {
		return fmt.Errorf("%s schedule cannot be empty", name)
	}
	if _, err := v.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
	}
	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateURL validates an absolute URL with one of the given schemes
func (v *Validator) ValidateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s url: %w", name, err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s url %q: missing host", name, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s url %q: scheme must be one of %s", name, raw, strings.Join(schemes, ", "))
}

// ValidateTrustedProxy validates a CIDR or bare IP
func (v *Validator) ValidateTrustedProxy(entry string) error {
	if net.ParseIP(entry) != nil {
		return nil
	}
	if _, _, err := net.ParseCIDR(entry); err != nil {
		return fmt.Errorf("invalid webhook trusted proxy %q", entry)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be: debug, info, warn, error)", level)
}

// ValidateConfig validates the whole configuration and returns every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateSchedule("backup", cfg.Backup.Schedule); err != nil {
		errs = append(errs, err)
	}
	if cfg.Digest.Enabled {
		if err := v.ValidateSchedule("digest", cfg.Digest.Schedule); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.VPS.URL != "" {
		if err := v.ValidateURL("vps", cfg.VPS.URL, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.OpenClaw.URL != "" {
		if err := v.ValidateURL("openclaw", cfg.OpenClaw.URL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range cfg.Webhook.TrustedProxies {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if err := v.ValidateTrustedProxy(p); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Backup.S3.Bucket != "" && cfg.Backup.S3.Region == "" {
		errs = append(errs, fmt.Errorf("backup s3 region is required when a bucket is set"))
	}

	return errs
}

// MissingOptional lists optional integrations that are not configured.
// Each entry names the environment variable and the feature that degrades without it.
func (v *Validator) MissingOptional(cfg *Config) []string {
	var missing []string
	check := func(value, env, feature string) {
		if value == "" {
			missing = append(missing, fmt.Sprintf("%s not set: %s", env, feature))
		}
	}

	check(cfg.GitHub.Token, "GITHUB_TOKEN", "GitHub widgets return errors")
	check(cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY", "Stripe widgets are degraded")
	check(cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN", "digest and alerts are not delivered")
	if cfg.Telegram.ChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID not set: digest and alerts are not delivered")
	}
	check(cfg.Backup.Key, "MC_BACKUP_KEY", "encrypted backups are disabled")
	check(cfg.OpenClaw.Token, "OPENCLAW_GATEWAY_TOKEN", "agent gateway widgets are degraded")
	check(cfg.VPS.URL, "VPS_URL", "/api/proxy and /api/auth return 502")

	return missing
}
