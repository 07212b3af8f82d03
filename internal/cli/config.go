package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/mission-control/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const masked = "********"

var initForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a config file holding the default settings.
Secrets are never written; supply them through the environment or .env.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(maskSecrets(*cfg)); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	for _, missing := range config.NewValidator().MissingOptional(cfg) {
		fmt.Fprintf(cmd.ErrOrStderr(), "# %s\n", missing)
	}
	return nil
}

// maskSecrets returns a copy of cfg with every credential replaced
func maskSecrets(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.Admin.Password,
		&cfg.GitHub.Token,
		&cfg.GitHub.WebhookSecret,
		&cfg.Stripe.SecretKey,
		&cfg.Stripe.WebhookSecret,
		&cfg.Telegram.BotToken,
		&cfg.OpenClaw.Token,
		&cfg.Backup.Key,
		&cfg.Backup.S3.AccessKeyID,
		&cfg.Backup.S3.SecretAccessKey,
	} {
		if *s != "" {
			*s = masked
		}
	}
	return cfg
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("no config path available")
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Dir(path)
	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set MC_PASSWORD, then start the server with: mission-control serve")
	return nil
}
