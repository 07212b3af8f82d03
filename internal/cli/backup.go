package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/mission-control/internal/config"
	"github.com/harun/mission-control/pkg/backup"
	"github.com/spf13/cobra"
)

var restoreDest string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage encrypted backups",
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Write an encrypted backup of the data directory now",
	Args:  cobra.NoArgs,
	RunE:  runBackupRun,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Decrypt a backup into a directory",
	Long: `Decrypt a backup and write its data files into --dest.
A bare file name is looked up in the backup directory. The default
destination is a "restored" directory inside the data directory, so the
live files are only replaced when --dest names the data directory itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

func init() {
	backupRestoreCmd.Flags().StringVar(&restoreDest, "dest", "", "directory to restore into (default <data_dir>/restored)")

	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}

func newBackupJob(cfg *config.Config) (*backup.Job, error) {
	log, err := commandLogger(cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewJob(backup.Options{
		DataDir:   cfg.DataDir,
		BackupDir: cfg.BackupDir(),
		Key:       cfg.Backup.Key,
		Retention: cfg.Backup.Retention,
	}, log.Component("backup")), nil
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	job, err := newBackupJob(cfg)
	if err != nil {
		return err
	}

	res, err := job.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written: %s (%d files, %d bytes)\n",
		filepath.Join(job.Dir(), res.Filename), res.FileCount, res.Size)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	job, err := newBackupJob(cfg)
	if err != nil {
		return err
	}

	infos, err := job.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintf(out, "No backups in %s\n", job.Dir())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSIZE\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Filename, info.Size, info.Created.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Backup.Key == "" {
		return backup.ErrNoBackupKey
	}

	path := args[0]
	if !strings.ContainsRune(path, filepath.Separator) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join(cfg.BackupDir(), path)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	dest := restoreDest
	if dest == "" {
		dest = filepath.Join(cfg.DataDir, "restored")
	}

	payload, err := backup.Restore(data, cfg.Backup.Key, dest)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %d files from %s (taken %s) into %s\n",
		len(payload.Files), filepath.Base(path), payload.Timestamp.Local().Format(time.RFC3339), dest)
	return nil
}
