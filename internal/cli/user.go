package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/mission-control/internal/config"
	"github.com/harun/mission-control/pkg/auth"
	"github.com/harun/mission-control/pkg/jsonstore"
	"github.com/harun/mission-control/pkg/session"
	"github.com/spf13/cobra"
)

var (
	userPassword string
	userRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Register a user",
	Long: `Register a user in mc-users.json. A running server picks the change up
without a restart.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password, at least 8 characters")
	userAddCmd.Flags().StringVar(&userRole, "role", auth.RoleUser, "role (admin or user)")
	_ = userAddCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userAddCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}

// newAuthService opens the user store without sessions or metrics
func newAuthService(cfg *config.Config) (*auth.Service, error) {
	log, err := commandLogger(cfg)
	if err != nil {
		return nil, err
	}
	zl := log.GetZerolog()
	store := jsonstore.New(cfg.DataDir, zl)
	users := auth.NewUserStore(store, zl)
	return auth.NewService(
		auth.AdminCredential{Username: cfg.Admin.Username, Password: cfg.Admin.Password},
		users,
		session.NewStore(cfg.SessionTTL(), zl),
		auth.ServiceOptions{},
		zl,
	), nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	svc, err := newAuthService(cfg)
	if err != nil {
		return err
	}

	user, err := svc.CreateUser(args[0], userPassword, userRole)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "User %s added with role %s\n", user.Username, user.Role)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	svc, err := newAuthService(cfg)
	if err != nil {
		return err
	}

	users := svc.Users().List()
	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No registered users")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tCREATED\tLAST LOGIN")
	for _, u := range users {
		last := "never"
		if u.LastLogin != nil {
			last = u.LastLogin.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Username, u.Role, u.CreatedAt.Local().Format(time.RFC3339), last)
	}
	return tw.Flush()
}
