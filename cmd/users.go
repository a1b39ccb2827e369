package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/astro-dispatch/internal/admin"
	"github.com/Vovarama1992/astro-dispatch/internal/config"
	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and manage users",
	Long: `Manage bot users in the database.

Available subcommands:
  list                  - List all users ordered by priority
  get <id>              - Show one user
  activate <id>         - Allow the user to send requests
  deactivate <id>       - Reject the user's requests at the gate
  priority <id> <1-10>  - Change the priority tier (lower is served first)`,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users ordered by priority",
	Args:  cobra.NoArgs,
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, _ []string) error {
		users, err := svc.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printUsers(cmd.OutOrStdout(), users)
	}),
}

var userGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one user",
	Args:  cobra.ExactArgs(1),
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		rec, err := svc.GetUser(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	}),
}

var userActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Allow the user to send requests",
	Args:  cobra.ExactArgs(1),
	RunE:  withAdmin(setActive(true)),
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Reject the user's requests at the gate",
	Args:  cobra.ExactArgs(1),
	RunE:  withAdmin(setActive(false)),
}

var userPriorityCmd = &cobra.Command{
	Use:   "priority <id> <level>",
	Short: "Change the priority tier; queued requests keep their old priority",
	Args:  cobra.ExactArgs(2),
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid priority %q", args[1])
		}
		rec, err := svc.SetPriority(ctx, id, level)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d priority set to %d\n", rec.ID, rec.Priority)
		return nil
	}),
}

func init() {
	userCmd.AddCommand(userListCmd, userGetCmd, userActivateCmd, userDeactivateCmd, userPriorityCmd)
}

type adminFunc func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, args []string) error

// withAdmin opens the configured stores for a one-shot command. The memory backend
// lives inside the serving process, so there is nothing to inspect from here.
func withAdmin(fn adminFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.QueueBackend != config.BackendPostgres || cfg.DatabaseURL == "" {
			return errors.New("CLI admin commands need QUEUE_BACKEND=postgres and DATABASE_URL; use the HTTP admin API for the memory backend")
		}

		a, err := newApp(cmd.Context(), cfg, logger, adminNeeds())
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd.Context(), cmd, a.adminService(), args)
	}
}

func setActive(active bool) adminFunc {
	return func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		rec, err := svc.SetActive(ctx, id, active)
		if err != nil {
			return err
		}
		state := "deactivated"
		if rec.Active {
			state = "activated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d %s\n", rec.ID, state)
		return nil
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func printUsers(w io.Writer, users []user.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUSERNAME\tPRIORITY\tACTIVE\tONBOARDING")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\t%s\n",
			u.ID, u.FirstName, u.Username, u.Priority, u.Active, u.OnboardingState)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
