package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/models"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistantbot",
		Short:         "Telegram AI assistant bot with paid subscriptions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newActivateCmd(),
		newSweepCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the HTTP server and the subscription sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, dialect, err := database.Connect(cfg)
			if err != nil {
				return fmt.Errorf("database connect: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db, dialect); err != nil {
				return fmt.Errorf("database migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", dialect)
			return nil
		},
	}
}

func newActivateCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "activate <user_id>",
		Short: "Grant a subscription by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			if days < 0 {
				return fmt.Errorf("days must be positive")
			}
			a, err := newCore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			expires, err := a.admin.Grant(cmd.Context(), a.cfg.AdminID, userID, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d subscribed until %s\n", userID, models.FormatDate(expires))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "subscription length in days (default SUBSCRIPTION_DAYS)")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed subscriptions once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newCore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.sweeper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired: %d, reminded: %d\n", len(report.Expired), report.Reminded)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assistantbot %s\n", Version)
			if GitCommit != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
			}
		},
	}
}
