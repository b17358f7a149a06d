package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cricketstatspack/portal/internal/store"
)

const version = "0.1.0"

type app struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "statspack",
		Short:         "Cricket stats-pack subscription portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the configuration file")

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newPruneCmd(a),
	)
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()
			env.log.Info("migrations applied")
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the portal and API servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// newPruneCmd removes expired web sessions. The servers never schedule
// work of their own, so this is meant to run from cron or a k8s CronJob.
func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired web sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			n, err := store.New(env.db, env.log).DeleteExpiredSessions(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("prune sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions\n", n)
			return nil
		},
	}
}
