package cmd

import (
	"fmt"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and seed the default settings",
	Long: "Migrates the database, creates the runtime config and seeds the " +
		"role suffix and banned word tables if they're empty. Existing rows " +
		"are left alone.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return fmt.Errorf(
				"database type not set (%s must be one of: sqlite, postgres)",
				envKey("database_type"),
			)
		}
		if cfg.Database == "" {
			return fmt.Errorf(
				"database not set (%s must be a valid database connection "+
					"string or sqlite file path)",
				envKey("database"),
			)
		}

		summary, err := ginsilog.SetupDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database ready (%s).\n", cfg.DatabaseType)
		fmt.Fprintf(out, "Maintenance mode: %t\n", summary.RuntimeConfig.Maintenance)
		fmt.Fprintf(out, "Role suffixes: %d\n", summary.RoleSuffixes)
		fmt.Fprintf(out, "Banned words: %d\n", summary.BannedWords)
		fmt.Fprintf(out, "Users: %d\n", summary.Users)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
