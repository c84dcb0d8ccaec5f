package cmd

import (
	"fmt"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf(
		"version=%s commit=%s built: %s",
		ginsilog.Version,
		ginsilog.CommitSHA,
		ginsilog.BuildTime,
	)
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
