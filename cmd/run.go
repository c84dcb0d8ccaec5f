package cmd

import (
	"fmt"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and its health server",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}
)

func runBot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	bot, err := ginsilog.New(cfg)
	if err != nil {
		return fmt.Errorf("error creating bot: %w", err)
	}

	if err = bot.Run(ctx); err != nil {
		return fmt.Errorf("error running bot: %w", err)
	}
	return nil
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
