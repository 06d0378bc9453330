package cmd

import (
	"log"

	"github.com/avencel/guildmate/guildmate"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Guildmate bot, broadcast scheduler and dashboard API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := guildmate.New(cfg)
			if err != nil {
				log.Fatalf("error creating guildmate: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running guildmate: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
