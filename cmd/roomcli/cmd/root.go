package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagServer string

var rootCmd = &cobra.Command{
	Use:   "roomcli",
	Short: "Join jamroom audio rooms from the terminal",
	Long:  `roomcli talks to a jamroom signaling server: list the live room directory, or join a room as a full-mesh voice participant.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:3001", "jamroom server base URL")
}
