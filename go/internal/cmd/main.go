package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "racesync",
	Short: "Multiplayer race room gateway",
	Long: `racesync runs the websocket gateway that keeps racers in a room in sync,
and a headless driver that joins a room and laps the track.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	rootCmd.AddCommand(newServeCmd(), newDriveCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
