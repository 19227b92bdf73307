package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomlink",
		Short: "Terminal client for ephemeral chat rooms",
		Long: `Roomlink is a terminal client for ephemeral chat rooms.

Join a room, talk, share files, and walk away: rooms and their
contents live only as long as the session. The client keeps the
conversation alive across network drops with automatic reconnection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		joinCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
