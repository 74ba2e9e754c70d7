package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hackboard",
		Short: "Terminal-themed kanban board with a live toast queue",
		Long: `hackboard serves a retro-terminal kanban board over HTTP.

Visitors get a per-browser toast queue (REST and websocket), accounts are
kept in memory or SQLite, and the config file is hot-reloaded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		checkConfigCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
