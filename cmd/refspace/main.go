package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	// Application info
	appName    = "refspace"
	appVersion = "0.1.0"
)

var (
	// Global flags
	logLevel string
	timeout  time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Share live objects and functions between peers",
		Long: `refspace runs nodes that export objects and functions to their peers,
calls them remotely over TCP, and inspects a node through its HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for client operations")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newRefsCommand())
	rootCmd.AddCommand(newPeersCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	})
	return rootCmd
}
