// Command research-cli is a thin client over research-server's HTTP surface
// (spec §6.1): start a run, follow its event stream, or cancel it. Command
// wiring follows teradata-labs/loom's workflow subcommand layout (root
// command with flag-bearing subcommands registered from package init).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "research-cli",
	Short: "Drive a research-server run from the command line",
	Long: `research-cli starts, follows, and cancels research runs against a
running research-server instance.

Examples:
  # Start a run and follow it to completion
  research-cli start "quantum error correction" --depth deep --type academic

  # Reattach to an in-flight session's event stream
  research-cli follow session_01HZ3K

  # Cancel a running session
  research-cli cancel session_01HZ3K`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOrDefault("RESEARCH_SERVER_ADDR", "http://localhost:8080"), "research-server base URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
