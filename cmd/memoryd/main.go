// Memoryd is a persistent memory daemon for coding assistants.
//
// The daemon owns the context store, the retrieval engine and the background
// consolidation pipeline, and exposes a small ops API over HTTP. The
// remaining subcommands are clients for that API.
//
// Configuration is loaded from a YAML file and MEMORYD_-prefixed environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	memoryd serve
//
//	# Start with an explicit config file
//	MEMORYD_SERVER__HTTP_PORT=9191 memoryd serve --config ./config.yaml
//
//	# Inspect a running daemon
//	memoryd health
//	memoryd stats
//	memoryd cleanup
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// serverURL is the base URL the client subcommands talk to.
var serverURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Persistent memory daemon for coding assistants",
	Long: `memoryd stores context items in a vector store, retrieves them with
ranked search strategies and consolidates recurring experiences into
long-term memory. The serve command runs the daemon; health, stats and
cleanup talk to a running daemon over HTTP.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "memoryd server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints full build information; the --version flag prints only
// the bare version string.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("memoryd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
