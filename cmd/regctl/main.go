// Command regctl is the operator CLI driving ingestion, the query API, and
// validation reports (spec.md §6.8). Its command tree follows
// cortex-coder-agent's cobra setup: a root command with persistent
// --config/--verbose flags and RunE-returning subcommands that translate
// errors into the exit codes spec.md §6.8 assigns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "regctl",
	Short: "Operator CLI for the regulatory compliance ingestion and retrieval core",
	Long: `regctl drives the four ingestion families (federal, state, county,
municipal), serves the query/retrieval HTTP API, and runs coverage/quality
validation against the vector index.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML); REGCORE_ env vars also apply")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable development-mode logging")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(ingestUnitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

// Exit codes per spec.md §6.8: 0 success, 1 configuration error, 2 partial
// failure, 3 unrecoverable error.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitPartial = 2
	exitFatal   = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}
