// Package main provides the entry point for the slide narrator CLI, API server and queue worker.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	databaseURL string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Slide narrator job pipeline",
	Long: `Narrator transcribes slide documents into per-page speeches and synthesizes
them into a narrated HLS video. Jobs are checkpointed after every stage and
can be resumed or reset after a failure.

Configuration can be loaded from a JSON or YAML file using --config. Flags
override file values and the environment fills connection strings and keys.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config.json or config.yaml file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline internals to stderr")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
