// Package cli provides the command-line interface for inlet.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	verbose   bool

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "inlet",
	Short: "Pull content from external sources into a local store",
	Long:  "inlet fetches items from Hacker News, podcast and RSS feeds, Lobsters, Polymarket, Reddit, SEC EDGAR, and Telegram channels, normalizes them into a common shape, and stores them locally with per-source incremental cursors.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Credentials live in the environment; a .env file is a
		// convenience, not a requirement.
		_ = godotenv.Load()
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("inlet %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".inlet", "directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
