package main

import (
	"github.com/spf13/cobra"

	"archive_server/config"
)

var rootCmd = &cobra.Command{
	Use:   "archive",
	Short: "mailing-list email archive engine",
	Long: `Stores mailing-list traffic into a relational archive: threading,
MIME scrubbing, full-text search, vote and activity aggregates, and an
external-identity enricher. Settings come from the environment (STORE_URL,
SEARCH_INDEX, IDENTITY_SERVER, ...), optionally via a local .env file.`,
	SilenceUsage: true,
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}
