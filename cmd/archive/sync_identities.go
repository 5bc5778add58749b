package main

import (
	"errors"

	"github.com/spf13/cobra"

	"archive_server/internal/bootstrap"
)

var syncIdentitiesCmd = &cobra.Command{
	Use:   "sync-identities",
	Short: "backfill sender identities from the identity service",
	Long: `Walks every sender without an external identity in pages of 1000
and asks the identity service for each one. Stops early when a whole page
yields nothing new or when the identity service goes down.`,
	RunE: runSyncIdentities,
}

func init() {
	rootCmd.AddCommand(syncIdentitiesCmd)
}

func runSyncIdentities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, cleanup, err := bootstrap.NewDependencies(cfg, bootstrap.Options{})
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()

	if deps.Enrich == nil {
		return errors.New("IDENTITY_SERVER is not configured")
	}
	enriched, err := deps.Enrich.SyncAllSenders(cmd.Context())
	deps.Log.Info().Int("enriched", enriched).Msg("identity sync finished")
	return err
}
