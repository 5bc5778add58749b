package main

import (
	"context"

	"github.com/spf13/cobra"

	"archive_server/adapter/out/search"
	"archive_server/core/domain"
	searchsvc "archive_server/core/service/search"
	"archive_server/internal/bootstrap"
)

var updatedbCmd = &cobra.Command{
	Use:   "updatedb",
	Short: "apply pending schema migrations",
	Long: `Brings the database schema to the head revision and, when the
search index predates the current document layout, rebuilds it from the
store.`,
	RunE: runUpdatedb,
}

func init() {
	rootCmd.AddCommand(updatedbCmd)
}

func runUpdatedb(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, cleanup, err := bootstrap.NewDependencies(cfg, bootstrap.Options{SkipSchemaCheck: true})
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := deps.Store.Migrate(ctx); err != nil {
		return err
	}
	deps.Log.Info().Msg("schema is at head revision")

	if deps.Index != nil && deps.Index.NeedsRebuild() {
		deps.Log.Info().Str("path", cfg.SearchIndex).
			Msg("search index layout is outdated, rebuilding from the store")
		if err := rebuildIndex(ctx, deps, cfg.SearchIndex); err != nil {
			return err
		}
	}
	return nil
}

// rebuildIndex drops the on-disk index and refills it from every archived
// email, committing in batches through a delayed index.
func rebuildIndex(ctx context.Context, deps *bootstrap.Dependencies, path string) error {
	if err := deps.Index.Close(); err != nil {
		return err
	}
	index, err := search.Rebuild(path, deps.Log)
	if err != nil {
		return err
	}
	deps.Index = index
	delayed := searchsvc.NewDelayedIndex(index)

	lists := map[string]*domain.List{}
	all, err := deps.Store.GetLists(ctx)
	if err != nil {
		return err
	}
	for _, list := range all {
		lists[list.Name] = list
	}

	indexed := 0
	err = deps.Store.ForEachMessage(ctx, 1000, func(email *domain.Email) error {
		list := lists[email.ListName]
		if list == nil {
			return nil
		}
		attachments, err := deps.Store.GetAttachments(ctx, email.ListName, email.MessageID)
		if err != nil {
			return err
		}
		flat := make([]domain.Attachment, 0, len(attachments))
		for _, att := range attachments {
			flat = append(flat, *att)
		}
		if err := delayed.Add(ctx, searchsvc.BuildDoc(list, email, flat)); err != nil {
			return err
		}
		indexed++
		if indexed%1000 == 0 {
			return delayed.Flush(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := delayed.Flush(ctx); err != nil {
		return err
	}
	deps.Log.Info().Int("indexed", indexed).Msg("search index rebuilt")
	return nil
}
