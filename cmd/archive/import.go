package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"archive_server/core/domain"
	"archive_server/core/service/importer"
	"archive_server/internal/bootstrap"
)

var (
	importList       string
	importSince      string
	importContinue   bool
	importNoDownload bool
	importDuplicates bool
)

var importCmd = &cobra.Command{
	Use:   "import --list FQDN mbox...",
	Short: "bulk-import mbox archives into a list",
	Long: `Imports every message of the given mbox files, committing one
message at a time so a broken message never poisons the batch. Search
indexing is buffered and flushed once per file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importList, "list", "", "fully-qualified list address (required)")
	importCmd.Flags().StringVar(&importSince, "since", "", "only import messages after this date (YYYY-MM-DD)")
	importCmd.Flags().BoolVar(&importContinue, "continue", false, "resume from the latest archived date")
	importCmd.Flags().BoolVar(&importNoDownload, "no-download", false, "skip downloading scrubbed attachment URLs")
	importCmd.Flags().BoolVar(&importDuplicates, "duplicates", false, "import duplicate message-ids under a random suffix")
	_ = importCmd.MarkFlagRequired("list")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	opts := importer.Options{
		Continue:        importContinue,
		ForceDuplicates: importDuplicates,
	}
	if importSince != "" {
		since, err := time.Parse("2006-01-02", importSince)
		if err != nil {
			return fmt.Errorf("invalid --since date: %w", err)
		}
		opts.Since = since.UTC()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, cleanup, err := bootstrap.NewDependencies(cfg, bootstrap.Options{
		DelayedIndex: true,
		NoDownload:   importNoDownload,
	})
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	list, err := deps.Store.GetList(ctx, importList)
	if err != nil {
		return err
	}
	if list == nil {
		list = &domain.List{Name: importList, ArchivePolicy: domain.ArchivePublic}
	}

	total := 0
	for _, path := range args {
		n, err := deps.Importer.ImportFile(ctx, list, path, opts)
		total += n
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
	}
	deps.Log.Info().Int("imported", total).Msg("import complete")
	return nil
}
