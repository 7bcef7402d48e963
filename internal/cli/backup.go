package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/backup"
	"github.com/scrypster/recall/internal/notify"
)

func newExportCmd(app func() *App) *cobra.Command {
	var compress bool

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export all memory state to a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := app().NewExporter()
			if err != nil {
				return err
			}
			result, err := exporter.ExportToFile(cmd.Context(), args[0], backup.ExportOptions{Compress: compress})
			if err != nil {
				return err
			}
			cmd.Printf("exported %d entries, %d summaries, %d conversations, %d vectors to %s (%d bytes)\n",
				result.Entries, result.Summaries, result.Conversations, result.Vectors, result.Path, result.Size)
			return nil
		},
	}

	cmd.Flags().BoolVar(&compress, "compress", true, "gzip the backup")
	return cmd
}

func newImportCmd(app func() *App) *cobra.Command {
	var (
		mode           string
		strategy       string
		convStrategy   string
		transformIDs   bool
		dryRun         bool
		skipValidation bool
		minImportance  float64
		after, before  string
		showProgress   bool

		includeEntries       bool
		includeSummaries     bool
		includeConversations bool
		includeVectors       bool
	)

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a backup file into live memory state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := app().NewImporter()
			if err != nil {
				return err
			}

			opts := backup.ImportOptions{
				Mode:                 backup.Mode(mode),
				Strategy:             backup.Strategy(strategy),
				ConversationStrategy: backup.Strategy(convStrategy),
				TransformIDs:         transformIDs,
				DryRun:               dryRun,
				SkipValidation:       skipValidation,
				MinImportance:        minImportance,
				SkipEntries:          !includeEntries,
				SkipSummaries:        !includeSummaries,
				SkipConversations:    !includeConversations,
				SkipVectors:          !includeVectors,
			}
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("parse --after: %w", err)
				}
				opts.From = t
			}
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("parse --before: %w", err)
				}
				opts.To = t
			}
			if showProgress {
				opts.OnProgress = func(p backup.Progress) {
					if p.Total > 0 {
						cmd.Printf("  %s %d/%d (conflicts=%d skipped=%d)\n",
							p.Phase, p.Processed, p.Total, p.Conflicts, p.Skipped)
					} else {
						cmd.Printf("  %s\n", p.Phase)
					}
				}
			}

			result := importer.ImportFromFile(cmd.Context(), args[0], opts)
			printImportResult(cmd, result)
			if !result.Success {
				return fmt.Errorf("import failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "merge", "merge or replace")
	cmd.Flags().StringVar(&strategy, "strategy", "keep_newer", "conflict strategy: keep_existing, use_imported, keep_newer, keep_higher_importance")
	cmd.Flags().StringVar(&convStrategy, "conversation-strategy", "", "conversation conflict strategy (additionally: merged)")
	cmd.Flags().BoolVar(&transformIDs, "transform-ids", false, "suffix incoming IDs to avoid collisions")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without mutating state")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "import even when validation fails")
	cmd.Flags().Float64Var(&minImportance, "min-importance", 0, "drop entries below this importance")
	cmd.Flags().StringVar(&after, "after", "", "only records created after this RFC3339 time")
	cmd.Flags().StringVar(&before, "before", "", "only records created before this RFC3339 time")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print per-phase progress")
	cmd.Flags().BoolVar(&includeEntries, "include-entries", true, "import entry records")
	cmd.Flags().BoolVar(&includeSummaries, "include-summaries", true, "import summary records")
	cmd.Flags().BoolVar(&includeConversations, "include-conversations", true, "import conversation records")
	cmd.Flags().BoolVar(&includeVectors, "include-vectors", true, "import vector records")
	return cmd
}

func printImportResult(cmd *cobra.Command, result *backup.ImportResult) {
	if result.Validation != nil {
		for _, w := range result.Validation.Warnings {
			cmd.Printf("warning [%s]: %s\n", w.Code, w.Message)
		}
		for _, e := range result.Validation.Errors {
			cmd.Printf("error [%s]: %s\n", e.Code, e.Message)
		}
	}
	cmd.Printf("success=%v entries=%d summaries=%d conversations=%d vectors=%d conflicts=%d skipped=%d duration=%v\n",
		result.Success, result.Stats.Entries, result.Stats.Summaries,
		result.Stats.Conversations, result.Stats.Vectors, result.Stats.Conflicts,
		result.Stats.Skipped, result.Stats.Duration.Round(time.Millisecond))
}

func newValidateCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a backup file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := backup.ValidateFile(args[0])
			for _, w := range result.Warnings {
				cmd.Printf("warning [%s]: %s\n", w.Code, w.Message)
			}
			for _, e := range result.Errors {
				cmd.Printf("error [%s]: %s\n", e.Code, e.Message)
			}
			cmd.Printf("valid=%v entries=%d summaries=%d conversations=%d vectors=%d\n",
				result.Valid, result.Stats.Entries, result.Stats.Summaries,
				result.Stats.Conversations, result.Stats.Vectors)
			if !result.Valid {
				return fmt.Errorf("backup is not valid")
			}
			return nil
		},
	}
}

func newScheduleCmd(app func() *App) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run periodic exports with retention pruning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if !a.Config.Backup.Enabled {
				return fmt.Errorf("scheduled backups are disabled: set RECALL_BACKUP_ENABLED=true")
			}
			scheduler, err := a.NewScheduler()
			if err != nil {
				return err
			}
			if runNow {
				result, err := scheduler.ExportNow(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("exported %d entries, %d summaries to %s\n",
					result.Entries, result.Summaries, result.Path)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- scheduler.Start(cmd.Context()) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && cmd.Context().Err() == nil {
					return err
				}
			case <-sigCh:
				_ = scheduler.Stop()
				<-errCh
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "export immediately before the first tick")
	return cmd
}

func newWatchCmd(app func() *App) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory and validate arriving backup files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if dir == "" {
				dir = a.Config.Backup.WatchDir
			}
			if dir == "" {
				return fmt.Errorf("no watch directory: set --dir or RECALL_BACKUP_WATCH_DIR")
			}

			watcher := notify.NewDropWatcher(dir, func(path string) {
				result := backup.ValidateFile(path)
				cmd.Printf("%s: valid=%v errors=%d warnings=%d\n",
					path, result.Valid, len(result.Errors), len(result.Warnings))
			})
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-cmd.Context().Done():
			case <-sigCh:
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch")
	return cmd
}
