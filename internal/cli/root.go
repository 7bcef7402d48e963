package cli

import (
	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/config"
)

// NewRootCmd builds the recall command tree. The App is wired once in the
// persistent pre-run so every subcommand shares the same collaborators.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		app        *App
	)

	root := &cobra.Command{
		Use:           "recall",
		Short:         "Memory consolidation and retrieval engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadConfigFromFile(configPath)
			} else {
				cfg, err = config.LoadConfig()
			}
			if err != nil {
				return err
			}
			app, err = NewApp(cfg)
			return err
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (environment overrides it)")

	appRef := func() *App { return app }
	root.AddCommand(
		newSearchCmd(appRef),
		newContextCmd(appRef),
		newConsolidateCmd(appRef),
		newSessionCmd(appRef),
		newExportCmd(appRef),
		newImportCmd(appRef),
		newValidateCmd(appRef),
		newScheduleCmd(appRef),
		newWatchCmd(appRef),
	)
	return root
}
