package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/session"
)

func newSessionCmd(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage session contexts",
	}
	cmd.AddCommand(
		newSessionStartCmd(app),
		newSessionEndCmd(app),
		newSessionWelcomeCmd(app),
		newSessionListCmd(app),
	)
	return cmd
}

func newSessionStartCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Start a new session context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			sc, err := a.Sessions.StartContext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Sessions.SaveDirty(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("started context %s for session %s\n", sc.ID, sc.SessionID)
			return nil
		},
	}
}

func newSessionEndCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the active session context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if err := a.Sessions.EndContext(cmd.Context()); err != nil {
				return err
			}
			return a.Sessions.SaveDirty(cmd.Context())
		},
	}
}

func newSessionWelcomeCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "welcome",
		Short: "Print a welcome-back summary of recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := app().Sessions.GenerateWelcomeBackSummary(cmd.Context())
			if err != nil {
				return err
			}
			if summary == "" {
				cmd.Println("no past sessions")
				return nil
			}
			cmd.Println(summary)
			return nil
		},
	}
}

func newSessionListCmd(app func() *App) *cobra.Command {
	var minRelevance float64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session contexts by relevance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := app().Sessions.RetrieveRelevantContext(session.RetrieveOptions{
				MinRelevance: minRelevance,
				Limit:        50,
			})
			if len(results) == 0 {
				cmd.Println("no session contexts")
				return nil
			}
			for _, r := range results {
				sc := r.Context
				state := "active"
				if sc.Ended() {
					state = "ended"
				}
				cmd.Printf("%s  session=%s  rel=%.2f  %s  topics=%s\n",
					sc.ID, sc.SessionID, sc.Relevance, state, strings.Join(sc.Topics, ","))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minRelevance, "min-relevance", 0, "relevance floor")
	return cmd
}
