package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/pkg/types"
)

func newConsolidateCmd(app func() *App) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "consolidate <conversation.json>",
		Short: "Chunk a conversation file and store its memory documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read conversation: %w", err)
			}
			var conv types.Conversation
			if err := json.Unmarshal(data, &conv); err != nil {
				return fmt.Errorf("parse conversation: %w", err)
			}
			if conv.ID == "" {
				return fmt.Errorf("conversation has no id")
			}

			result, err := app().Engine.ProcessConversation(cmd.Context(), &conv, sessionID)
			if err != nil {
				return err
			}
			cmd.Printf("consolidated %s: %d chunks, %d documents stored\n",
				conv.ID, result.Chunks, len(result.Documents))
			for _, doc := range result.Documents {
				cmd.Printf("  %s imp=%.2f topics=%v\n", doc.ID, doc.Metadata.Importance, doc.Metadata.Topics)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session ID to tag the documents with")
	return cmd
}
