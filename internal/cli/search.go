package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/assembler"
	"github.com/scrypster/recall/internal/retrieval"
	"github.com/scrypster/recall/pkg/types"
)

func newSearchCmd(app func() *App) *cobra.Command {
	var (
		limit       int
		minScore    float64
		sessionID   string
		topics      []string
		sourceTypes []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored memories and print scored results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			opts := retrievalOptions(a.Config)
			if limit > 0 {
				opts.Limit = limit
			}
			if minScore > 0 {
				opts.MinScore = minScore
			}
			for _, st := range sourceTypes {
				opts.SourceTypes = append(opts.SourceTypes, types.SourceType(st))
			}

			var results []retrieval.Result
			var err error
			if sessionID != "" || len(topics) > 0 {
				results, err = a.Engine.SearchWithContext(cmd.Context(), args[0], topics, sessionID, opts)
			} else {
				results, err = a.Engine.Search(cmd.Context(), args[0], opts)
			}
			if err != nil {
				return err
			}

			if len(results) == 0 {
				cmd.Println("no results")
				return nil
			}
			for i, r := range results {
				cmd.Printf("%2d. [%.3f] (%s, imp %.2f) %s\n", i+1,
					r.FinalScore, r.Document.Metadata.SourceType,
					r.Document.Metadata.Importance, firstLine(r.Document.Content))
				if len(r.MatchedTopics) > 0 {
					cmd.Printf("    topics: %s\n", strings.Join(r.MatchedTopics, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum final score")
	cmd.Flags().StringVar(&sessionID, "session", "", "boost documents from this session")
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "conversation topics to blend into the query")
	cmd.Flags().StringSliceVar(&sourceTypes, "source-types", nil, "restrict to these source types")
	return cmd
}

func parseFormat(s string) assembler.Format {
	switch s {
	case "structured":
		return assembler.FormatStructured
	case "markdown":
		return assembler.FormatMarkdown
	default:
		return assembler.FormatPlain
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func newContextCmd(app func() *App) *cobra.Command {
	var (
		maxLength int
		maxDocs   int
		format    string
		sessionID string
		topics    []string
	)

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble a bounded context block for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			searchOpts := retrievalOptions(a.Config)
			asmOpts := assemblerOptions(a.Config)
			if maxLength > 0 {
				asmOpts.MaxLength = maxLength
			}
			if maxDocs > 0 {
				asmOpts.MaxDocuments = maxDocs
			}
			if format != "" {
				asmOpts.Format = parseFormat(format)
			}

			var err error
			var assembled *assembler.AssembledContext
			if sessionID != "" || len(topics) > 0 {
				assembled, err = a.Engine.BuildContextForSession(cmd.Context(), args[0], topics, sessionID, searchOpts, asmOpts)
			} else {
				assembled, err = a.Engine.BuildContext(cmd.Context(), args[0], searchOpts, asmOpts)
			}
			if err != nil {
				return err
			}
			cmd.Println(assembled.Content)
			cmd.Printf("\n-- %d of %d documents, ~%d tokens, truncated=%v\n",
				assembled.DocumentCount, assembled.TotalConsidered,
				assembled.EstimatedTokens, assembled.Truncated)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxLength, "max-length", 0, "character budget")
	cmd.Flags().IntVar(&maxDocs, "max-documents", 0, "document cap")
	cmd.Flags().StringVar(&format, "format", "", "plain, structured or markdown")
	cmd.Flags().StringVar(&sessionID, "session", "", "boost documents from this session")
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "conversation topics to blend into the query")
	return cmd
}
