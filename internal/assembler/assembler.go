// Package assembler packs ranked retrieval results into a bounded-length,
// bounded-count context block for a language model.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/recall/internal/retrieval"
	"github.com/scrypster/recall/pkg/types"
)

// Format selects how entries are rendered.
type Format string

const (
	FormatPlain      Format = "plain"
	FormatStructured Format = "structured"
	FormatMarkdown   Format = "markdown"
)

// truncationHeadroom is the overflow beyond the remaining budget above
// which an entry is hard-truncated instead of dropped outright.
const truncationHeadroom = 200

// Options configures assembly.
type Options struct {
	// MaxLength is the character cap on the assembled block (default: 4000).
	MaxLength int

	// MaxDocuments is the cap on packed entries (default: 10).
	MaxDocuments int

	// IncludeMetadata renders source type and score alongside content.
	IncludeMetadata bool

	// Format selects plain, structured or markdown rendering.
	Format Format

	// PrioritySourceTypes orders entries: a type's index in this list is
	// its primary sort key. Types not listed sort last, falling back to
	// score order among themselves.
	PrioritySourceTypes []types.SourceType
}

// DefaultOptions returns the standard assembly options.
func DefaultOptions() Options {
	return Options{
		MaxLength:    4000,
		MaxDocuments: 10,
		Format:       FormatPlain,
		PrioritySourceTypes: []types.SourceType{
			types.SourceFact,
			types.SourcePreference,
			types.SourceTask,
			types.SourceContext,
			types.SourceConversation,
		},
	}
}

// AssembledContext is the packed output.
type AssembledContext struct {
	// Content is the assembled text block.
	Content string

	// DocumentCount is the number of entries packed into Content.
	DocumentCount int

	// TotalConsidered is the number of candidates supplied.
	TotalConsidered int

	// Truncated reports that not everything supplied fit the budget.
	Truncated bool

	// EstimatedTokens is ceil(len(Content) / 4).
	EstimatedTokens int
}

// AssembleFromResults reorders results by source-type priority then score,
// and packs formatted entries until the document or character budget runs
// out. A single entry overflowing the remaining budget by more than the
// truncation headroom is hard-truncated with an ellipsis; a smaller
// overflow just stops packing without the offending entry.
func AssembleFromResults(results []retrieval.Result, opts Options) *AssembledContext {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultOptions().MaxLength
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = DefaultOptions().MaxDocuments
	}
	if opts.Format == "" {
		opts.Format = FormatPlain
	}

	out := &AssembledContext{TotalConsidered: len(results)}

	ordered := make([]retrieval.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi := priorityIndex(ordered[i].Document.Metadata.SourceType, opts.PrioritySourceTypes)
		pj := priorityIndex(ordered[j].Document.Metadata.SourceType, opts.PrioritySourceTypes)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].FinalScore > ordered[j].FinalScore
	})

	var sb strings.Builder
	for _, r := range ordered {
		if out.DocumentCount >= opts.MaxDocuments {
			out.Truncated = true
			break
		}

		entry := formatEntry(r, opts)
		remaining := opts.MaxLength - sb.Len()
		if len(entry) > remaining {
			out.Truncated = true
			if len(entry)-remaining > truncationHeadroom && remaining > 3 {
				sb.WriteString(entry[:remaining-3])
				sb.WriteString("...")
				out.DocumentCount++
			}
			break
		}

		sb.WriteString(entry)
		out.DocumentCount++
	}

	out.Content = sb.String()
	out.EstimatedTokens = (len(out.Content) + 3) / 4
	return out
}

// priorityIndex returns the position of st in priorities, or len(priorities)
// when absent so unlisted types compare equal and sort last.
func priorityIndex(st types.SourceType, priorities []types.SourceType) int {
	for i, p := range priorities {
		if p == st {
			return i
		}
	}
	return len(priorities)
}

// formatEntry renders one result in the configured format, trailing
// newline included so entries concatenate cleanly.
func formatEntry(r retrieval.Result, opts Options) string {
	doc := r.Document
	switch opts.Format {
	case FormatMarkdown:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("- **%s**", doc.Metadata.SourceType))
		if opts.IncludeMetadata {
			sb.WriteString(fmt.Sprintf(" (score %.2f)", r.FinalScore))
		}
		sb.WriteString(": ")
		sb.WriteString(doc.Content)
		sb.WriteString("\n")
		return sb.String()
	case FormatStructured:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("[%s]", doc.Metadata.SourceType))
		if opts.IncludeMetadata {
			sb.WriteString(fmt.Sprintf(" score=%.2f topics=%s", r.FinalScore, strings.Join(doc.Metadata.Topics, ",")))
		}
		sb.WriteString("\n")
		sb.WriteString(doc.Content)
		sb.WriteString("\n\n")
		return sb.String()
	default:
		return doc.Content + "\n"
	}
}
