// Package summarizer reduces stored detail for lower-importance material.
//
// Single documents are reduced to one of three tiers based on importance;
// groups of documents are fused into one summary using an extractive,
// abstractive (LLM-backed with deterministic fallback) or hybrid strategy.
package summarizer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Strategy selects how a group summary is produced.
type Strategy string

const (
	StrategyExtractive  Strategy = "extractive"
	StrategyAbstractive Strategy = "abstractive"
	StrategyHybrid      Strategy = "hybrid"
)

// Tier is the retention level chosen for a single document.
type Tier string

const (
	TierFull       Tier = "full"
	TierLight      Tier = "light"
	TierAggressive Tier = "aggressive"
)

// Config controls summarization behaviour.
type Config struct {
	// Strategy is the group-summary strategy (default: extractive).
	Strategy Strategy

	// TargetLength is the character budget for group summaries (default: 500).
	TargetLength int

	// FullDetailThreshold keeps documents at or above this importance
	// untouched (default: 0.8).
	FullDetailThreshold float64

	// LightSummaryThreshold applies light summarization at or above this
	// importance; below it summarization is aggressive (default: 0.5).
	LightSummaryThreshold float64

	// EnableLLMSummarization allows the abstractive strategy to call the
	// completion collaborator.
	EnableLLMSummarization bool
}

// DefaultConfig returns the standard summarizer configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:               StrategyExtractive,
		TargetLength:           500,
		FullDetailThreshold:    0.8,
		LightSummaryThreshold:  0.5,
		EnableLLMSummarization: false,
	}
}

// SummarizationResult is the outcome of fusing a group of documents.
type SummarizationResult struct {
	Summary          string
	Topics           []string
	Importance       float64
	SourceIDs        []string
	Strategy         Strategy
	CompressionRatio float64
}

// Summarizer reduces documents to summaries.
type Summarizer struct {
	cfg       Config
	completer llm.Completer // nil means the collaborator is absent
}

// New creates a Summarizer. completer may be nil; the abstractive strategy
// then always falls back to extractive output.
func New(cfg Config, completer llm.Completer) *Summarizer {
	if cfg.TargetLength <= 0 {
		cfg.TargetLength = DefaultConfig().TargetLength
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExtractive
	}
	return &Summarizer{cfg: cfg, completer: completer}
}

// TierFor classifies a document into a retention tier by importance.
func (s *Summarizer) TierFor(doc *types.MemoryDocument) Tier {
	switch {
	case doc.Metadata.Importance >= s.cfg.FullDetailThreshold:
		return TierFull
	case doc.Metadata.Importance >= s.cfg.LightSummaryThreshold:
		return TierLight
	default:
		return TierAggressive
	}
}

// SummarizeDocument reduces a single document's content to its tier:
// full returns the content unchanged, light keeps the top 70% of sentences
// by score, aggressive keeps the top 30% (at least one sentence). Kept
// sentences are restored to their original order.
func (s *Summarizer) SummarizeDocument(doc *types.MemoryDocument) string {
	switch s.TierFor(doc) {
	case TierFull:
		return doc.Content
	case TierLight:
		return keepTopSentences(doc.Content, 0.7)
	default:
		return keepTopSentences(doc.Content, 0.3)
	}
}

// SummarizeGroup fuses docs into one summary. Content, topics and a
// content-length-weighted average importance are merged across all inputs;
// the summary text comes from the configured strategy.
func (s *Summarizer) SummarizeGroup(ctx context.Context, docs []*types.MemoryDocument) (*SummarizationResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("summarizer: no documents to summarize")
	}

	result := &SummarizationResult{
		Topics:   mergeTopics(docs),
		Strategy: s.cfg.Strategy,
	}
	totalLen := 0
	weighted := 0.0
	for _, doc := range docs {
		result.SourceIDs = append(result.SourceIDs, doc.ID)
		totalLen += len(doc.Content)
		weighted += doc.Metadata.Importance * float64(len(doc.Content))
	}
	if totalLen > 0 {
		result.Importance = types.ClampImportance(weighted / float64(totalLen))
	}

	switch s.cfg.Strategy {
	case StrategyAbstractive:
		result.Summary = s.abstractive(ctx, docs)
	case StrategyHybrid:
		result.Summary = s.hybrid(docs, result.Topics)
	default:
		result.Summary = s.extractive(docs)
	}

	if totalLen == 0 {
		result.CompressionRatio = 1.0
	} else {
		result.CompressionRatio = float64(len(result.Summary)) / float64(totalLen)
	}
	return result, nil
}

// extractive ranks every sentence from every document by
// sentenceScore x documentImportance and greedily packs the ranked list
// into the target character budget. The budget can be exceeded by at most
// the length of the last admitted sentence.
func (s *Summarizer) extractive(docs []*types.MemoryDocument) string {
	type ranked struct {
		text  string
		score float64
		order int
	}
	var sentences []ranked
	order := 0
	for _, doc := range docs {
		for _, sent := range SplitSentences(doc.Content) {
			sentences = append(sentences, ranked{
				text:  sent,
				score: SentenceScore(sent) * doc.Metadata.Importance,
				order: order,
			})
			order++
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	sort.SliceStable(sentences, func(i, j int) bool {
		return sentences[i].score > sentences[j].score
	})

	var sb strings.Builder
	for _, sent := range sentences {
		if sb.Len() >= s.cfg.TargetLength {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(sent.text))
	}
	return sb.String()
}

// abstractive asks the completion collaborator for a fused summary and
// substitutes the extractive result whenever the collaborator is absent,
// disabled, or fails. The fallback keeps consolidation from ever blocking
// on an unreliable collaborator.
func (s *Summarizer) abstractive(ctx context.Context, docs []*types.MemoryDocument) string {
	fallback := s.extractive(docs)
	if s.completer == nil || !s.cfg.EnableLLMSummarization {
		return fallback
	}

	var sb strings.Builder
	sb.WriteString("Condense the following notes into a short factual summary. Keep names, dates and decisions.\n\n")
	for _, doc := range docs {
		sb.WriteString(doc.Content)
		sb.WriteString("\n")
	}

	summary, err := s.completer.Complete(ctx, sb.String())
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			log.Printf("summarizer: abstractive completion failed, using extractive fallback: %v", err)
		}
		return fallback
	}
	return strings.TrimSpace(summary)
}

// hybrid prefixes the extractive result with a bracketed topic list.
func (s *Summarizer) hybrid(docs []*types.MemoryDocument, topics []string) string {
	body := s.extractive(docs)
	if len(topics) == 0 {
		return body
	}
	if len(topics) > 5 {
		topics = topics[:5]
	}
	return "[" + strings.Join(topics, ", ") + "] " + body
}

// keepTopSentences keeps the highest-scoring fraction of sentences,
// restored to original order. At least one sentence is always kept.
func keepTopSentences(content string, fraction float64) string {
	sentences := SplitSentences(content)
	if len(sentences) <= 1 {
		return content
	}

	keep := int(float64(len(sentences)) * fraction)
	if keep < 1 {
		keep = 1
	}

	type indexed struct {
		idx   int
		score float64
	}
	scored := make([]indexed, len(sentences))
	for i, sent := range sentences {
		scored[i] = indexed{idx: i, score: SentenceScore(sent)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	kept := make(map[int]bool, keep)
	for _, sc := range scored[:keep] {
		kept[sc.idx] = true
	}

	var sb strings.Builder
	for i, sent := range sentences {
		if !kept[i] {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(sent))
	}
	return sb.String()
}

// SentenceScore applies the document importance heuristic to a single
// sentence plus bonuses for medium length, named-entity-like mid-sentence
// capitalization, and the presence of digits.
func SentenceScore(sentence string) float64 {
	score := extract.Importance(sentence)

	words := strings.Fields(sentence)
	if len(words) >= 8 && len(words) <= 25 {
		score += 0.05
	}

	for i, word := range words {
		if i == 0 || word == "" {
			continue
		}
		r := []rune(word)[0]
		if unicode.IsUpper(r) {
			score += 0.05
			break
		}
	}

	if strings.ContainsAny(sentence, "0123456789") {
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SplitSentences splits text on common sentence terminators, keeping the
// terminator with the sentence. Whitespace-only fragments are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}

func mergeTopics(docs []*types.MemoryDocument) []string {
	seen := make(map[string]bool)
	var out []string
	for _, doc := range docs {
		for _, t := range doc.Metadata.Topics {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
