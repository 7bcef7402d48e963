package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Mode selects how an import treats existing state.
type Mode string

const (
	// ModeMerge resolves collisions record by record.
	ModeMerge Mode = "merge"

	// ModeReplace clears existing state before importing.
	ModeReplace Mode = "replace"
)

// Strategy resolves a collision between an existing and an imported record.
type Strategy string

const (
	KeepExisting         Strategy = "keep_existing"
	UseImported          Strategy = "use_imported"
	KeepNewer            Strategy = "keep_newer"
	KeepHigherImportance Strategy = "keep_higher_importance"

	// Merged unions and time-sorts both message lists. Conversations only.
	Merged Strategy = "merged"
)

// Progress phases, reported in order.
const (
	PhaseReading       = "reading"
	PhaseDecompressing = "decompressing"
	PhaseValidating    = "validating"
	PhaseEntries       = "entries"
	PhaseSummaries     = "summaries"
	PhaseConversations = "conversations"
	PhaseVectors       = "vectors"
	PhaseComplete      = "complete"
)

// Progress is a running snapshot handed to the progress callback.
type Progress struct {
	Phase     string
	Processed int
	Total     int
	Conflicts int
	Skipped   int
}

// ImportOptions controls ImportFromFile.
type ImportOptions struct {
	Mode Mode

	// Strategy resolves entry collisions under merge mode
	// (default: keep_newer).
	Strategy Strategy

	// ConversationStrategy resolves conversation collisions; it also
	// accepts Merged. Defaults to Strategy.
	ConversationStrategy Strategy

	// TransformIDs appends an import-time-and-random suffix to every
	// incoming ID, guaranteeing no collisions on re-import.
	TransformIDs bool

	// DryRun validates and reports without mutating any state.
	DryRun bool

	// SkipValidation imports even when validation would fail.
	SkipValidation bool

	// From and To bound record creation time; zero values mean unbounded.
	From time.Time
	To   time.Time

	// MinImportance drops entries below this importance.
	MinImportance float64

	// SkipEntries, SkipSummaries, SkipConversations and SkipVectors
	// exclude a whole record class from the import; excluded records are
	// counted as skipped. The zero value imports every class.
	SkipEntries       bool
	SkipSummaries     bool
	SkipConversations bool
	SkipVectors       bool

	// OnProgress, when set, is called at each phase transition and
	// periodically within record phases.
	OnProgress func(Progress)
}

// ImportStats counts what an import did.
type ImportStats struct {
	Entries       int           `json:"entries"`
	Summaries     int           `json:"summaries"`
	Conversations int           `json:"conversations"`
	Vectors       int           `json:"vectors"`
	Conflicts     int           `json:"conflicts"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// ImportResult is the structured outcome of an import. Failures are
// reported here rather than raised: ImportFromFile never returns an error.
type ImportResult struct {
	Success    bool              `json:"success"`
	DryRun     bool              `json:"dryRun,omitempty"`
	Stats      ImportStats       `json:"stats"`
	Validation *ValidationResult `json:"validation,omitempty"`
	ErrorCode  string            `json:"errorCode,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Importer merges backup files into live memory state. Only one import may
// run at a time; concurrent calls are rejected immediately.
type Importer struct {
	docs     DocumentStore
	convs    storage.ConversationStore
	inFlight atomic.Bool
	now      func() time.Time
}

// NewImporter builds an Importer. convs may be nil; conversation records
// are then skipped and counted.
func NewImporter(docs DocumentStore, convs storage.ConversationStore) (*Importer, error) {
	if docs == nil {
		return nil, fmt.Errorf("backup: document store is required")
	}
	return &Importer{docs: docs, convs: convs, now: time.Now}, nil
}

// ImportFromFile imports the backup at path according to opts. All
// failures come back inside the result; the in-flight guard makes a second
// concurrent call fail fast with CodeImportInFlight.
func (im *Importer) ImportFromFile(ctx context.Context, path string, opts ImportOptions) *ImportResult {
	if !im.inFlight.CompareAndSwap(false, true) {
		return &ImportResult{
			ErrorCode: CodeImportInFlight,
			Error:     "an import is already in progress",
		}
	}
	defer im.inFlight.Store(false)

	if opts.Mode == "" {
		opts.Mode = ModeMerge
	}
	if opts.Strategy == "" {
		opts.Strategy = KeepNewer
	}
	if opts.ConversationStrategy == "" {
		opts.ConversationStrategy = opts.Strategy
	}

	result := &ImportResult{DryRun: opts.DryRun}
	start := im.now()
	defer func() { result.Stats.Duration = im.now().Sub(start) }()

	report := func(phase string, processed, total int) {
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Phase:     phase,
				Processed: processed,
				Total:     total,
				Conflicts: result.Stats.Conflicts,
				Skipped:   result.Stats.Skipped,
			})
		}
	}
	cancelled := func() bool {
		if err := ctx.Err(); err != nil {
			result.ErrorCode = CodeCancelled
			result.Error = fmt.Sprintf("import aborted: %v", err)
			return true
		}
		return false
	}

	// Phase: reading.
	report(PhaseReading, 0, 0)
	raw, err := os.ReadFile(path)
	if err != nil {
		result.ErrorCode = CodeReadFailed
		if os.IsNotExist(err) {
			result.ErrorCode = CodeFileNotFound
		}
		result.Error = fmt.Sprintf("read %s: %v", path, err)
		return result
	}
	if cancelled() {
		return result
	}

	// Phase: decompressing.
	report(PhaseDecompressing, 0, 0)
	data, err := maybeDecompress(raw)
	if err != nil {
		result.ErrorCode = CodeDecompress
		result.Error = fmt.Sprintf("decompress %s: %v", path, err)
		return result
	}
	if cancelled() {
		return result
	}

	// Phase: validating.
	report(PhaseValidating, 0, 0)
	validation := &ValidationResult{}
	validateBytes(data, validation)
	validation.Valid = len(validation.Errors) == 0
	result.Validation = validation
	if !validation.Valid && !opts.SkipValidation {
		result.ErrorCode = CodeValidation
		result.Error = "backup failed validation"
		return result
	}
	if cancelled() {
		return result
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		result.ErrorCode = CodeParse
		result.Error = fmt.Sprintf("parse envelope: %v", err)
		return result
	}

	idSuffix := ""
	if opts.TransformIDs {
		idSuffix = fmt.Sprintf("-imp-%d-%04x", im.now().UnixMilli(), rand.Intn(1<<16))
	}

	recs := im.decodeRecords(&env, idSuffix, opts, result)

	if opts.Mode == ModeReplace {
		err = im.importReplace(ctx, recs, opts, result, report)
	} else {
		err = im.importMerge(ctx, recs, opts, result, report)
	}
	if err != nil {
		if result.ErrorCode == "" {
			result.ErrorCode = CodeStorage
			result.Error = err.Error()
		}
		return result
	}

	report(PhaseComplete, 0, 0)
	result.Success = true
	log.Printf("backup: import complete: entries=%d summaries=%d conversations=%d vectors=%d conflicts=%d skipped=%d dryRun=%v",
		result.Stats.Entries, result.Stats.Summaries, result.Stats.Conversations,
		result.Stats.Vectors, result.Stats.Conflicts, result.Stats.Skipped, opts.DryRun)
	return result
}

// recordSet holds the decoded, filtered records of one envelope.
type recordSet struct {
	entries   []*types.MemoryDocument
	summaries []*types.MemoryDocument
	convs     []*types.Conversation
	vectors   []VectorRecord
}

// decodeRecords turns the raw arrays into typed records, applying the ID
// transform, the date/importance filters and the per-class skip flags.
// Malformed, filtered or excluded records are counted as skipped.
func (im *Importer) decodeRecords(env *Envelope, idSuffix string, opts ImportOptions, result *ImportResult) *recordSet {
	recs := &recordSet{}

	if opts.SkipEntries {
		result.Stats.Skipped += len(env.Entries)
	} else {
		recs.entries = decodeDocuments(env.Entries, idSuffix, opts, result)
	}
	if opts.SkipSummaries {
		result.Stats.Skipped += len(env.Summaries)
	} else {
		recs.summaries = decodeDocuments(env.Summaries, idSuffix, opts, result)
	}

	if opts.SkipConversations {
		result.Stats.Skipped += len(env.Conversations)
	} else {
		for _, raw := range env.Conversations {
			var conv types.Conversation
			if err := json.Unmarshal(raw, &conv); err != nil || conv.ID == "" {
				result.Stats.Skipped++
				continue
			}
			if !opts.From.IsZero() && conv.CreatedAt.Before(opts.From) {
				result.Stats.Skipped++
				continue
			}
			if !opts.To.IsZero() && conv.CreatedAt.After(opts.To) {
				result.Stats.Skipped++
				continue
			}
			conv.ID += idSuffix
			c := conv
			recs.convs = append(recs.convs, &c)
		}
	}

	if opts.SkipVectors {
		result.Stats.Skipped += len(env.Vectors)
	} else {
		for _, raw := range env.Vectors {
			var vec VectorRecord
			if err := json.Unmarshal(raw, &vec); err != nil || vec.ID == "" || len(vec.Values) == 0 {
				result.Stats.Skipped++
				continue
			}
			vec.ID += idSuffix
			recs.vectors = append(recs.vectors, vec)
		}
	}
	return recs
}

func decodeDocuments(raws []json.RawMessage, idSuffix string, opts ImportOptions, result *ImportResult) []*types.MemoryDocument {
	var docs []*types.MemoryDocument
	for _, raw := range raws {
		var doc types.MemoryDocument
		if err := json.Unmarshal(raw, &doc); err != nil || doc.ID == "" || doc.Content == "" {
			result.Stats.Skipped++
			continue
		}
		if !opts.From.IsZero() && doc.Metadata.CreatedAt.Before(opts.From) {
			result.Stats.Skipped++
			continue
		}
		if !opts.To.IsZero() && doc.Metadata.CreatedAt.After(opts.To) {
			result.Stats.Skipped++
			continue
		}
		if doc.Metadata.Importance < opts.MinImportance {
			result.Stats.Skipped++
			continue
		}
		doc.ID += idSuffix
		d := doc
		docs = append(docs, &d)
	}
	return docs
}

// importReplace clears live state and installs the backup wholesale.
func (im *Importer) importReplace(ctx context.Context, recs *recordSet, opts ImportOptions, result *ImportResult, report func(string, int, int)) error {
	byID := make(map[string][]float32, len(recs.vectors))
	for _, vec := range recs.vectors {
		byID[vec.ID] = vec.Values
	}
	all := make([]*types.MemoryDocument, 0, len(recs.entries)+len(recs.summaries))
	all = append(all, recs.entries...)
	all = append(all, recs.summaries...)
	attached := 0
	for _, doc := range all {
		if values, ok := byID[doc.ID]; ok {
			doc.Vector = values
			attached++
		}
	}

	report(PhaseEntries, 0, len(recs.entries))
	if err := ctx.Err(); err != nil {
		result.ErrorCode = CodeCancelled
		result.Error = fmt.Sprintf("import aborted: %v", err)
		return err
	}
	if !opts.DryRun {
		if err := im.docs.ReplaceAll(ctx, all); err != nil {
			return fmt.Errorf("backup: replace documents: %w", err)
		}
	}
	result.Stats.Entries = len(recs.entries)
	report(PhaseEntries, len(recs.entries), len(recs.entries))

	report(PhaseSummaries, 0, len(recs.summaries))
	result.Stats.Summaries = len(recs.summaries)
	report(PhaseSummaries, len(recs.summaries), len(recs.summaries))

	convs := recs.convs
	report(PhaseConversations, 0, len(convs))
	if err := ctx.Err(); err != nil {
		result.ErrorCode = CodeCancelled
		result.Error = fmt.Sprintf("import aborted: %v", err)
		return err
	}
	if im.convs != nil {
		if !opts.DryRun {
			if err := im.convs.ReplaceAll(ctx, convs); err != nil {
				return fmt.Errorf("backup: replace conversations: %w", err)
			}
		}
		result.Stats.Conversations = len(convs)
	} else {
		result.Stats.Skipped += len(convs)
	}
	report(PhaseConversations, len(convs), len(convs))

	report(PhaseVectors, 0, len(recs.vectors))
	result.Stats.Vectors = attached
	result.Stats.Skipped += len(recs.vectors) - attached
	report(PhaseVectors, len(recs.vectors), len(recs.vectors))
	return nil
}

// importMerge folds the backup into live state, resolving each collision
// with the configured strategy.
func (im *Importer) importMerge(ctx context.Context, recs *recordSet, opts ImportOptions, result *ImportResult, report func(string, int, int)) error {
	byID := make(map[string][]float32, len(recs.vectors))
	for _, vec := range recs.vectors {
		byID[vec.ID] = vec.Values
	}

	// Phases: entries, then summaries. Same merge semantics, separate
	// counters.
	imported := make(map[string]bool, len(recs.entries)+len(recs.summaries))
	if err := im.mergeDocuments(ctx, recs.entries, byID, imported, PhaseEntries, &result.Stats.Entries, opts, result, report); err != nil {
		return err
	}
	if err := im.mergeDocuments(ctx, recs.summaries, byID, imported, PhaseSummaries, &result.Stats.Summaries, opts, result, report); err != nil {
		return err
	}

	// Phase: conversations.
	convs := recs.convs
	report(PhaseConversations, 0, len(convs))
	for i, conv := range convs {
		if err := ctx.Err(); err != nil {
			result.ErrorCode = CodeCancelled
			result.Error = fmt.Sprintf("import aborted: %v", err)
			return err
		}
		if im.convs == nil {
			result.Stats.Skipped++
			report(PhaseConversations, i+1, len(convs))
			continue
		}

		existing, err := im.convs.Get(ctx, conv.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if !opts.DryRun {
				if err := im.convs.Upsert(ctx, conv); err != nil {
					return fmt.Errorf("backup: upsert conversation %s: %w", conv.ID, err)
				}
			}
			result.Stats.Conversations++
		case err != nil:
			return fmt.Errorf("backup: look up conversation %s: %w", conv.ID, err)
		default:
			result.Stats.Conflicts++
			winner := resolveConversation(existing, conv, opts.ConversationStrategy)
			if winner == nil {
				result.Stats.Skipped++
			} else {
				if !opts.DryRun {
					if err := im.convs.Upsert(ctx, winner); err != nil {
						return fmt.Errorf("backup: upsert conversation %s: %w", conv.ID, err)
					}
				}
				result.Stats.Conversations++
			}
		}
		report(PhaseConversations, i+1, len(convs))
	}

	// Phase: vectors. Vectors for documents imported above were attached
	// inline; the rest target documents already in the store.
	vectors := recs.vectors
	report(PhaseVectors, 0, len(vectors))
	var vectorUpserts []*types.MemoryDocument
	for i, vec := range vectors {
		if err := ctx.Err(); err != nil {
			result.ErrorCode = CodeCancelled
			result.Error = fmt.Sprintf("import aborted: %v", err)
			return err
		}
		if imported[vec.ID] {
			result.Stats.Vectors++
			report(PhaseVectors, i+1, len(vectors))
			continue
		}
		doc, err := im.docs.Get(ctx, vec.ID)
		if errors.Is(err, storage.ErrNotFound) {
			result.Stats.Skipped++
			report(PhaseVectors, i+1, len(vectors))
			continue
		}
		if err != nil {
			return fmt.Errorf("backup: look up vector target %s: %w", vec.ID, err)
		}
		doc.Vector = vec.Values
		vectorUpserts = append(vectorUpserts, doc)
		result.Stats.Vectors++
		report(PhaseVectors, i+1, len(vectors))
	}
	if !opts.DryRun && len(vectorUpserts) > 0 {
		if err := im.docs.UpsertMany(ctx, vectorUpserts); err != nil {
			return fmt.Errorf("backup: upsert vectors: %w", err)
		}
	}
	return nil
}

// mergeDocuments runs the merge loop for one document class, resolving
// collisions with the entry strategy. Winners are recorded in imported so
// the vector phase knows their embeddings are already attached.
func (im *Importer) mergeDocuments(ctx context.Context, docs []*types.MemoryDocument, byID map[string][]float32, imported map[string]bool, phase string, count *int, opts ImportOptions, result *ImportResult, report func(string, int, int)) error {
	report(phase, 0, len(docs))
	var toUpsert []*types.MemoryDocument
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			result.ErrorCode = CodeCancelled
			result.Error = fmt.Sprintf("import aborted: %v", err)
			return err
		}
		if values, ok := byID[doc.ID]; ok {
			doc.Vector = values
		}

		existing, err := im.docs.Get(ctx, doc.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			toUpsert = append(toUpsert, doc)
			imported[doc.ID] = true
			*count++
		case err != nil:
			return fmt.Errorf("backup: look up document %s: %w", doc.ID, err)
		default:
			result.Stats.Conflicts++
			if winner := resolveDocument(existing, doc, opts.Strategy); winner == doc {
				toUpsert = append(toUpsert, doc)
				imported[doc.ID] = true
				*count++
			} else {
				result.Stats.Skipped++
			}
		}
		report(phase, i+1, len(docs))
	}
	if !opts.DryRun && len(toUpsert) > 0 {
		if err := im.docs.UpsertMany(ctx, toUpsert); err != nil {
			return fmt.Errorf("backup: upsert documents: %w", err)
		}
	}
	return nil
}

// resolveDocument picks the surviving document for a collision. Returns
// the imported pointer when the import wins.
func resolveDocument(existing, imported *types.MemoryDocument, strategy Strategy) *types.MemoryDocument {
	switch strategy {
	case UseImported:
		return imported
	case KeepNewer:
		if lastActivity(imported.Metadata).After(lastActivity(existing.Metadata)) {
			return imported
		}
		return existing
	case KeepHigherImportance:
		if imported.Metadata.Importance > existing.Metadata.Importance {
			return imported
		}
		return existing
	default: // KeepExisting
		return existing
	}
}

// lastActivity prefers the update timestamp, falling back to creation.
func lastActivity(meta types.Metadata) time.Time {
	if !meta.UpdatedAt.IsZero() {
		return meta.UpdatedAt
	}
	return meta.CreatedAt
}

// resolveConversation picks the surviving conversation, or nil when the
// existing one stands unchanged.
func resolveConversation(existing, imported *types.Conversation, strategy Strategy) *types.Conversation {
	switch strategy {
	case UseImported:
		return imported
	case KeepNewer:
		if convActivity(imported).After(convActivity(existing)) {
			return imported
		}
		return nil
	case Merged:
		return mergeConversations(existing, imported)
	case KeepHigherImportance:
		// Importance is not tracked per conversation; fall back to newer.
		if convActivity(imported).After(convActivity(existing)) {
			return imported
		}
		return nil
	default: // KeepExisting
		return nil
	}
}

func convActivity(conv *types.Conversation) time.Time {
	if !conv.UpdatedAt.IsZero() {
		return conv.UpdatedAt
	}
	return conv.CreatedAt
}

// mergeConversations unions both message lists, deduplicates exact
// repeats and sorts by timestamp.
func mergeConversations(existing, imported *types.Conversation) *types.Conversation {
	merged := &types.Conversation{
		ID:        existing.ID,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: existing.UpdatedAt,
	}
	if imported.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = imported.CreatedAt
	}
	if imported.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = imported.UpdatedAt
	}

	seen := make(map[string]bool, len(existing.Messages)+len(imported.Messages))
	for _, msg := range append(append([]types.Message{}, existing.Messages...), imported.Messages...) {
		key := fmt.Sprintf("%d|%s|%s", msg.Timestamp.UnixNano(), msg.Role, msg.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged.Messages = append(merged.Messages, msg)
	}
	sort.SliceStable(merged.Messages, func(i, j int) bool {
		return merged.Messages[i].Timestamp.Before(merged.Messages[j].Timestamp)
	})
	return merged
}
