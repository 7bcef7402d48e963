package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ExportOptions controls Exporter.ExportToFile.
type ExportOptions struct {
	// Compress gzips the envelope on disk.
	Compress bool
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Path          string
	Entries       int
	Conversations int
	Vectors       int
	Summaries     int
	Size          int64
	Duration      time.Duration
}

// Exporter writes the full memory state into a backup envelope.
type Exporter struct {
	docs  storage.Lister
	convs storage.ConversationStore
	now   func() time.Time
}

// NewExporter builds an Exporter. convs may be nil when no conversation
// store is configured; the envelope then carries an empty array.
func NewExporter(docs storage.Lister, convs storage.ConversationStore) (*Exporter, error) {
	if docs == nil {
		return nil, fmt.Errorf("backup: document lister is required")
	}
	return &Exporter{docs: docs, convs: convs, now: time.Now}, nil
}

// ExportToFile snapshots all documents and conversations into path.
// Summary documents land in the summaries array, everything else in
// entries. Vectors are split out into a separate array, so a document
// record never embeds its embedding.
func (e *Exporter) ExportToFile(ctx context.Context, path string, opts ExportOptions) (*ExportResult, error) {
	start := e.now()

	docs, err := e.docs.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: list documents: %w", err)
	}

	var convs []*types.Conversation
	if e.convs != nil {
		convs, err = e.convs.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("backup: list conversations: %w", err)
		}
	}

	env := Envelope{
		Entries:       make([]json.RawMessage, 0, len(docs)),
		Conversations: make([]json.RawMessage, 0, len(convs)),
	}
	for _, doc := range docs {
		stripped := *doc
		stripped.Vector = nil
		raw, err := json.Marshal(&stripped)
		if err != nil {
			return nil, fmt.Errorf("backup: marshal entry %s: %w", doc.ID, err)
		}
		if doc.Metadata.IsSummary {
			env.Summaries = append(env.Summaries, raw)
		} else {
			env.Entries = append(env.Entries, raw)
		}

		if len(doc.Vector) > 0 {
			rawVec, err := json.Marshal(VectorRecord{ID: doc.ID, Values: doc.Vector})
			if err != nil {
				return nil, fmt.Errorf("backup: marshal vector %s: %w", doc.ID, err)
			}
			env.Vectors = append(env.Vectors, rawVec)
		}
	}
	for _, conv := range convs {
		raw, err := json.Marshal(conv)
		if err != nil {
			return nil, fmt.Errorf("backup: marshal conversation %s: %w", conv.ID, err)
		}
		env.Conversations = append(env.Conversations, raw)
	}

	checksum, err := checksumPayload(env.Entries, env.Conversations, env.Vectors, env.Summaries)
	if err != nil {
		return nil, err
	}
	env.Header = Header{
		Version:    FormatVersion,
		ExportedAt: e.now().UnixMilli(),
		Checksum:   checksum,
		Compressed: opts.Compress,
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("backup: marshal envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("backup: create export directory: %w", err)
	}
	if err := writeFile(path, data, opts.Compress); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: stat export: %w", err)
	}
	return &ExportResult{
		Path:          path,
		Entries:       len(env.Entries),
		Conversations: len(env.Conversations),
		Vectors:       len(env.Vectors),
		Summaries:     len(env.Summaries),
		Size:          info.Size(),
		Duration:      e.now().Sub(start),
	}, nil
}

// writeFile writes data to path, gzipped when compress is set. A temp file
// plus rename keeps a crashed export from leaving a half-written backup.
func writeFile(path string, data []byte, compress bool) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("backup: create export file: %w", err)
	}

	if compress {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("backup: compress export: %w", err)
		}
		if err := gz.Close(); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("backup: finish compression: %w", err)
		}
	} else {
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("backup: write export: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: close export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("backup: finalize export: %w", err)
	}
	return nil
}
