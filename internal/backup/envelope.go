// Package backup implements the memory backup file format: export,
// validation and import with merge/replace semantics and per-record
// conflict resolution.
package backup

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/scrypster/recall/internal/storage"
)

// FormatVersion is the current backup envelope version. Files with a
// newer version are rejected; older versions load with a warning.
const FormatVersion = 2

// gzip stream magic bytes, used to auto-detect compressed backups.
const (
	gzipMagic0 = 0x1F
	gzipMagic1 = 0x8B
)

// Header describes the envelope: format version, export time and the
// integrity checksum over the payload.
type Header struct {
	Version    int    `json:"version"`
	ExportedAt int64  `json:"exportedAt"` // epoch milliseconds
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
}

// Envelope is the on-disk backup structure. Record arrays are kept raw so
// a single malformed record degrades to a warning instead of failing the
// whole file.
type Envelope struct {
	Header        Header            `json:"header"`
	Entries       []json.RawMessage `json:"entries"`
	Conversations []json.RawMessage `json:"conversations"`
	Vectors       []json.RawMessage `json:"vectors"`
	Summaries     []json.RawMessage `json:"summaries"`
}

// VectorRecord stores a document's embedding separately from its entry, so
// backups stay readable without a vector store attached.
type VectorRecord struct {
	ID     string    `json:"id"`
	Values []float32 `json:"values"`
}

// payload is the checksummed portion of the envelope. The header itself is
// excluded so the checksum can be embedded in it.
type payload struct {
	Entries       []json.RawMessage `json:"entries"`
	Conversations []json.RawMessage `json:"conversations"`
	Vectors       []json.RawMessage `json:"vectors"`
	Summaries     []json.RawMessage `json:"summaries"`
}

// checksumPayload computes the FNV-64a checksum over the canonical JSON of
// the payload arrays, hex-encoded. Non-cryptographic: it detects
// corruption, not tampering.
func checksumPayload(entries, conversations, vectors, summaries []json.RawMessage) (string, error) {
	data, err := json.Marshal(payload{
		Entries:       entries,
		Conversations: conversations,
		Vectors:       vectors,
		Summaries:     summaries,
	})
	if err != nil {
		return "", fmt.Errorf("backup: marshal payload for checksum: %w", err)
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isGzip reports whether data starts with the gzip magic bytes.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic0 && data[1] == gzipMagic1
}

// DocumentStore is the storage surface the pipeline needs: lookup and
// search on the read side, bulk mutation on the write side.
type DocumentStore interface {
	storage.VectorStore
	storage.BulkWriter
}
