package backup

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/scrypster/recall/pkg/types"
)

// Stable issue codes for validation errors and warnings.
const (
	CodeFileNotFound    = "FILE_NOT_FOUND"
	CodeReadFailed      = "READ_FAILED"
	CodeDecompress      = "DECOMPRESS_FAILED"
	CodeParse           = "PARSE_ERROR"
	CodeMissingHeader   = "MISSING_HEADER"
	CodeVersionTooNew   = "VERSION_TOO_NEW"
	CodeVersionOlder    = "VERSION_OLDER"
	CodeChecksumError   = "CHECKSUM_MISMATCH"
	CodeMalformedRecord = "MALFORMED_RECORD"
	CodeVectorDims      = "VECTOR_DIM_INCONSISTENT"
	CodeImportInFlight  = "IMPORT_IN_FLIGHT"
	CodeCancelled       = "CANCELLED"
	CodeValidation      = "VALIDATION_FAILED"
	CodeStorage         = "STORAGE_FAILED"
)

// Issue is one validation finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationStats summarizes the counted envelope contents.
type ValidationStats struct {
	Entries       int `json:"entries"`
	Conversations int `json:"conversations"`
	Vectors       int `json:"vectors"`
	Summaries     int `json:"summaries"`
}

// ValidationResult reports whether a backup file is importable. Warnings
// never make the file invalid; errors do.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Errors   []Issue         `json:"errors,omitempty"`
	Warnings []Issue         `json:"warnings,omitempty"`
	Stats    ValidationStats `json:"stats"`
}

func (r *ValidationResult) addError(code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile checks that path holds a usable backup: readable, parseable
// (gzip auto-detected by magic bytes), a supported format version, a
// matching checksum and well-shaped records. A version newer than
// FormatVersion is a hard error; an older version, a checksum mismatch,
// inconsistent vector dimensions and individually malformed records are
// warnings only.
func ValidateFile(path string) *ValidationResult {
	result := &ValidationResult{}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		result.addError(CodeFileNotFound, "backup file %s does not exist", path)
		return result
	}
	if err != nil {
		result.addError(CodeReadFailed, "read %s: %v", path, err)
		return result
	}

	data, err := maybeDecompress(raw)
	if err != nil {
		result.addError(CodeDecompress, "decompress %s: %v", path, err)
		return result
	}

	validateBytes(data, result)
	result.Valid = len(result.Errors) == 0
	return result
}

// maybeDecompress gunzips data when it carries the gzip magic, and returns
// it untouched otherwise.
func maybeDecompress(data []byte) ([]byte, error) {
	if !isGzip(data) {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()
	return io.ReadAll(gz)
}

// validateBytes runs all structural checks on a decompressed envelope.
func validateBytes(data []byte, result *ValidationResult) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		result.addError(CodeParse, "parse envelope: %v", err)
		return
	}

	if env.Header.Version == 0 {
		result.addError(CodeMissingHeader, "envelope header is missing or has no version")
		return
	}
	if env.Header.Version > FormatVersion {
		result.addError(CodeVersionTooNew, "backup version %d is newer than supported version %d", env.Header.Version, FormatVersion)
		return
	}
	if env.Header.Version < FormatVersion {
		result.addWarning(CodeVersionOlder, "backup version %d is older than current version %d", env.Header.Version, FormatVersion)
	}

	checksum, err := checksumPayload(env.Entries, env.Conversations, env.Vectors, env.Summaries)
	if err != nil {
		result.addError(CodeParse, "recompute checksum: %v", err)
		return
	}
	if env.Header.Checksum != "" && checksum != env.Header.Checksum {
		result.addWarning(CodeChecksumError, "checksum mismatch: header %s, computed %s", env.Header.Checksum, checksum)
	}

	result.Stats = ValidationStats{
		Entries:       len(env.Entries),
		Conversations: len(env.Conversations),
		Vectors:       len(env.Vectors),
		Summaries:     len(env.Summaries),
	}

	validateDocuments(env.Entries, "entry", result)
	validateDocuments(env.Summaries, "summary", result)

	for i, raw := range env.Conversations {
		var conv types.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			result.addWarning(CodeMalformedRecord, "conversation %d: %v", i, err)
			continue
		}
		if conv.ID == "" {
			result.addWarning(CodeMalformedRecord, "conversation %d: missing id", i)
			continue
		}
		for j, msg := range conv.Messages {
			if msg.Role == "" {
				result.addWarning(CodeMalformedRecord, "conversation %s message %d: missing role", conv.ID, j)
				break
			}
		}
	}

	dim := -1
	for i, raw := range env.Vectors {
		var vec VectorRecord
		if err := json.Unmarshal(raw, &vec); err != nil {
			result.addWarning(CodeMalformedRecord, "vector %d: %v", i, err)
			continue
		}
		if vec.ID == "" || len(vec.Values) == 0 {
			result.addWarning(CodeMalformedRecord, "vector %d: missing id or values", i)
			continue
		}
		if dim == -1 {
			dim = len(vec.Values)
		} else if len(vec.Values) != dim {
			result.addWarning(CodeVectorDims, "vector %s has dimension %d, expected %d", vec.ID, len(vec.Values), dim)
		}
	}
}

// validateDocuments shape-checks one document array; kind labels the
// warnings.
func validateDocuments(records []json.RawMessage, kind string, result *ValidationResult) {
	for i, raw := range records {
		var doc types.MemoryDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			result.addWarning(CodeMalformedRecord, "%s %d: %v", kind, i, err)
			continue
		}
		if doc.ID == "" {
			result.addWarning(CodeMalformedRecord, "%s %d: missing id", kind, i)
		} else if doc.Content == "" {
			result.addWarning(CodeMalformedRecord, "%s %s: missing content", kind, doc.ID)
		}
	}
}
