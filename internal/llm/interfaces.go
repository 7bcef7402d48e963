// Package llm provides the completion collaborator: a narrow single-prompt
// completion interface with provider clients for Anthropic and Ollama.
//
// The collaborator is reliable-but-fallible by contract: callers that can
// degrade (summarizer, session manager) treat any error as a signal to use
// their deterministic fallback, and a nil Completer means the collaborator
// is absent entirely.
package llm

import "context"

// Completer is the completion collaborator interface. A single prompt in,
// completion text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
