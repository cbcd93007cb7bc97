// Package llm defines the text-generation client contract and the Gateway
// that wraps it with retry and truncation continuation.
package llm

import "context"

// Finish reasons normalized across providers.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Result is the normalized outcome of a single generation call.
type Result struct {
	Text         string
	FinishReason string
	InputChars   int
	OutputChars  int
}

// Client is a minimal interface for making one-shot LLM API calls.
// Implementations provide the actual HTTP transport to a specific provider
// and normalize heterogeneous response shapes into Result. They carry no
// retry or business logic of their own.
type Client interface {
	Complete(ctx context.Context, system, user string) (*Result, error)
}
