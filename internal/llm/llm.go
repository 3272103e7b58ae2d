// Package llm provides a minimal Large Language Model client used by the
// reranking stage.
package llm

import (
	"context"
)

// GenerateOptions configures a single generation request.
type GenerateOptions struct {
	// Model overrides the client's default model (e.g. "llama3.2").
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the response length. Zero means no limit.
	MaxTokens int
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	// It blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
