// internal/llmclient/client.go
// Package llmclient provides the LLM transport used by the plan generator.
package llmclient

import (
	"context"
	"errors"
)

// ErrNoCredentials signals that no API key is available. The planner treats
// this as a cue to fall back to the heuristic plan rather than a hard error.
var ErrNoCredentials = errors.New("llmclient: no API credentials configured")

// GenerationRequest carries one prompt to a specific model.
type GenerationRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	// ForceJSON asks the provider to constrain output to a JSON document.
	ForceJSON bool
}

// Client is the minimal generation contract the planner depends on.
type Client interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases idle transport resources. Safe to call more than once.
	Close() error
}
