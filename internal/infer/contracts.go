package infer

import (
	"context"

	"inferd/pkg/types"
)

// Backend abstracts the model runtime that executes validated requests.
// Implementations live under internal/backend.
type Backend interface {
	// Schedule submits a validated request and returns its event stream.
	// The call itself is synchronous; scheduling failures are returned
	// immediately. The returned channel is closed when the backend is done
	// producing. Implementations must stop producing and close the channel
	// when ctx is cancelled.
	Schedule(ctx context.Context, req *ValidatedRequest) (<-chan StreamResult, error)

	// Health probes the backend. current is the last latched health value so
	// a warmed-up backend can avoid re-warming.
	Health(ctx context.Context, current bool) bool

	// StartHealth is the health assumed right after construction. Typically
	// false, or true if the backend includes a warmup phase.
	StartHealth() bool

	Name() string
}

// Validator turns raw requests into validated ones and performs pure
// tokenization. Validation failures must be returned as-is; the core wraps
// them into ValidationError.
type Validator interface {
	Validate(ctx context.Context, req types.GenerateRequest) (*ValidatedRequest, error)
	Tokenize(ctx context.Context, text string, addSpecialTokens bool, truncate *int) (*Encoding, error)
	ValidateBestOf(n int) (int, error)
}

// ChatTemplateRenderer renders chat messages into a prompt string.
type ChatTemplateRenderer interface {
	Apply(messages []types.Message, tools []types.Tool, toolPrompt string) (string, error)
}
