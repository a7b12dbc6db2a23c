package pump

import (
	"context"

	"github.com/agentmesh/core/pkg/models"
)

// CompletionToolCall is one tool invocation requested by the model during
// a think step, arguments already decoded into a generic value map so the
// pump can pattern-match on intent-tool fields without re-parsing JSON.
type CompletionToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CompletionRequest is one settled (non-streaming) LLM turn request.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []CompletionToolDescriptor
}

// CompletionToolDescriptor mirrors tool.Descriptor; the pump package
// defines its own copy so LLMClient implementations don't need to import
// internal/agentrt/tool just to describe a turn request.
type CompletionToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionResult is the settled outcome of one LLM turn: inner-monologue
// text, optional tool calls, or both (text may accompany tool calls as the
// model's reasoning aside).
type CompletionResult struct {
	Text      string
	ToolCalls []CompletionToolCall
}

// LLMClient is the pump's only dependency on a language model. No
// streaming: a think step always gets back one settled result, and
// provider SDK wiring happens outside this module.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}
