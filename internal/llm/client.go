// Package llm provides LLM provider clients and the model registry.
package llm

import (
	"context"
	"sort"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// ChatMessage is a provider-neutral transcript message.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tools
	ToolCallID string     // set on tool result messages
	Name       string     // tool name on tool result messages
}

// ToolCall is a model-issued request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition declares a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Definition
}

// DeltaFunc receives each incremental text fragment during streaming.
type DeltaFunc func(delta string) error

// TextRequest is a completion request.
type TextRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
	JSONObject  bool // request a structured JSON object response
}

// TextResult is the outcome of a completion.
type TextResult struct {
	Content    string
	StopReason string
	TokensIn   int
	TokensOut  int
	LatencyMs  int64
}

// ChatResult extends TextResult with any tool calls the model requested.
type ChatResult struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	TokensIn   int
	TokensOut  int
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Name returns the provider name.
	Name() string

	// Models returns the model identifiers this provider serves.
	Models() []string

	// Complete sends a non-streaming completion request.
	Complete(ctx context.Context, req *TextRequest) (*TextResult, error)

	// StreamText streams a completion, invoking onDelta per fragment.
	StreamText(ctx context.Context, req *TextRequest, onDelta DeltaFunc) (*TextResult, error)
}

// ToolStreamer is implemented by providers whose token stream can
// interleave tool-call requests. Providers without it still serve plain
// generation; the orchestrator checks for the upgrade.
type ToolStreamer interface {
	StreamWithTools(ctx context.Context, req *TextRequest, tools []ToolDefinition, onDelta DeltaFunc) (*ChatResult, error)
}

// Registry maps model identifiers to provider clients.
type Registry struct {
	byModel map[string]Client
}

// NewRegistry indexes the given clients by their advertised models.
func NewRegistry(clients ...Client) *Registry {
	byModel := make(map[string]Client)
	for _, c := range clients {
		if c == nil {
			continue
		}
		for _, m := range c.Models() {
			byModel[m] = c
		}
	}
	return &Registry{byModel: byModel}
}

// Resolve returns the client serving a model id.
func (r *Registry) Resolve(modelID string) (Client, bool) {
	c, ok := r.byModel[modelID]
	return c, ok
}

// Models returns all registered model ids, sorted.
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
