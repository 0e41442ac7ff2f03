// Package tool declares the callable tools exposed to the model and the
// registry grouping them into capability sets.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
)

// Store is the persistence surface tools need.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	SaveDocument(ctx context.Context, doc *model.Document) error
	SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error
}

// Deps carries the per-turn collaborators a tool execution may use. Each
// execution holds the turn's mux handle for side-channel emission; the
// orchestrator owns the single close.
type Deps struct {
	UserID  string
	ModelID string
	Mux     *stream.Mux
	LLM     llm.Client
	Store   Store
	HTTP    *http.Client
	Logger  *logger.Logger
}

// ErrorResult is the tagged expected-failure result fed back to the model
// so generation can continue degraded.
type ErrorResult struct {
	Error string `json:"error"`
}

// ExecuteFunc runs a tool with validated arguments. Expected failures are
// returned as an ErrorResult value; a non-nil error aborts the generation
// step.
type ExecuteFunc func(ctx context.Context, deps *Deps, args json.RawMessage) (any, error)

// Tool is one callable capability.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Definition
	Execute     ExecuteFunc
}

// Registry holds the tool catalog grouped into named capability sets.
type Registry struct {
	tools map[string]Tool
	sets  map[string][]string
}

// NewRegistry builds the registry with the full catalog: the "document"
// set (createDocument, updateDocument, requestSuggestions) and the
// "weather" set (getWeather).
func NewRegistry() *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		sets:  make(map[string][]string),
	}
	r.Register("document", createDocumentTool())
	r.Register("document", updateDocumentTool())
	r.Register("document", requestSuggestionsTool())
	r.Register("weather", getWeatherTool())
	return r
}

// Register adds a tool to a capability set.
func (r *Registry) Register(set string, t Tool) {
	r.tools[t.Name] = t
	r.sets[set] = append(r.sets[set], t.Name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Active returns the union of the named capability sets, in stable order.
func (r *Registry) Active(sets ...string) []Tool {
	seen := make(map[string]bool)
	var names []string
	for _, set := range sets {
		for _, name := range r.sets[set] {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Definitions returns the provider-facing declarations for the union of
// the named capability sets.
func (r *Registry) Definitions(sets ...string) []llm.ToolDefinition {
	active := r.Active(sets...)
	defs := make([]llm.ToolDefinition, 0, len(active))
	for _, t := range active {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Dispatch resolves and runs one model-issued tool call. Unknown tools and
// schema-invalid arguments come back as an ErrorResult so the model can
// retry in-band; only unexpected execution errors propagate.
func (r *Registry) Dispatch(ctx context.Context, deps *Deps, call llm.ToolCall) (json.RawMessage, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return marshalResult(ErrorResult{Error: fmt.Sprintf("tool %q is not available", call.Name)})
	}

	args := json.RawMessage(call.Arguments)
	if err := validateArgs(t.Parameters, args); err != nil {
		return marshalResult(ErrorResult{Error: fmt.Sprintf("invalid arguments: %v", err)})
	}

	result, err := t.Execute(ctx, deps, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return marshalResult(result)
}

func marshalResult(result any) (json.RawMessage, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return data, nil
}

// validateArgs checks a raw argument payload against the declared schema:
// required keys present, declared properties of the expected primitive
// kind. The schema also informs the model, so mismatches here mean the
// model produced malformed arguments.
func validateArgs(def *jsonschema.Definition, raw json.RawMessage) error {
	if def == nil {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for _, required := range def.Required {
		if _, ok := fields[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}

	for name, value := range fields {
		prop, ok := def.Properties[name]
		if !ok {
			continue
		}
		if err := checkKind(name, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

func checkKind(name string, kind jsonschema.DataType, value json.RawMessage) error {
	switch kind {
	case jsonschema.String:
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("argument %q must be a string", name)
		}
	case jsonschema.Number, jsonschema.Integer:
		var f float64
		if err := json.Unmarshal(value, &f); err != nil {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case jsonschema.Boolean:
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	}
	return nil
}
