package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
)

const maxSuggestions = 5

func requestSuggestionsTool() Tool {
	return Tool{
		Name:        "requestSuggestions",
		Description: "Request suggestions for improving a document",
		Parameters: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"documentId": {Type: jsonschema.String, Description: "The ID of the document to request edits for"},
			},
			Required: []string{"documentId"},
		},
		Execute: requestSuggestions,
	}
}

type requestSuggestionsArgs struct {
	DocumentID string `json:"documentId"`
}

// requestSuggestions drives a structured generation that produces edit
// suggestions one element at a time. Elements are emitted on the mux as
// soon as they are complete and persisted in one batch afterwards.
func requestSuggestions(ctx context.Context, deps *Deps, raw json.RawMessage) (any, error) {
	var args requestSuggestionsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return ErrorResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	doc, err := deps.Store.GetDocument(ctx, args.DocumentID)
	if err != nil {
		return ErrorResult{Error: "document not found"}, nil
	}
	// Foreign documents are indistinguishable from missing ones.
	if doc.OwnerID != deps.UserID {
		return ErrorResult{Error: "document not found"}, nil
	}
	if doc.Content == "" {
		return ErrorResult{Error: "document has no content"}, nil
	}

	collector := newSuggestionCollector(deps, doc)

	_, err = deps.LLM.StreamText(ctx, &llm.TextRequest{
		Model:      deps.ModelID,
		System:     llm.SuggestionsSystemPrompt,
		Messages:   []llm.ChatMessage{{Role: "user", Content: doc.Content}},
		JSONObject: true,
	}, collector.onDelta)
	if err != nil {
		return ErrorResult{Error: fmt.Sprintf("suggestion generation failed: %v", err)}, nil
	}
	collector.flush()

	if len(collector.suggestions) == 0 {
		return ErrorResult{Error: "no suggestions were generated"}, nil
	}

	if err := deps.Store.SaveSuggestions(ctx, collector.suggestions); err != nil {
		deps.Logger.Error("failed to save suggestions",
			zap.String("document_id", doc.ID), zap.Error(err))
		return ErrorResult{Error: "failed to save suggestions"}, nil
	}

	return documentConfirmation{
		ID:      doc.ID,
		Title:   doc.Title,
		Message: "Suggestions have been added to the document.",
	}, nil
}

// suggestionCollector lazily materializes suggestion elements from the
// partially-accumulated structured output. While the stream is live, only
// elements strictly before the last array entry are considered complete;
// the remainder is drained by flush.
type suggestionCollector struct {
	deps        *Deps
	doc         *model.Document
	buf         []byte
	emitted     int
	suggestions []model.Suggestion
}

func newSuggestionCollector(deps *Deps, doc *model.Document) *suggestionCollector {
	return &suggestionCollector{deps: deps, doc: doc}
}

func (c *suggestionCollector) onDelta(delta string) error {
	c.buf = append(c.buf, delta...)
	return c.emit(false)
}

func (c *suggestionCollector) flush() {
	_ = c.emit(true)
}

func (c *suggestionCollector) emit(final bool) error {
	elements := gjson.GetBytes(c.buf, "suggestions").Array()

	ready := len(elements)
	if !final && ready > 0 {
		// The trailing element may still be mid-generation.
		ready--
	}
	if ready > maxSuggestions {
		ready = maxSuggestions
	}

	for i := c.emitted; i < ready; i++ {
		elem := elements[i]
		suggestion := model.Suggestion{
			ID:                uuid.Must(uuid.NewV7()).String(),
			DocumentID:        c.doc.ID,
			DocumentCreatedAt: c.doc.CreatedAt,
			OriginalText:      elem.Get("originalSentence").String(),
			SuggestedText:     elem.Get("suggestedSentence").String(),
			Description:       elem.Get("description").String(),
			IsResolved:        false,
			OwnerID:           c.doc.OwnerID,
			CreatedAt:         time.Now(),
		}
		c.suggestions = append(c.suggestions, suggestion)
		if err := c.deps.Mux.Append(stream.Suggestion(suggestion)); err != nil {
			return err
		}
		c.emitted++
	}
	return nil
}
