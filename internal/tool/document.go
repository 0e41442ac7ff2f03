package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
)

// documentConfirmation is the payload returned to the model after a
// document tool completes. It deliberately omits the full content.
type documentConfirmation struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func createDocumentTool() Tool {
	return Tool{
		Name:        "createDocument",
		Description: "Create a document for a writing activity; its content is generated and streamed to the user",
		Parameters: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"title": {Type: jsonschema.String},
			},
			Required: []string{"title"},
		},
		Execute: createDocument,
	}
}

type createDocumentArgs struct {
	Title string `json:"title"`
}

// createDocument allocates a document id, announces it so the client can
// open an empty editor before content arrives, then drives a nested
// generation whose deltas stream through the mux while accumulating into
// the draft persisted at the end.
func createDocument(ctx context.Context, deps *Deps, raw json.RawMessage) (any, error) {
	var args createDocumentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return ErrorResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	id := uuid.Must(uuid.NewV7()).String()

	deps.Mux.Append(stream.ID(id))
	deps.Mux.Append(stream.Title(args.Title))
	deps.Mux.Append(stream.Clear(""))

	var draft strings.Builder
	_, err := deps.LLM.StreamText(ctx, &llm.TextRequest{
		Model:    deps.ModelID,
		System:   llm.DocumentSystemPrompt,
		Messages: []llm.ChatMessage{{Role: "user", Content: args.Title}},
	}, func(delta string) error {
		draft.WriteString(delta)
		return deps.Mux.Append(stream.TextDelta(delta))
	})
	if err != nil {
		return ErrorResult{Error: fmt.Sprintf("content generation failed: %v", err)}, nil
	}

	deps.Mux.Append(stream.Finish())

	doc := &model.Document{
		ID:        id,
		Title:     args.Title,
		Content:   draft.String(),
		OwnerID:   deps.UserID,
		CreatedAt: time.Now(),
	}
	if err := deps.Store.SaveDocument(ctx, doc); err != nil {
		deps.Logger.Error("failed to save document", zap.String("document_id", id), zap.Error(err))
		return ErrorResult{Error: "failed to save document"}, nil
	}

	return documentConfirmation{
		ID:      id,
		Title:   args.Title,
		Message: "A document was created and is now visible to the user.",
	}, nil
}

func updateDocumentTool() Tool {
	return Tool{
		Name:        "updateDocument",
		Description: "Update a document with the given description of changes",
		Parameters: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"id":          {Type: jsonschema.String, Description: "The ID of the document to update"},
				"description": {Type: jsonschema.String, Description: "The description of changes to make"},
			},
			Required: []string{"id", "description"},
		},
		Execute: updateDocument,
	}
}

type updateDocumentArgs struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// updateDocument rewrites an existing document per the change description.
// The replacement content is streamed the same way createDocument streams a
// draft, then persisted wholesale under the same id.
func updateDocument(ctx context.Context, deps *Deps, raw json.RawMessage) (any, error) {
	var args updateDocumentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return ErrorResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	doc, err := deps.Store.GetDocument(ctx, args.ID)
	if err != nil {
		return ErrorResult{Error: "document not found"}, nil
	}
	// Foreign documents are indistinguishable from missing ones.
	if doc.OwnerID != deps.UserID {
		return ErrorResult{Error: "document not found"}, nil
	}

	deps.Mux.Append(stream.Clear(doc.Title))

	var draft strings.Builder
	_, err = deps.LLM.StreamText(ctx, &llm.TextRequest{
		Model:    deps.ModelID,
		System:   llm.UpdateDocumentSystemPrompt(doc.Content),
		Messages: []llm.ChatMessage{{Role: "user", Content: args.Description}},
	}, func(delta string) error {
		draft.WriteString(delta)
		return deps.Mux.Append(stream.TextDelta(delta))
	})
	if err != nil {
		return ErrorResult{Error: fmt.Sprintf("content generation failed: %v", err)}, nil
	}

	deps.Mux.Append(stream.Finish())

	doc.Content = draft.String()
	if err := deps.Store.SaveDocument(ctx, doc); err != nil {
		deps.Logger.Error("failed to save document", zap.String("document_id", doc.ID), zap.Error(err))
		return ErrorResult{Error: "failed to save document"}, nil
	}

	return documentConfirmation{
		ID:      doc.ID,
		Title:   doc.Title,
		Message: "The document has been updated successfully.",
	}, nil
}
