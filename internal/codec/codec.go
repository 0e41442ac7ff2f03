// Package codec converts between the wire message representation and the
// normalized string form stored in the transcript.
package codec

import (
	"encoding/json"

	"github.com/draftpad-ai/draftpad-backend/internal/model"
)

// Normalize flattens a wire message's content to the single string stored
// per message. The output shape is determined by role:
//
//   - user: the plain string unchanged, or the JSON serialization of
//     structured content;
//   - tool: a JSON array of tool-result elements;
//   - assistant: a JSON array of text and tool-call elements, wrapping a
//     plain string as a single text element.
//
// Any other role normalizes to the empty string. Normalize never fails for
// well-typed input; parts that cannot be encoded are skipped.
func Normalize(msg model.WireMessage) string {
	switch msg.Role {
	case model.RoleUser:
		return normalizeUser(msg.Content)
	case model.RoleTool:
		return normalizeTool(msg.Content)
	case model.RoleAssistant:
		return normalizeAssistant(msg.Content)
	default:
		return ""
	}
}

func normalizeUser(content model.Content) string {
	if !content.IsStructured() {
		return content.Text
	}
	data, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(data)
}

func normalizeTool(content model.Content) string {
	elements := make([]json.RawMessage, 0, len(content.Parts))
	for _, part := range content.Parts {
		result, ok := part.(model.ToolResultPart)
		if !ok {
			continue
		}
		encoded, err := model.EncodePart(result)
		if err != nil {
			continue
		}
		elements = append(elements, encoded)
	}
	return marshalArray(elements)
}

func normalizeAssistant(content model.Content) string {
	if !content.IsStructured() {
		encoded, err := model.EncodePart(model.TextPart{Text: content.Text})
		if err != nil {
			return "[]"
		}
		return marshalArray([]json.RawMessage{encoded})
	}

	elements := make([]json.RawMessage, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.(type) {
		case model.TextPart, model.ToolCallPart:
			encoded, err := model.EncodePart(part)
			if err != nil {
				continue
			}
			elements = append(elements, encoded)
		}
	}
	return marshalArray(elements)
}

func marshalArray(elements []json.RawMessage) string {
	if elements == nil {
		elements = []json.RawMessage{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "[]"
	}
	return string(data)
}
