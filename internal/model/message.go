// Package model defines data structures for the chat orchestration platform.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the variants of a structured content part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
)

// Part is one element of structured message content. Exactly one of the
// concrete part types implements it; consumers switch exhaustively on
// Type().
type Part interface {
	Type() PartType
}

// TextPart is a plain text fragment of an assistant message.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) Type() PartType { return PartTypeText }

// ToolCallPart is a model-issued request to invoke a named tool.
type ToolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

func (ToolCallPart) Type() PartType { return PartTypeToolCall }

// ToolResultPart carries the outcome of a tool invocation back into the
// transcript, correlated by ToolCallID.
type ToolResultPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result"`
}

func (ToolResultPart) Type() PartType { return PartTypeToolResult }

// Content holds message content in either of its two wire shapes: a plain
// string, or an ordered sequence of typed parts.
type Content struct {
	Text  string
	Parts []Part

	structured bool
}

// PlainContent builds plain string content.
func PlainContent(text string) Content {
	return Content{Text: text}
}

// StructuredContent builds part-based content.
func StructuredContent(parts ...Part) Content {
	return Content{Parts: parts, structured: true}
}

// IsStructured reports whether the content is a part sequence rather than a
// plain string.
func (c Content) IsStructured() bool { return c.structured }

// UnmarshalJSON accepts both wire shapes.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Content{Text: text}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("content is neither a string nor a part array: %w", err)
	}

	parts := make([]Part, 0, len(raw))
	for i, elem := range raw {
		part, err := decodePart(elem)
		if err != nil {
			return fmt.Errorf("content part %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	*c = Content{Parts: parts, structured: true}
	return nil
}

// MarshalJSON emits the shape the content was built with.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.structured {
		return json.Marshal(c.Text)
	}
	encoded := make([]json.RawMessage, 0, len(c.Parts))
	for _, part := range c.Parts {
		data, err := EncodePart(part)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, data)
	}
	return json.Marshal(encoded)
}

type partEnvelope struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result"`
}

func decodePart(data []byte) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case PartTypeText:
		return TextPart{Text: env.Text}, nil
	case PartTypeToolCall:
		return ToolCallPart{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Args: env.Args}, nil
	case PartTypeToolResult:
		return ToolResultPart{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Result: env.Result}, nil
	case "":
		// Tool result parts may arrive without an explicit discriminant.
		if env.Result != nil || env.ToolCallID != "" {
			return ToolResultPart{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Result: env.Result}, nil
		}
		return nil, fmt.Errorf("part has no type discriminant")
	default:
		return nil, fmt.Errorf("unknown part type %q", env.Type)
	}
}

// EncodePart serializes a single part with its discriminant, in the shape
// the persistence layer and clients expect.
func EncodePart(part Part) (json.RawMessage, error) {
	switch p := part.(type) {
	case TextPart:
		return json.Marshal(struct {
			Type PartType `json:"type"`
			Text string   `json:"text"`
		}{PartTypeText, p.Text})
	case ToolCallPart:
		return json.Marshal(struct {
			Type       PartType        `json:"type"`
			ToolCallID string          `json:"toolCallId"`
			ToolName   string          `json:"toolName"`
			Args       json.RawMessage `json:"args"`
		}{PartTypeToolCall, p.ToolCallID, p.ToolName, p.Args})
	case ToolResultPart:
		return json.Marshal(struct {
			Type       PartType        `json:"type"`
			ToolCallID string          `json:"toolCallId"`
			ToolName   string          `json:"toolName"`
			Result     json.RawMessage `json:"result"`
		}{PartTypeToolResult, p.ToolCallID, p.ToolName, p.Result})
	default:
		return nil, fmt.Errorf("unknown part variant %T", part)
	}
}

// WireMessage is one turn of a chat as exchanged with clients.
type WireMessage struct {
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Message is a persisted chat message. Content is the normalized string
// form produced by the codec.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	ID       string        `json:"id"`
	Messages []WireMessage `json:"messages"`
	ModelID  string        `json:"modelId"`
}

// ListMessagesResponse is the response for listing a chat's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
