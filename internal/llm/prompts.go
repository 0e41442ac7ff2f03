package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ChatSystemPrompt instructs the primary generation of a turn.
const ChatSystemPrompt = `You are a friendly writing assistant. Keep your responses concise and helpful.

When asked to write, create, or draft a substantial piece of content, use the createDocument tool so the user gets a dedicated editor for it. Use updateDocument to revise an existing document, and requestSuggestions when the user asks for feedback on one. For short answers, respond inline without tools.`

// DocumentSystemPrompt instructs the nested generation that drafts a new
// document about a topic.
const DocumentSystemPrompt = `Write about the given topic. Markdown is supported. Use headings wherever appropriate.`

// SuggestionsSystemPrompt instructs the structured generation that proposes
// edits to a document. The model must answer with a single JSON object.
const SuggestionsSystemPrompt = `You are a careful editor. Given a piece of writing, propose improvements sentence by sentence.

Respond with a JSON object of the form {"suggestions": [{"originalSentence": "...", "suggestedSentence": "...", "description": "..."}]}. Propose at most 5 suggestions.`

const titleSystemPrompt = `Generate a short title summarizing the user's message. At most 80 characters, no quotes, no colons.`

const maxTitleLength = 80

// UpdateDocumentSystemPrompt builds the instruction for rewriting an
// existing document per a change description.
func UpdateDocumentSystemPrompt(current string) string {
	return fmt.Sprintf("Improve the following contents of the document based on the given prompt. Respond with the full updated document.\n\n%s", current)
}

// GenerateTitle derives a chat title from the first user message via a
// short non-streaming completion. Falls back to a truncated copy of the
// message when generation fails.
func GenerateTitle(ctx context.Context, client Client, modelID, userMessage string) string {
	result, err := client.Complete(ctx, &TextRequest{
		Model:     modelID,
		System:    titleSystemPrompt,
		Messages:  []ChatMessage{{Role: "user", Content: userMessage}},
		MaxTokens: 64,
	})
	if err != nil || strings.TrimSpace(result.Content) == "" {
		return truncateTitle(userMessage)
	}
	return truncateTitle(strings.Trim(strings.TrimSpace(result.Content), `"`))
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxTitleLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTitleLength])
}
