package model

import (
	"time"
)

// Chat is a conversation thread owned by exactly one user. Ownership is
// immutable after creation.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a user-owned artifact whose content is fully replaced on each
// update, never diffed.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Suggestion is a proposed edit to a document, produced by the
// requestSuggestions tool.
type Suggestion struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"document_id"`
	DocumentCreatedAt time.Time `json:"document_created_at"`
	OriginalText      string    `json:"original_text"`
	SuggestedText     string    `json:"suggested_text"`
	Description       string    `json:"description"`
	IsResolved        bool      `json:"is_resolved"`
	OwnerID           string    `json:"owner_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListChatsResponse is the response for listing a user's chats.
type ListChatsResponse struct {
	Chats []Chat `json:"chats"`
}
