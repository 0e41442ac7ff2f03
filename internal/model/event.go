package model

import (
	"time"
)

// TurnEventType represents the type of audit event published for a turn.
type TurnEventType string

const (
	TurnEventStarted   TurnEventType = "turn_started"
	TurnEventPersisted TurnEventType = "messages_persisted"
	TurnEventFailed    TurnEventType = "turn_failed"
)

// TurnEvent is a lifecycle record published to the audit stream. Best
// effort: publishing failures never fail the turn.
type TurnEvent struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	UserID    string        `json:"user_id"`
	Type      TurnEventType `json:"type"`
	ModelID   string        `json:"model_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Messages  int           `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
