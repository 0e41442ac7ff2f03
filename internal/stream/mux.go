// Package stream provides the per-turn event multiplexer that merges
// tool-side events with the primary token stream into one ordered,
// client-visible sequence.
package stream

import (
	"errors"
	"sync"
)

// EventType discriminates the side-channel events pushed onto a Mux.
type EventType string

const (
	EventID                EventType = "id"
	EventTitle             EventType = "title"
	EventClear             EventType = "clear"
	EventTextDelta         EventType = "text-delta"
	EventSuggestion        EventType = "suggestion"
	EventFinish            EventType = "finish"
	EventMessageAnnotation EventType = "message-annotation"
)

// Event is one element of the multiplexed output stream.
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

// ErrClosed is returned by Append after the mux has been closed.
var ErrClosed = errors.New("stream: mux is closed")

const defaultBuffer = 256

// Mux is a bounded, append-only event sink for a single turn. Each logical
// emitter (the generation loop, each tool execution) appends from its own
// goroutine; the relative order of one emitter's appends is preserved.
// Interleaving across emitters is unspecified.
//
// The orchestrator owns the single Close call, made after every producer
// has finished. Closing twice panics.
type Mux struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
}

// New creates a mux with the default buffer size.
func New() *Mux {
	return NewWithBuffer(defaultBuffer)
}

// NewWithBuffer creates a mux whose channel holds up to size events before
// Append blocks on the consumer.
func NewWithBuffer(size int) *Mux {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Mux{ch: make(chan Event, size)}
}

// Append pushes an event onto the stream. It blocks only when the buffer is
// full and the consumer has stalled.
func (m *Mux) Append(event Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	// The send happens under the lock so a concurrent Close cannot close
	// the channel between the check and the send.
	m.ch <- event
	m.mu.Unlock()
	return nil
}

// AppendMessageAnnotation attaches server-generated metadata to the stream
// on its own event channel, without mixing it into textual content.
func (m *Mux) AppendMessageAnnotation(data any) error {
	return m.Append(Event{Type: EventMessageAnnotation, Content: data})
}

// Close ends the stream. It must be called exactly once, after all
// producers have finished emitting.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		panic("stream: mux closed twice")
	}
	m.closed = true
	close(m.ch)
}

// Events returns the consumer side of the stream. The channel is closed
// when the turn ends.
func (m *Mux) Events() <-chan Event {
	return m.ch
}

// Convenience constructors for the event vocabulary.

func ID(id string) Event              { return Event{Type: EventID, Content: id} }
func Title(title string) Event        { return Event{Type: EventTitle, Content: title} }
func Clear(title string) Event        { return Event{Type: EventClear, Content: title} }
func TextDelta(delta string) Event    { return Event{Type: EventTextDelta, Content: delta} }
func Suggestion(content any) Event    { return Event{Type: EventSuggestion, Content: content} }
func Finish() Event                   { return Event{Type: EventFinish, Content: ""} }
