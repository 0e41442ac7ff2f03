package tool

import (
	"context"
	"errors"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
)

// fakeLLM replays scripted deltas for every streaming call.
type fakeLLM struct {
	deltas []string
	err    error

	requests []*llm.TextRequest
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return []string{"fake-model"} }

func (f *fakeLLM) Complete(ctx context.Context, req *llm.TextRequest) (*llm.TextResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var content string
	for _, d := range f.deltas {
		content += d
	}
	return &llm.TextResult{Content: content, StopReason: "stop"}, nil
}

func (f *fakeLLM) StreamText(ctx context.Context, req *llm.TextRequest, onDelta llm.DeltaFunc) (*llm.TextResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var content string
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		content += d
	}
	return &llm.TextResult{Content: content, StopReason: "stop"}, nil
}

// fakeDocStore is an in-memory Store implementation.
type fakeDocStore struct {
	documents   map[string]*model.Document
	suggestions []model.Suggestion

	saveDocErr        error
	saveSuggestionErr error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{documents: make(map[string]*model.Document)}
}

func (s *fakeDocStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, ok := s.documents[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeDocStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	if s.saveDocErr != nil {
		return s.saveDocErr
	}
	copied := *doc
	s.documents[doc.ID] = &copied
	return nil
}

func (s *fakeDocStore) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	if s.saveSuggestionErr != nil {
		return s.saveSuggestionErr
	}
	s.suggestions = append(s.suggestions, suggestions...)
	return nil
}

// newTestDeps wires fakes into a Deps with a fresh mux. The caller drains
// drainMux after execution.
func newTestDeps(llmClient llm.Client, store Store) (*Deps, *stream.Mux) {
	mux := stream.NewWithBuffer(1024)
	return &Deps{
		UserID:  "user-1",
		ModelID: "fake-model",
		Mux:     mux,
		LLM:     llmClient,
		Store:   store,
		Logger:  logger.NewNop(),
	}, mux
}

func drainMux(mux *stream.Mux) []stream.Event {
	mux.Close()
	var events []stream.Event
	for event := range mux.Events() {
		events = append(events, event)
	}
	return events
}

func eventTypes(events []stream.Event) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, string(event.Type))
	}
	return types
}
