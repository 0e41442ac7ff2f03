package service

import (
	"context"
	"errors"
	"sync"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
)

// scriptedRound is one StreamWithTools response from the fake model.
type scriptedRound struct {
	deltas    []string
	toolCalls []llm.ToolCall
	err       error
}

// fakeModel implements llm.Client and llm.ToolStreamer with a scripted
// sequence of rounds. When loop is set, the last round repeats forever.
type fakeModel struct {
	rounds []scriptedRound
	loop   bool

	mu     sync.Mutex
	served int
}

func (f *fakeModel) Name() string     { return "fake" }
func (f *fakeModel) Models() []string { return []string{"fake-model"} }

func (f *fakeModel) nextRound() (scriptedRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rounds) == 0 {
		return scriptedRound{}, errors.New("no scripted rounds")
	}
	i := f.served
	if i >= len(f.rounds) {
		if !f.loop {
			return scriptedRound{}, errors.New("script exhausted")
		}
		i = len(f.rounds) - 1
	}
	f.served++
	return f.rounds[i], nil
}

func (f *fakeModel) servedRounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served
}

func (f *fakeModel) Complete(ctx context.Context, req *llm.TextRequest) (*llm.TextResult, error) {
	return &llm.TextResult{Content: "Generated Title", StopReason: "stop"}, nil
}

func (f *fakeModel) StreamText(ctx context.Context, req *llm.TextRequest, onDelta llm.DeltaFunc) (*llm.TextResult, error) {
	round, err := f.nextRound()
	if err != nil {
		return nil, err
	}
	if round.err != nil {
		return nil, round.err
	}
	var content string
	for _, d := range round.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		content += d
	}
	return &llm.TextResult{Content: content, StopReason: "stop"}, nil
}

func (f *fakeModel) StreamWithTools(ctx context.Context, req *llm.TextRequest, tools []llm.ToolDefinition, onDelta llm.DeltaFunc) (*llm.ChatResult, error) {
	round, err := f.nextRound()
	if err != nil {
		return nil, err
	}
	if round.err != nil {
		return nil, round.err
	}
	var content string
	for _, d := range round.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		content += d
	}
	return &llm.ChatResult{
		Content:    content,
		ToolCalls:  round.toolCalls,
		StopReason: "stop",
	}, nil
}

var _ llm.Client = (*fakeModel)(nil)
var _ llm.ToolStreamer = (*fakeModel)(nil)

// textOnlyModel wraps fakeModel but hides the tool-streaming upgrade.
type textOnlyModel struct {
	inner *fakeModel
}

func (m *textOnlyModel) Name() string     { return m.inner.Name() }
func (m *textOnlyModel) Models() []string { return []string{"text-model"} }

func (m *textOnlyModel) Complete(ctx context.Context, req *llm.TextRequest) (*llm.TextResult, error) {
	return m.inner.Complete(ctx, req)
}

func (m *textOnlyModel) StreamText(ctx context.Context, req *llm.TextRequest, onDelta llm.DeltaFunc) (*llm.TextResult, error) {
	return m.inner.StreamText(ctx, req, onDelta)
}

// fakeStore is an in-memory Store with error injection.
type fakeStore struct {
	mu          sync.Mutex
	chats       map[string]*model.Chat
	messages    map[string][]model.Message
	documents   map[string]*model.Document
	suggestions []model.Suggestion

	createChatErr   error
	raceWinner      *model.Chat // installed when CreateChat fails
	saveMessagesErr error
	saveCalls       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:     make(map[string]*model.Chat),
		messages:  make(map[string][]model.Message),
		documents: make(map[string]*model.Document),
	}
}

func (s *fakeStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *chat
	return &copied, nil
}

func (s *fakeStore) CreateChat(ctx context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createChatErr != nil {
		if s.raceWinner != nil {
			s.chats[s.raceWinner.ID] = s.raceWinner
		}
		return s.createChatErr
	}
	copied := *chat
	s.chats[chat.ID] = &copied
	return nil
}

func (s *fakeStore) ListChats(ctx context.Context, ownerID string) ([]model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Chat
	for _, chat := range s.chats {
		if chat.OwnerID == ownerID {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveMessages(ctx context.Context, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveMessagesErr != nil {
		return s.saveMessagesErr
	}
	for _, msg := range messages {
		s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	}
	return nil
}

func (s *fakeStore) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages[chatID]...), nil
}

func (s *fakeStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *fakeStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.documents[doc.ID] = &copied
	return nil
}

func (s *fakeStore) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = append(s.suggestions, suggestions...)
	return nil
}

func (s *fakeStore) savedMessages(chatID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages[chatID]...)
}

var _ Store = (*fakeStore)(nil)
