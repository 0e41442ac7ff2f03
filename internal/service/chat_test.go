package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
	"github.com/draftpad-ai/draftpad-backend/internal/tool"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
)

func newTestService(store Store, clients ...llm.Client) *ChatService {
	return NewChatService(store, llm.NewRegistry(clients...), tool.NewRegistry(), nil, logger.NewNop())
}

func userRequest(chatID, text string) *model.ChatRequest {
	return &model.ChatRequest{
		ID:      chatID,
		ModelID: "fake-model",
		Messages: []model.WireMessage{
			{Role: model.RoleUser, Content: model.PlainContent(text)},
		},
	}
}

func collectEvents(mux *stream.Mux) []stream.Event {
	var events []stream.Event
	for event := range mux.Events() {
		events = append(events, event)
	}
	return events
}

func TestPrepareRejectsInvalidRequests(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeModel{})

	cases := []struct {
		name string
		req  *model.ChatRequest
		want error
	}{
		{
			name: "empty messages",
			req:  &model.ChatRequest{ID: "chat-1", ModelID: "fake-model"},
			want: ErrBadRequest,
		},
		{
			name: "missing chat id",
			req: &model.ChatRequest{ModelID: "fake-model", Messages: []model.WireMessage{
				{Role: model.RoleUser, Content: model.PlainContent("hi")},
			}},
			want: ErrBadRequest,
		},
		{
			name: "unknown model",
			req: &model.ChatRequest{ID: "chat-1", ModelID: "gpt-imaginary", Messages: []model.WireMessage{
				{Role: model.RoleUser, Content: model.PlainContent("hi")},
			}},
			want: ErrNotFound,
		},
		{
			name: "no user message",
			req: &model.ChatRequest{ID: "chat-1", ModelID: "fake-model", Messages: []model.WireMessage{
				{Role: model.RoleAssistant, Content: model.PlainContent("hi")},
			}},
			want: ErrBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Prepare(context.Background(), "user-1", tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// No writes happened for any rejected request.
	assert.Zero(t, store.saveCalls)
	assert.Empty(t, store.chats)
}

func TestPrepareCreatesChatAndPersistsUserMessage(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeModel{})

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hello"))
	require.NoError(t, err)

	require.NotNil(t, turn.Chat)
	assert.Equal(t, "chat-1", turn.Chat.ID)
	assert.Equal(t, "user-1", turn.Chat.OwnerID)
	assert.Equal(t, "Generated Title", turn.Chat.Title)

	saved := store.savedMessages("chat-1")
	require.Len(t, saved, 1)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, "Hello", saved[0].Content)
}

func TestPrepareRejectsForeignChatBeforeAnyWrite(t *testing.T) {
	store := newFakeStore()
	store.chats["chat-1"] = &model.Chat{ID: "chat-1", OwnerID: "someone-else"}
	svc := newTestService(store, &fakeModel{})

	_, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hello"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, store.saveCalls)
}

func TestPrepareRecoversLostCreationRace(t *testing.T) {
	store := newFakeStore()
	store.createChatErr = errors.New("duplicate key value violates unique constraint")
	store.raceWinner = &model.Chat{ID: "chat-1", OwnerID: "user-1", Title: "Winner"}
	svc := newTestService(store, &fakeModel{})

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Winner", turn.Chat.Title)
	require.Len(t, store.savedMessages("chat-1"), 1)
}

func TestPrepareLostRaceToForeignOwner(t *testing.T) {
	store := newFakeStore()
	store.createChatErr = errors.New("duplicate key value violates unique constraint")
	store.raceWinner = &model.Chat{ID: "chat-1", OwnerID: "someone-else"}
	svc := newTestService(store, &fakeModel{})

	_, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hello"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, store.saveCalls)
}

func TestStreamPlainAnswer(t *testing.T) {
	store := newFakeStore()
	client := &fakeModel{rounds: []scriptedRound{
		{deltas: []string{"Hello ", "there."}},
	}}
	svc := newTestService(store, client)

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hi"))
	require.NoError(t, err)

	mux := stream.New()
	require.NoError(t, svc.Stream(context.Background(), turn, mux))

	events := collectEvents(mux)
	require.GreaterOrEqual(t, len(events), 4)

	// First event announces the chat id.
	assert.Equal(t, stream.EventMessageAnnotation, events[0].Type)
	assert.Equal(t, map[string]string{"chatId": "chat-1"}, events[0].Content)

	var text string
	var gotServerID bool
	for _, event := range events[1:] {
		switch event.Type {
		case stream.EventTextDelta:
			text += event.Content.(string)
		case stream.EventMessageAnnotation:
			annotation := event.Content.(map[string]string)
			if annotation["messageIdFromServer"] != "" {
				gotServerID = true
			}
		}
	}
	assert.Equal(t, "Hello there.", text)
	assert.True(t, gotServerID)

	// User message plus assistant response are durable.
	saved := store.savedMessages("chat-1")
	require.Len(t, saved, 2)
	assert.Equal(t, model.RoleAssistant, saved[1].Role)
	assert.Contains(t, saved[1].Content, "Hello there.")

	// The mux is closed exactly once by Stream.
	assert.ErrorIs(t, mux.Append(stream.TextDelta("late")), stream.ErrClosed)
}

func TestStreamGenerationLoopIsBounded(t *testing.T) {
	store := newFakeStore()
	// A model that requests a tool call on every round would loop forever
	// without the bound. The unknown tool keeps the loop alive via in-band
	// error results.
	client := &fakeModel{
		loop: true,
		rounds: []scriptedRound{{
			toolCalls: []llm.ToolCall{{ID: "call_x", Name: "doesNotExist", Arguments: "{}"}},
		}},
	}
	svc := newTestService(store, client)

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Go"))
	require.NoError(t, err)

	mux := stream.NewWithBuffer(4096)
	require.NoError(t, svc.Stream(context.Background(), turn, mux))
	collectEvents(mux)

	assert.Equal(t, DefaultMaxSteps, client.servedRounds())
}

func TestStreamToolRoundFeedsResultsBack(t *testing.T) {
	store := newFakeStore()
	store.documents["doc-1"] = &model.Document{
		ID: "doc-1", Title: "Essay", Content: "Old.", OwnerID: "user-1",
	}
	client := &fakeModel{rounds: []scriptedRound{
		{
			deltas: []string{"Updating now."},
			toolCalls: []llm.ToolCall{{
				ID:        "call_1",
				Name:      "updateDocument",
				Arguments: `{"id":"doc-1","description":"shorten"}`,
			}},
		},
		{deltas: []string{"New text."}}, // consumed by the nested rewrite stream
		{deltas: []string{"Done."}},
	}}
	svc := newTestService(store, client)

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Edit my doc"))
	require.NoError(t, err)

	mux := stream.NewWithBuffer(4096)
	require.NoError(t, svc.Stream(context.Background(), turn, mux))
	collectEvents(mux)

	// The document was rewritten through the tool.
	assert.Equal(t, "New text.", store.documents["doc-1"].Content)

	// Transcript: user, assistant w/ tool call, tool results, final answer.
	saved := store.savedMessages("chat-1")
	require.Len(t, saved, 4)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, model.RoleAssistant, saved[1].Role)
	assert.Contains(t, saved[1].Content, "tool-call")
	assert.Equal(t, model.RoleTool, saved[2].Role)
	assert.Contains(t, saved[2].Content, "call_1")
	assert.Equal(t, model.RoleAssistant, saved[3].Role)

	// The provider-side history carried the tool result back.
	require.GreaterOrEqual(t, len(turn.history), 4)
}

func TestStreamModelFailureClosesMuxAndPersistsNothingNew(t *testing.T) {
	store := newFakeStore()
	client := &fakeModel{rounds: []scriptedRound{
		{err: errors.New("model overloaded")},
	}}
	svc := newTestService(store, client)

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hi"))
	require.NoError(t, err)

	mux := stream.New()
	err = svc.Stream(context.Background(), turn, mux)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")

	collectEvents(mux)
	assert.ErrorIs(t, mux.Append(stream.TextDelta("late")), stream.ErrClosed)

	// Only the user message made it to the store.
	assert.Len(t, store.savedMessages("chat-1"), 1)
}

func TestStreamSwallowsResponsePersistenceFailure(t *testing.T) {
	store := newFakeStore()
	client := &fakeModel{rounds: []scriptedRound{
		{deltas: []string{"Answer."}},
	}}
	svc := newTestService(store, client)

	turn, err := svc.Prepare(context.Background(), "user-1", userRequest("chat-1", "Hi"))
	require.NoError(t, err)

	store.saveMessagesErr = errors.New("db down")

	mux := stream.New()
	require.NoError(t, svc.Stream(context.Background(), turn, mux))

	// The failure is not surfaced on the stream, and no server-side message
	// id annotation is emitted for the unsaved response.
	for _, event := range collectEvents(mux) {
		if event.Type == stream.EventMessageAnnotation {
			annotation := event.Content.(map[string]string)
			assert.Empty(t, annotation["messageIdFromServer"])
		}
	}
}

func TestSanitizeResponsesDropsDanglingToolCalls(t *testing.T) {
	responses := []model.WireMessage{
		{
			Role: model.RoleAssistant,
			Content: model.StructuredContent(
				model.TextPart{Text: "calling tools"},
				model.ToolCallPart{ToolCallID: "resolved", ToolName: "getWeather", Args: json.RawMessage(`{}`)},
				model.ToolCallPart{ToolCallID: "dangling", ToolName: "getWeather", Args: json.RawMessage(`{}`)},
			),
		},
		{
			Role: model.RoleTool,
			Content: model.StructuredContent(
				model.ToolResultPart{ToolCallID: "resolved", ToolName: "getWeather", Result: json.RawMessage(`{}`)},
			),
		},
	}

	sanitized := sanitizeResponses(responses)
	require.Len(t, sanitized, 2)
	require.Len(t, sanitized[0].Content.Parts, 2)

	call, ok := sanitized[0].Content.Parts[1].(model.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "resolved", call.ToolCallID)
}

func TestSanitizeResponsesDropsEmptiedMessages(t *testing.T) {
	responses := []model.WireMessage{
		{
			Role: model.RoleAssistant,
			Content: model.StructuredContent(
				model.ToolCallPart{ToolCallID: "dangling", ToolName: "getWeather", Args: json.RawMessage(`{}`)},
			),
		},
	}
	assert.Empty(t, sanitizeResponses(responses))
}

func TestListMessagesEnforcesOwnership(t *testing.T) {
	store := newFakeStore()
	store.chats["chat-1"] = &model.Chat{ID: "chat-1", OwnerID: "someone-else"}
	svc := newTestService(store, &fakeModel{})

	_, err := svc.ListMessages(context.Background(), "user-1", "chat-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ListMessages(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChat(t *testing.T) {
	store := newFakeStore()
	store.chats["chat-1"] = &model.Chat{ID: "chat-1", OwnerID: "user-1"}
	store.messages["chat-1"] = []model.Message{{ID: "m1", ChatID: "chat-1"}}
	svc := newTestService(store, &fakeModel{})

	t.Run("foreign owner", func(t *testing.T) {
		err := svc.DeleteChat(context.Background(), "someone-else-2", "chat-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown chat", func(t *testing.T) {
		err := svc.DeleteChat(context.Background(), "user-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("owner deletes chat and messages", func(t *testing.T) {
		require.NoError(t, svc.DeleteChat(context.Background(), "user-1", "chat-1"))
		assert.Empty(t, store.chats)
		assert.Empty(t, store.messages["chat-1"])
	})
}

func TestTextOnlyModelStillAnswers(t *testing.T) {
	store := newFakeStore()
	inner := &fakeModel{rounds: []scriptedRound{{deltas: []string{"Plain answer."}}}}
	client := &textOnlyModel{inner: inner}
	svc := newTestService(store, client)

	req := userRequest("chat-1", "Hi")
	req.ModelID = "text-model"
	turn, err := svc.Prepare(context.Background(), "user-1", req)
	require.NoError(t, err)

	mux := stream.New()
	require.NoError(t, svc.Stream(context.Background(), turn, mux))

	var text string
	for _, event := range collectEvents(mux) {
		if event.Type == stream.EventTextDelta {
			text += event.Content.(string)
		}
	}
	assert.Equal(t, "Plain answer.", text)
}
