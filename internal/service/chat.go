// Package service provides business logic for the chat orchestration
// platform, centered on the generation loop that drives a turn.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftpad-ai/draftpad-backend/internal/codec"
	"github.com/draftpad-ai/draftpad-backend/internal/events"
	"github.com/draftpad-ai/draftpad-backend/internal/llm"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
	"github.com/draftpad-ai/draftpad-backend/internal/tool"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
	"github.com/draftpad-ai/draftpad-backend/pkg/metrics"
)

// DefaultMaxSteps bounds the number of sequential generation rounds per
// turn, preventing runaway tool-call loops.
const DefaultMaxSteps = 5

// Store is the persistence surface the orchestrator depends on. It is
// satisfied by *store.Store and by test fakes.
type Store interface {
	tool.Store

	GetChat(ctx context.Context, id string) (*model.Chat, error)
	CreateChat(ctx context.Context, chat *model.Chat) error
	ListChats(ctx context.Context, ownerID string) ([]model.Chat, error)
	SaveMessages(ctx context.Context, messages []model.Message) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// ChatService orchestrates chat turns: validation, chat creation, message
// persistence and the streaming generation loop.
type ChatService struct {
	store    Store
	registry *llm.Registry
	tools    *tool.Registry
	audit    *events.Publisher // nil disables audit publishing
	http     *http.Client
	logger   *logger.Logger
	maxSteps int
}

// NewChatService creates a new chat service.
func NewChatService(store Store, registry *llm.Registry, tools *tool.Registry, audit *events.Publisher, log *logger.Logger) *ChatService {
	return &ChatService{
		store:    store,
		registry: registry,
		tools:    tools,
		audit:    audit,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   log,
		maxSteps: DefaultMaxSteps,
	}
}

// SetMaxSteps overrides the generation round bound.
func (s *ChatService) SetMaxSteps(n int) {
	if n > 0 {
		s.maxSteps = n
	}
}

// Turn holds the validated, persisted state of a request between Prepare
// and Stream.
type Turn struct {
	Chat    *model.Chat
	UserID  string
	ModelID string

	client  llm.Client
	history []llm.ChatMessage
}

// Prepare runs the pre-streaming phases of a turn: VALIDATE, ENSURE_CHAT
// and PERSIST_USER_MESSAGE. Nothing is written before the ownership check
// passes; the user's message is durable before any model call.
func (s *ChatService) Prepare(ctx context.Context, userID string, req *model.ChatRequest) (*Turn, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages must not be empty", ErrBadRequest)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: chat id is required", ErrBadRequest)
	}

	client, ok := s.registry.Resolve(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrNotFound, req.ModelID)
	}

	userMsg, ok := lastUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: no user message found", ErrBadRequest)
	}

	chat, err := s.ensureChat(ctx, userID, req, client, userMsg)
	if err != nil {
		return nil, err
	}

	persisted := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    chat.ID,
		Role:      model.RoleUser,
		Content:   codec.Normalize(userMsg),
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessages(ctx, []model.Message{persisted}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	s.publishAudit(ctx, &model.TurnEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    chat.ID,
		UserID:    userID,
		Type:      model.TurnEventStarted,
		ModelID:   req.ModelID,
		CreatedAt: time.Now(),
	})

	return &Turn{
		Chat:    chat,
		UserID:  userID,
		ModelID: req.ModelID,
		client:  client,
		history: toProviderMessages(req.Messages),
	}, nil
}

// ensureChat loads the chat or creates it lazily, deriving a title from
// the user's message. A different owner fails the whole request before any
// write. A creation race losing to a concurrent insert is recovered by
// re-reading the winner.
func (s *ChatService) ensureChat(ctx context.Context, userID string, req *model.ChatRequest, client llm.Client, userMsg model.WireMessage) (*model.Chat, error) {
	chat, err := s.store.GetChat(ctx, req.ID)
	if err == nil {
		if chat.OwnerID != userID {
			return nil, fmt.Errorf("%w: chat belongs to another user", ErrUnauthorized)
		}
		return chat, nil
	}

	title := llm.GenerateTitle(ctx, client, req.ModelID, plainText(userMsg))
	chat = &model.Chat{
		ID:        req.ID,
		OwnerID:   userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	createErr := s.store.CreateChat(ctx, chat)
	if createErr == nil {
		metrics.ChatsTotal.Inc()
		return chat, nil
	}

	// Lost a creation race. Keep the request moving under the existing
	// chat as long as the caller owns it.
	existing, getErr := s.store.GetChat(ctx, req.ID)
	if getErr != nil {
		return nil, fmt.Errorf("failed to create chat: %w", createErr)
	}
	if existing.OwnerID != userID {
		return nil, fmt.Errorf("%w: chat belongs to another user", ErrUnauthorized)
	}
	return existing, nil
}

// Stream runs the GENERATE/TOOL_EXEC rounds of a prepared turn, emitting
// into mux, then persists the generated messages. The mux is closed on
// every exit path, exactly once.
func (s *ChatService) Stream(ctx context.Context, turn *Turn, mux *stream.Mux) error {
	defer mux.Close()

	mux.AppendMessageAnnotation(map[string]string{"chatId": turn.Chat.ID})

	deps := &tool.Deps{
		UserID:  turn.UserID,
		ModelID: turn.ModelID,
		Mux:     mux,
		LLM:     turn.client,
		Store:   s.store,
		HTTP:    s.http,
		Logger:  s.logger,
	}

	responses, err := s.generate(ctx, turn, mux, deps)
	if err != nil {
		s.publishAudit(ctx, &model.TurnEvent{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ChatID:    turn.Chat.ID,
			UserID:    turn.UserID,
			Type:      model.TurnEventFailed,
			ModelID:   turn.ModelID,
			Reason:    err.Error(),
			CreatedAt: time.Now(),
		})
		return err
	}

	s.persistResponses(ctx, turn, mux, responses)
	return nil
}

// generate drives the bounded generation loop. Each round streams model
// output, and when the round requests tool calls they are dispatched
// concurrently, with results fed back in request order.
func (s *ChatService) generate(ctx context.Context, turn *Turn, mux *stream.Mux, deps *tool.Deps) ([]model.WireMessage, error) {
	toolStreamer, hasTools := turn.client.(llm.ToolStreamer)
	defs := s.tools.Definitions("document", "weather")

	var responses []model.WireMessage
	rounds := 0

	for step := 0; step < s.maxSteps; step++ {
		rounds++

		onDelta := func(delta string) error {
			return mux.Append(stream.TextDelta(delta))
		}

		req := &llm.TextRequest{
			Model:    turn.ModelID,
			System:   llm.ChatSystemPrompt,
			Messages: turn.history,
		}

		var result *llm.ChatResult
		var err error
		if hasTools {
			result, err = toolStreamer.StreamWithTools(ctx, req, defs, onDelta)
		} else {
			var text *llm.TextResult
			text, err = turn.client.StreamText(ctx, req, onDelta)
			if err == nil {
				result = &llm.ChatResult{
					Content:    text.Content,
					StopReason: text.StopReason,
					TokensIn:   text.TokensIn,
					TokensOut:  text.TokensOut,
					LatencyMs:  text.LatencyMs,
				}
			}
		}
		if err != nil {
			metrics.RecordLLMStream(turn.ModelID, "error", 0, 0, 0)
			return nil, fmt.Errorf("model stream failed: %w", err)
		}
		metrics.RecordLLMStream(turn.ModelID, "success", float64(result.LatencyMs)/1000.0, result.TokensIn, result.TokensOut)

		responses = append(responses, assistantWireMessage(result))
		turn.history = append(turn.history, llm.ChatMessage{
			Role:      string(model.RoleAssistant),
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		if len(result.ToolCalls) == 0 {
			break
		}

		toolMsg, err := s.executeToolCalls(ctx, deps, result.ToolCalls)
		if err != nil {
			return nil, err
		}
		responses = append(responses, toolMsg.wire)
		turn.history = append(turn.history, toolMsg.provider...)
	}

	metrics.GenerationRounds.Observe(float64(rounds))
	return responses, nil
}

type toolRound struct {
	wire     model.WireMessage
	provider []llm.ChatMessage
}

// executeToolCalls dispatches one round's tool calls, each on its own
// goroutine. Every execution appends to the mux in its own order; results
// are collected back into request order before being fed to the model.
func (s *ChatService) executeToolCalls(ctx context.Context, deps *tool.Deps, calls []llm.ToolCall) (*toolRound, error) {
	results := make([]json.RawMessage, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			start := time.Now()
			result, err := s.tools.Dispatch(ctx, deps, call)
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
			results[i] = result
			errs[i] = err
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("tool execution failed: %w", err)
		}
	}

	round := &toolRound{}
	parts := make([]model.Part, 0, len(calls))
	for i, call := range calls {
		parts = append(parts, model.ToolResultPart{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     results[i],
		})
		round.provider = append(round.provider, llm.ChatMessage{
			Role:       string(model.RoleTool),
			Content:    string(results[i]),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	round.wire = model.WireMessage{
		Role:    model.RoleTool,
		Content: model.StructuredContent(parts...),
	}
	return round, nil
}

// persistResponses sanitizes and stores the turn's generated messages.
// Save failures are logged and surfaced to operators, not to the client:
// the streamed content has already been delivered.
func (s *ChatService) persistResponses(ctx context.Context, turn *Turn, mux *stream.Mux, responses []model.WireMessage) {
	sanitized := sanitizeResponses(responses)
	if len(sanitized) == 0 {
		return
	}

	now := time.Now()
	persisted := make([]model.Message, 0, len(sanitized))
	var assistantIDs []string
	for _, wire := range sanitized {
		msg := model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ChatID:    turn.Chat.ID,
			Role:      wire.Role,
			Content:   codec.Normalize(wire),
			CreatedAt: now,
		}
		persisted = append(persisted, msg)
		if wire.Role == model.RoleAssistant {
			assistantIDs = append(assistantIDs, msg.ID)
		}
	}

	if err := s.store.SaveMessages(ctx, persisted); err != nil {
		s.logger.Error("failed to persist response messages",
			zap.String("chat_id", turn.Chat.ID), zap.Int("messages", len(persisted)), zap.Error(err))
		metrics.RecordPersistenceFailure("messages")
		return
	}

	for _, msg := range persisted {
		metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	}
	for _, id := range assistantIDs {
		mux.AppendMessageAnnotation(map[string]string{"messageIdFromServer": id})
	}

	s.publishAudit(ctx, &model.TurnEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChatID:    turn.Chat.ID,
		UserID:    turn.UserID,
		Type:      model.TurnEventPersisted,
		ModelID:   turn.ModelID,
		Messages:  len(persisted),
		CreatedAt: time.Now(),
	})
}

// sanitizeResponses drops assistant tool-call parts whose matching result
// never arrived, keeping the stored transcript internally consistent.
// Messages left empty by the filtering are dropped entirely.
func sanitizeResponses(responses []model.WireMessage) []model.WireMessage {
	resolved := make(map[string]bool)
	for _, msg := range responses {
		for _, part := range msg.Content.Parts {
			if result, ok := part.(model.ToolResultPart); ok {
				resolved[result.ToolCallID] = true
			}
		}
	}

	out := make([]model.WireMessage, 0, len(responses))
	for _, msg := range responses {
		if msg.Role != model.RoleAssistant {
			if len(msg.Content.Parts) > 0 || !msg.Content.IsStructured() {
				out = append(out, msg)
			}
			continue
		}
		kept := make([]model.Part, 0, len(msg.Content.Parts))
		for _, part := range msg.Content.Parts {
			if call, ok := part.(model.ToolCallPart); ok && !resolved[call.ToolCallID] {
				continue
			}
			kept = append(kept, part)
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, model.WireMessage{Role: msg.Role, Content: model.StructuredContent(kept...)})
	}
	return out
}

// ListChats returns the caller's chats.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

// ListMessages returns a chat's transcript after verifying ownership.
func (s *ChatService) ListMessages(ctx context.Context, userID, chatID string) ([]model.Message, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown chat", ErrNotFound)
	}
	if chat.OwnerID != userID {
		return nil, fmt.Errorf("%w: chat belongs to another user", ErrUnauthorized)
	}
	return s.store.ListMessages(ctx, chatID)
}

// DeleteChat removes a chat and its messages after verifying ownership.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: unknown chat", ErrNotFound)
	}
	if chat.OwnerID != userID {
		return fmt.Errorf("%w: chat belongs to another user", ErrUnauthorized)
	}
	return s.store.DeleteChat(ctx, chatID)
}

func (s *ChatService) publishAudit(ctx context.Context, event *model.TurnEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish audit event",
			zap.String("chat_id", event.ChatID), zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// assistantWireMessage converts one round's model output into the wire
// representation used for persistence.
func assistantWireMessage(result *llm.ChatResult) model.WireMessage {
	parts := make([]model.Part, 0, 1+len(result.ToolCalls))
	if result.Content != "" {
		parts = append(parts, model.TextPart{Text: result.Content})
	}
	for _, call := range result.ToolCalls {
		parts = append(parts, model.ToolCallPart{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       json.RawMessage(call.Arguments),
		})
	}
	return model.WireMessage{
		Role:    model.RoleAssistant,
		Content: model.StructuredContent(parts...),
	}
}

// toProviderMessages flattens wire history into the provider-neutral form.
func toProviderMessages(messages []model.WireMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleUser, model.RoleSystem:
			out = append(out, llm.ChatMessage{Role: string(msg.Role), Content: plainText(msg)})
		case model.RoleAssistant:
			converted := llm.ChatMessage{Role: string(model.RoleAssistant)}
			if !msg.Content.IsStructured() {
				converted.Content = msg.Content.Text
			} else {
				for _, part := range msg.Content.Parts {
					switch p := part.(type) {
					case model.TextPart:
						converted.Content += p.Text
					case model.ToolCallPart:
						converted.ToolCalls = append(converted.ToolCalls, llm.ToolCall{
							ID:        p.ToolCallID,
							Name:      p.ToolName,
							Arguments: string(p.Args),
						})
					}
				}
			}
			out = append(out, converted)
		case model.RoleTool:
			for _, part := range msg.Content.Parts {
				if result, ok := part.(model.ToolResultPart); ok {
					out = append(out, llm.ChatMessage{
						Role:       string(model.RoleTool),
						Content:    string(result.Result),
						ToolCallID: result.ToolCallID,
						Name:       result.ToolName,
					})
				}
			}
		}
	}
	return out
}

func lastUserMessage(messages []model.WireMessage) (model.WireMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i], true
		}
	}
	return model.WireMessage{}, false
}

func plainText(msg model.WireMessage) string {
	if !msg.Content.IsStructured() {
		return msg.Content.Text
	}
	return codec.Normalize(msg)
}
