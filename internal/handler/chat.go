// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/draftpad-ai/draftpad-backend/internal/middleware"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/service"
	"github.com/draftpad-ai/draftpad-backend/internal/stream"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
	"github.com/draftpad-ai/draftpad-backend/pkg/metrics"
)

// DefaultTurnTimeout bounds a whole turn's wall clock.
const DefaultTurnTimeout = 90 * time.Second

// ChatHandler handles the chat turn endpoints.
type ChatHandler struct {
	service     *service.ChatService
	logger      *logger.Logger
	turnTimeout time.Duration
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger, turnTimeout time.Duration) *ChatHandler {
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	return &ChatHandler{
		service:     svc,
		logger:      log,
		turnTimeout: turnTimeout,
	}
}

// Create handles POST /api/v1/chat: it validates and persists the user
// message, then streams the multiplexed turn output as server-sent
// events whose event names are the stream event types.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateChatID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateModelID(req.ModelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, msg := range req.Messages {
		if msg.Content.IsStructured() {
			continue
		}
		if err := middleware.ValidateMessageContent(msg.Content.Text); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	turn, err := h.service.Prepare(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	mux := stream.New()
	done := make(chan error, 1)
	go func() {
		done <- h.service.Stream(ctx, turn, mux)
	}()

	// Drain until the service closes the mux. A disconnected client stops
	// the writes but the drain continues so in-flight tools can finish
	// their durable side effects.
	clientGone := false
	for event := range mux.Events() {
		if clientGone {
			continue
		}
		if err := sendSSEEvent(w, flusher, string(event.Type), event.Content); err != nil {
			clientGone = true
		}
	}

	if err := <-done; err != nil {
		h.logger.Error("turn failed",
			zap.String("chat_id", req.ID),
			zap.String("model_id", req.ModelID),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err))
		if !clientGone {
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "stream_error",
				"message": "generation failed",
			})
		}
		return
	}

	if !clientGone {
		sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
	}
}

// Delete handles DELETE /api/v1/chat?id=...
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "chat id is required")
		return
	}

	if err := h.service.DeleteChat(r.Context(), userID, id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Chat deleted"))
}
