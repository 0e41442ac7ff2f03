package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/draftpad-ai/draftpad-backend/internal/middleware"
	"github.com/draftpad-ai/draftpad-backend/internal/model"
	"github.com/draftpad-ai/draftpad-backend/internal/service"
	"github.com/draftpad-ai/draftpad-backend/pkg/logger"
)

// HistoryHandler serves transcript read-back endpoints.
type HistoryHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *service.ChatService, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{service: svc, logger: log}
}

// ListChats handles GET /api/v1/chats
func (h *HistoryHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chats, err := h.service.ListChats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list chats")
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	writeJSON(w, http.StatusOK, model.ListChatsResponse{Chats: chats})
}

// ListMessages handles GET /api/v1/chats/{id}/messages
func (h *HistoryHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.service.ListMessages(r.Context(), userID, chatID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: messages})
}
