package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/nimblechat/backend/internal/model/chat"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/pkg/utils"
)

// Assistant is the slice of the AI service the chat endpoints consume.
// A nil Assistant means no model credentials were configured; endpoints
// that need the model answer 503 while session management keeps working.
type Assistant interface {
	StreamingEnabled() bool
	GenerateReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error)
	StreamReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Handler serves chat messages and session management.
type Handler struct {
	chatSvc   *chatservice.Service
	assistant Assistant
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service, assistant Assistant) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		assistant: assistant,
	}
}

// RegisterRoutes mounts the chat and session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/sessions/new", h.handleNewSession)
	r.Get("/sessions/{sessionID}/history", h.handleHistory)
	r.Post("/sessions/{sessionID}/clear", h.handleClear)
	r.Get("/sessions/{sessionID}/info", h.handleInfo)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	SessionID   string           `json:"session_id"`
	Messages    []chat.Message   `json:"messages"`
	SessionInfo chat.SessionInfo `json:"session_info"`
}

// handleChat appends the user turn, prompts the model with recent history,
// and appends the reply. Unknown session IDs are created implicitly.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if h.assistant == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}

	ctx := r.Context()
	if err := h.chatSvc.EnsureSession(ctx, payload.SessionID); err != nil {
		log.Printf("[chat] failed to ensure session %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	history, err := h.chatSvc.History(ctx, payload.SessionID)
	if err != nil {
		log.Printf("[chat] failed to load history for %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	if _, err := h.chatSvc.SaveMessage(ctx, payload.SessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: payload.Message,
	}); err != nil {
		log.Printf("[chat] failed to save user message for %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	// The user turn stays in the transcript even when the model fails.
	reply, err := h.assistant.GenerateReply(ctx, payload.SessionID, history, payload.Message)
	if err != nil {
		log.Printf("[chat] reply generation failed for %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to generate reply")
		return
	}

	saved, err := h.chatSvc.SaveMessage(ctx, payload.SessionID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply.Content,
	})
	if err != nil {
		log.Printf("[chat] failed to save assistant message for %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Response:  reply.Content,
		SessionID: payload.SessionID,
		Timestamp: saved.Timestamp,
	})
}

// handleNewSession provisions a session with a server-generated ID.
func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.chatSvc.NewSession(r.Context())
	if err != nil {
		log.Printf("[chat] failed to create session: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// handleHistory returns the full transcript plus session bookkeeping.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.History(r.Context(), sessionID)
	if err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, historyResponse{
		SessionID:   sessionID,
		Messages:    messages,
		SessionInfo: chat.Summarize(sessionID, messages),
	})
}

// handleClear truncates the transcript; the session itself survives.
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.Clear(r.Context(), sessionID); err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Session cleared successfully"})
}

// handleInfo returns session bookkeeping without the transcript.
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := h.chatSvc.Info(r.Context(), sessionID)
	if err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, info)
}

func (h *Handler) respondSessionError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	log.Printf("[chat] session %s lookup failed: %v", sessionID, err)
	utils.RespondError(w, http.StatusInternalServerError, "internal error")
}
