// Package upload serves document uploads and answers questions about them.
package upload

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nimblechat/backend/internal/model/chat"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/internal/service/extract"
	"github.com/nimblechat/backend/pkg/utils"
)

// defaultQuestion is asked when the client uploads a file without one.
const defaultQuestion = "What is the main topic?"

// parseMemoryLimit bounds how much of the multipart body stays in memory;
// larger parts spill to temp files.
const parseMemoryLimit = 32 << 20

// Answerer is the slice of the AI service the upload endpoint consumes.
type Answerer interface {
	AnswerDocument(ctx context.Context, docText, question string) (*schema.Message, error)
}

// Handler accepts a document plus a question and replies with the model's
// answer. Both the question and the answer are recorded in the session.
type Handler struct {
	chatSvc   *chatservice.Service
	assistant Answerer
	extractor *extract.Service
}

// New creates the upload handler.
func New(chatSvc *chatservice.Service, assistant Answerer, extractor *extract.Service) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		assistant: assistant,
		extractor: extractor,
	}
}

// RegisterRoutes mounts the upload endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.handleUpload)
}

type uploadResponse struct {
	Answer    string    `json:"answer"`
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
}

// handleUpload extracts text from the uploaded file and answers the
// question about it. A missing session_id gets a fresh UUID; an unknown one
// is created implicitly, like POST /chat.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}

	if err := r.ParseMultipartForm(parseMemoryLimit); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	question := strings.TrimSpace(r.FormValue("question"))
	if question == "" {
		question = defaultQuestion
	}

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if err := h.chatSvc.EnsureSession(ctx, sessionID); err != nil {
		log.Printf("[upload] failed to ensure session %s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	text, err := h.extractor.Extract(file, header.Size, header.Filename)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "no text could be extracted from the file")
		return
	}

	if _, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: fmt.Sprintf("[Uploaded file: %s] %s", header.Filename, question),
	}); err != nil {
		log.Printf("[upload] failed to save user message for %s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	// The user turn stays in the transcript even when the model fails.
	answer, err := h.assistant.AnswerDocument(ctx, h.extractor.Truncate(text), question)
	if err != nil {
		log.Printf("[upload] answer generation failed for %s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to generate answer")
		return
	}

	saved, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: answer.Content,
	})
	if err != nil {
		log.Printf("[upload] failed to save assistant message for %s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}

	utils.RespondJSON(w, http.StatusOK, uploadResponse{
		Answer:    answer.Content,
		SessionID: sessionID,
		Filename:  header.Filename,
		Timestamp: saved.Timestamp,
	})
}
