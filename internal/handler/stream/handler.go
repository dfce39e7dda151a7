// Package stream serves assistant replies over Server-Sent Events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/nimblechat/backend/internal/model/chat"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/pkg/utils"
)

// Assistant is the slice of the AI service the stream endpoint consumes.
type Assistant interface {
	StreamingEnabled() bool
	GenerateReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error)
	StreamReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Handler streams assistant replies via Server-Sent Events.
type Handler struct {
	assistant Assistant
	chatSvc   *chatservice.Service
}

// New creates the stream handler.
func New(assistant Assistant, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		assistant: assistant,
		chatSvc:   chatSvc,
	}
}

// streamEvent is the data payload of every SSE event on this endpoint.
type streamEvent struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest answers one chat message as an SSE stream. Events:
// "start", zero or more "delta" chunks when upstream streaming is enabled,
// one "message" with the full reply, then "end"; "error" on failure.
// Persistence matches POST /chat: the session is created implicitly and the
// user turn survives a model failure.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	if err := h.chatSvc.EnsureSession(ctx, sessionID); err != nil {
		h.sendError(w, flusher, "failed to create session")
		return err
	}

	history, err := h.chatSvc.History(ctx, sessionID)
	if err != nil {
		h.sendError(w, flusher, "failed to load history")
		return err
	}

	if _, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: userMessage,
	}); err != nil {
		h.sendError(w, flusher, "failed to save message")
		return err
	}

	h.send(w, flusher, "start", streamEvent{SessionID: sessionID})

	reply, err := h.dispatchReply(ctx, w, flusher, sessionID, history, userMessage)
	if err != nil {
		h.sendError(w, flusher, fmt.Sprintf("reply generation failed: %v", err))
		return err
	}

	// The reply already reached the client, so a persistence failure here
	// is logged rather than surfaced.
	if _, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply.Content,
	}); err != nil {
		log.Printf("[stream] failed to save assistant message for %s: %v", sessionID, err)
	}

	h.send(w, flusher, "end", streamEvent{SessionID: sessionID, Finished: true})

	log.Printf("[stream] completed reply for session=%s, length=%d", sessionID, len(reply.Content))
	return nil
}

// dispatchReply streams chunk events when the model supports it and falls
// back to a single message event otherwise.
func (h *Handler) dispatchReply(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error) {
	if h.assistant.StreamingEnabled() {
		return h.streamReply(ctx, w, flusher, sessionID, history, userMessage)
	}

	reply, err := h.assistant.GenerateReply(ctx, sessionID, history, userMessage)
	if err != nil {
		return nil, err
	}

	h.send(w, flusher, "message", streamEvent{SessionID: sessionID, Content: reply.Content})
	return reply, nil
}

func (h *Handler) streamReply(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error) {
	stream, err := h.assistant.StreamReply(ctx, sessionID, history, userMessage)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.send(w, flusher, "delta", streamEvent{SessionID: sessionID, Content: chunk.Content})
		}
	}

	reply, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Content) == "" {
		return nil, errors.New("model returned an empty reply")
	}

	h.send(w, flusher, "message", streamEvent{SessionID: sessionID, Content: reply.Content})
	return reply, nil
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, event string, payload streamEvent) {
	utils.SendSSEEvent(w, flusher, event, payload)
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, message string) {
	h.send(w, flusher, "error", streamEvent{Error: message})
}
