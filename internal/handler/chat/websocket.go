package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nimblechat/backend/internal/model/chat"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/pkg/utils"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
)

// WebSocketHandler runs interactive chat over a WebSocket connection.
// Turns are persisted with the same semantics as POST /chat.
type WebSocketHandler struct {
	chatSvc   *chatservice.Service
	assistant Assistant
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler creates the WebSocket chat handler.
func NewWebSocketHandler(chatSvc *chatservice.Service, assistant Assistant) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc:   chatSvc,
		assistant: assistant,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage is the payload of an inbound "text" frame.
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes; gorilla/websocket permits only one writer at a
// time and the ping loop runs on its own goroutine.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket validates the session, upgrades the connection, and runs
// the read loop until the client goes away.
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	if h.assistant == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}

	exists, err := h.chatSvc.Exists(r.Context(), sessionID)
	if err != nil {
		log.Printf("[websocket] session lookup failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()

	log.Printf("[websocket] new connection for session=%s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(readDeadline))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	conn := &wsConn{conn: raw}
	go h.pingLoop(ctx, conn)

	h.sendInfo(conn, sessionID, map[string]any{
		"type": "connected",
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := raw.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}

			raw.SetReadDeadline(time.Now().Add(readDeadline))

			if msg.SessionID != "" && msg.SessionID != sessionID {
				h.sendError(conn, "session mismatch")
				continue
			}

			h.handleMessage(ctx, conn, sessionID, &msg)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *wsConn, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, conn, sessionID, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, conn *wsConn, sessionID string, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}
	if strings.TrimSpace(text.Text) == "" {
		return
	}

	if err := h.processUserText(ctx, conn, sessionID, text.Text); err != nil {
		h.sendError(conn, err.Error())
	}
}

// processUserText persists the user turn, generates the reply, echoes both
// to the client, and persists the reply.
func (h *WebSocketHandler) processUserText(ctx context.Context, conn *wsConn, sessionID, userText string) error {
	history, err := h.chatSvc.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history failed: %w", err)
	}

	if _, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: userText,
	}); err != nil {
		return fmt.Errorf("save user message failed: %w", err)
	}

	h.sendInfo(conn, sessionID, map[string]any{
		"type": "user",
		"text": userText,
	})

	responseText, err := h.generateReply(ctx, conn, sessionID, history, userText)
	if err != nil {
		return err
	}

	if _, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: responseText,
	}); err != nil {
		log.Printf("[websocket] save assistant message failed: %v", err)
	}

	return nil
}

func (h *WebSocketHandler) generateReply(ctx context.Context, conn *wsConn, sessionID string, history []chat.Message, userText string) (string, error) {
	if !h.assistant.StreamingEnabled() {
		reply, err := h.assistant.GenerateReply(ctx, sessionID, history, userText)
		if err != nil {
			return "", fmt.Errorf("reply generation failed: %w", err)
		}
		h.sendInfo(conn, sessionID, map[string]any{
			"type":     "ai",
			"text":     reply.Content,
			"is_final": true,
		})
		return reply.Content, nil
	}

	stream, err := h.assistant.StreamReply(ctx, sessionID, history, userText)
	if err != nil {
		return "", fmt.Errorf("reply streaming failed: %w", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("stream recv failed: %w", recvErr)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendInfo(conn, sessionID, map[string]any{
				"type": "ai_delta",
				"text": chunk.Content,
			})
		}
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("concat reply chunks failed: %w", err)
	}
	if strings.TrimSpace(merged.Content) == "" {
		return "", errors.New("model returned an empty reply")
	}

	h.sendInfo(conn, sessionID, map[string]any{
		"type":     "ai",
		"text":     merged.Content,
		"is_final": true,
	})

	return merged.Content, nil
}

func (h *WebSocketHandler) sendInfo(conn *wsConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write info failed: %v", err)
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop keeps the connection alive while the client is idle.
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
