package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	model "github.com/nimblechat/backend/internal/model/chat"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/internal/store/memory"
)

// fakeAssistant answers with a canned reply and records what it was asked.
type fakeAssistant struct {
	reply      string
	err        error
	streaming  bool
	gotHistory []model.Message
	gotMessage string
}

func (f *fakeAssistant) StreamingEnabled() bool { return f.streaming }

func (f *fakeAssistant) GenerateReply(_ context.Context, _ string, history []model.Message, userMessage string) (*schema.Message, error) {
	f.gotHistory = history
	f.gotMessage = userMessage
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeAssistant) StreamReply(_ context.Context, _ string, history []model.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	f.gotHistory = history
	f.gotMessage = userMessage
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), nil
}

func setupRouter(assistant Assistant) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(memory.New())
	handler := New(chatSvc, assistant)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestChatCreatesSessionImplicitly(t *testing.T) {
	assistant := &fakeAssistant{reply: "hi there"}
	r, chatSvc := setupRouter(assistant)

	resp := postJSON(t, r, "/chat", map[string]string{"message": "hello", "session_id": "fresh"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body chatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if body.Response != "hi there" {
		t.Errorf("unexpected response %q", body.Response)
	}
	if body.SessionID != "fresh" {
		t.Errorf("unexpected session_id %q", body.SessionID)
	}
	if body.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp")
	}

	messages, err := chatSvc.History(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(messages))
	}
	if messages[0].Role != model.RoleUser || messages[0].Content != "hello" {
		t.Errorf("unexpected user turn %+v", messages[0])
	}
	if messages[1].Role != model.RoleAssistant || messages[1].Content != "hi there" {
		t.Errorf("unexpected assistant turn %+v", messages[1])
	}
}

func TestChatPassesPriorHistoryOnly(t *testing.T) {
	assistant := &fakeAssistant{reply: "third"}
	r, chatSvc := setupRouter(assistant)
	ctx := context.Background()

	if err := chatSvc.EnsureSession(ctx, "abc"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, "abc", model.Message{Role: model.RoleUser, Content: "first"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, "abc", model.Message{Role: model.RoleAssistant, Content: "second"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	resp := postJSON(t, r, "/chat", map[string]string{"message": "next", "session_id": "abc"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	// The in-flight user message rides separately, not inside history.
	if len(assistant.gotHistory) != 2 {
		t.Fatalf("expected 2 prior turns, got %d", len(assistant.gotHistory))
	}
	if assistant.gotMessage != "next" {
		t.Errorf("expected user message %q, got %q", "next", assistant.gotMessage)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	r, _ := setupRouter(&fakeAssistant{reply: "unused"})

	cases := []struct {
		name string
		body map[string]string
	}{
		{"blank message", map[string]string{"message": "  ", "session_id": "abc"}},
		{"missing message", map[string]string{"session_id": "abc"}},
		{"missing session", map[string]string{"message": "hello"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, r, "/chat", tc.body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("{not json")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}
}

func TestChatWithoutAssistant(t *testing.T) {
	r, chatSvc := setupRouter(nil)

	resp := postJSON(t, r, "/chat", map[string]string{"message": "hello", "session_id": "abc"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}

	// The request is rejected before the session comes into being.
	ok, err := chatSvc.Exists(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Exists err: %v", err)
	}
	if ok {
		t.Fatal("expected no session to be created")
	}
}

func TestChatKeepsUserTurnOnModelFailure(t *testing.T) {
	assistant := &fakeAssistant{err: errors.New("upstream exploded")}
	r, chatSvc := setupRouter(assistant)

	resp := postJSON(t, r, "/chat", map[string]string{"message": "hello", "session_id": "abc"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	messages, err := chatSvc.History(context.Background(), "abc")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != model.RoleUser {
		t.Fatalf("expected only the user turn to survive, got %+v", messages)
	}
}

func TestNewSession(t *testing.T) {
	r, chatSvc := setupRouter(nil)

	resp := postJSON(t, r, "/sessions/new", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if body["session_id"] == "" {
		t.Fatal("expected a generated session_id")
	}

	ok, err := chatSvc.Exists(context.Background(), body["session_id"])
	if err != nil {
		t.Fatalf("Exists err: %v", err)
	}
	if !ok {
		t.Fatal("expected the new session to exist")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	r, chatSvc := setupRouter(nil)
	ctx := context.Background()

	if err := chatSvc.EnsureSession(ctx, "abc"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, "abc", model.Message{Role: model.RoleUser, Content: "q"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, "abc", model.Message{Role: model.RoleAssistant, Content: "a"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body historyResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if body.SessionID != "abc" {
		t.Errorf("unexpected session_id %q", body.SessionID)
	}
	if len(body.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.SessionInfo.MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", body.SessionInfo.MessageCount)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	r, _ := setupRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if body["error"] != "session not found" {
		t.Errorf("unexpected error payload %q", body["error"])
	}
}

func TestClearEndpoint(t *testing.T) {
	r, chatSvc := setupRouter(nil)
	ctx := context.Background()

	if err := chatSvc.EnsureSession(ctx, "abc"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, "abc", model.Message{Role: model.RoleUser, Content: "q"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	resp := postJSON(t, r, "/sessions/abc/clear", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	messages, err := chatSvc.History(ctx, "abc")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty transcript after clear, got %d", len(messages))
	}

	// Clearing an already empty session stays a 200.
	resp = postJSON(t, r, "/sessions/abc/clear", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat clear, got %d", resp.Code)
	}

	resp = postJSON(t, r, "/sessions/missing/clear", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	r, chatSvc := setupRouter(nil)

	if err := chatSvc.EnsureSession(context.Background(), "abc"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc/info", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var info model.SessionInfo
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if info.SessionID != "abc" || info.MessageCount != 0 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.CreatedAt.IsZero() || info.LastActivity.IsZero() {
		t.Error("expected empty session info to report the current time")
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/missing/info", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.Code)
	}
}
