package ai

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/nimblechat/backend/internal/model/chat"
)

func TestHistoryMessagesWindowing(t *testing.T) {
	var messages []chat.Message
	for i := 0; i < 25; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		messages = append(messages, chat.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	history := historyMessages(messages, 10)
	if len(history) != 10 {
		t.Fatalf("expected window of 10, got %d", len(history))
	}
	if history[0].Content != "turn 15" {
		t.Errorf("expected window to start at turn 15, got %q", history[0].Content)
	}
	if history[9].Content != "turn 24" {
		t.Errorf("expected window to end at turn 24, got %q", history[9].Content)
	}
}

func TestHistoryMessagesNoLimit(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleAssistant, Content: "b"},
		{Role: chat.RoleUser, Content: "c"},
	}

	history := historyMessages(messages, 0)
	if len(history) != 3 {
		t.Fatalf("expected full transcript with limit 0, got %d messages", len(history))
	}
}

func TestHistoryMessagesRoles(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "question"},
		{Role: chat.RoleAssistant, Content: "answer"},
		{Role: "tool", Content: "ignored"},
	}

	history := historyMessages(messages, 10)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages after role filtering, got %d", len(history))
	}
	if history[0].Role != schema.User {
		t.Errorf("expected first message role user, got %s", history[0].Role)
	}
	if history[1].Role != schema.Assistant {
		t.Errorf("expected second message role assistant, got %s", history[1].Role)
	}
}

func TestHistoryMessagesEmpty(t *testing.T) {
	if got := historyMessages(nil, 10); got != nil {
		t.Fatalf("expected nil history for empty transcript, got %v", got)
	}
}

func TestDocumentQuery(t *testing.T) {
	query := documentQuery("some extracted text", "What is this about?")

	if !strings.HasPrefix(query, "Context:\nsome extracted text") {
		t.Errorf("query missing context block: %q", query)
	}
	if !strings.HasSuffix(query, "Question: What is this about?") {
		t.Errorf("query missing question line: %q", query)
	}
}
