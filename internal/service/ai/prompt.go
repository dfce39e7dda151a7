package ai

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/nimblechat/backend/internal/model/chat"
)

// documentQuery lays out extracted document text and the question about it
// as a single user turn.
func documentQuery(docText, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", docText, question)
}

// historyMessages converts the most recent stored turns into model messages.
// A non-positive limit keeps the whole transcript. Turns with unknown roles
// are skipped.
func historyMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
