package chat

import "time"

// Roles a message can carry. The model provider only ever sees these two;
// the system prompt is injected at request time and never stored.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation, as stored and as served.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
