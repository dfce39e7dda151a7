package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/nimblechat/backend/internal/config"
	"github.com/nimblechat/backend/internal/model/chat"
)

// Service answers questions through the configured language model. It
// serves two prompt shapes: conversational replies that carry recent
// history, and document questions that carry extracted file text instead.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the model client and compiles the prompt chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether streamed replies are allowed.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateReply produces the assistant's next turn for a conversation.
// History is windowed to the configured limit before prompting.
func (s *Service) GenerateReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error) {
	input := s.chainInput(historyMessages(history, s.cfg.HistoryLimit), userMessage)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil, fmt.Errorf("model returned an empty reply")
	}

	log.Printf("[ai] generated reply for session=%s, length=%d", sessionID, len(response.Content))
	return response, nil
}

// StreamReply streams the assistant's next turn chunk by chunk.
func (s *Service) StreamReply(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input := s.chainInput(historyMessages(history, s.cfg.HistoryLimit), userMessage)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	log.Printf("[ai] streaming reply for session=%s", sessionID)
	return stream, nil
}

// AnswerDocument answers a question about extracted document text. The
// document rides in the user turn, without conversation history.
func (s *Service) AnswerDocument(ctx context.Context, docText, question string) (*schema.Message, error) {
	input := s.chainInput(nil, documentQuery(docText, question))

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil, fmt.Errorf("model returned an empty reply")
	}

	log.Printf("[ai] answered document question, length=%d", len(response.Content))
	return response, nil
}

func (s *Service) chainInput(history []*schema.Message, query string) map[string]any {
	return map[string]any{
		"system":  s.cfg.SystemPrompt,
		"history": history,
		"query":   query,
	}
}
