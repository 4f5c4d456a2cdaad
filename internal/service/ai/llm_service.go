package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// Service encapsulates AI-powered chat functionality
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the service with the model selected by cfg: the offline
// echo model when Mock is set, otherwise Ark.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	var (
		chatModel model.ChatModel
		err       error
	)
	if cfg.Mock {
		chatModel = NewEchoModel()
	} else {
		chatModel, err = cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel builds the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig) (*Service, error) {
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

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateReply answers query in one call.
func (s *Service) GenerateReply(ctx context.Context, sessionID string, history []chat.StoredMessage, query, quote string) (*schema.Message, error) {
	input := s.buildChainInput(history, query, quote)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated reply for session=%s, length=%d", sessionID, len(response.Content))
	return response, nil
}

// StreamReply streams reply chunks via the configured chain.
func (s *Service) StreamReply(ctx context.Context, history []chat.StoredMessage, query, quote string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input := s.buildChainInput(history, query, quote)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	return stream, nil
}

// GetChatModel 返回底层的聊天模型
func (s *Service) GetChatModel() model.ChatModel {
	return s.chatModel
}

func (s *Service) buildChainInput(history []chat.StoredMessage, query, quote string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(s.cfg.SystemPrompt),
		"history": s.buildHistoryMessages(history),
		"query":   buildQuery(query, quote),
	}
}

// buildHistoryMessages keeps the most recent HistoryLimit messages.
func (s *Service) buildHistoryMessages(messages []chat.StoredMessage) []*schema.Message {
	limit := s.cfg.HistoryLimit
	if len(messages) == 0 || limit <= 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > limit {
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
