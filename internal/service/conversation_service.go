package service

import (
	"context"
	"time"

	"jarvis-go/internal/model"
	"jarvis-go/internal/repository"
	"jarvis-go/pkg/llm"
)

// SendResult 是一次非流式问答的结果。
type SendResult struct {
	Response       string
	ConversationID string
	Usage          llm.Usage
}

// ConversationService 定义了无状态 REST 路径上的对话操作。
// 与实时路径共享同一个存储，但不经过插件路由，也不流式返回。
type ConversationService interface {
	// SendMessage 追加用户消息、阻塞调用模型、追加助手消息并裁剪历史。
	SendMessage(ctx context.Context, message, conversationID string) (*SendResult, error)
	// GetHistory 返回指定会话的历史。
	GetHistory(conversationID string) []model.ChatMessage
	// ClearHistory 删除指定会话的历史。
	ClearHistory(conversationID string)
}

type conversationService struct {
	repo         repository.ConversationRepository
	llmClient    llm.Client
	historyLimit int
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(repo repository.ConversationRepository, llmClient llm.Client, historyLimit int) ConversationService {
	return &conversationService{
		repo:         repo,
		llmClient:    llmClient,
		historyLimit: historyLimit,
	}
}

func (s *conversationService) SendMessage(ctx context.Context, message, conversationID string) (*SendResult, error) {
	s.repo.Append(conversationID, model.ChatMessage{
		Role:      model.RoleUser,
		Content:   message,
		Timestamp: time.Now(),
	})

	history := s.repo.GetHistory(conversationID)
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	result, err := s.llmClient.Complete(ctx, messages)
	if err != nil {
		// 模型失败的回合不落任何助手消息
		return nil, err
	}

	s.repo.Append(conversationID, model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   result.Content,
		Timestamp: time.Now(),
	})
	s.repo.Trim(conversationID, s.historyLimit)

	return &SendResult{
		Response:       result.Content,
		ConversationID: conversationID,
		Usage:          result.Usage,
	}, nil
}

func (s *conversationService) GetHistory(conversationID string) []model.ChatMessage {
	return s.repo.GetHistory(conversationID)
}

func (s *conversationService) ClearHistory(conversationID string) {
	s.repo.Clear(conversationID)
}
