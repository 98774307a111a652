// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"jarvis-go/internal/model"
	"jarvis-go/internal/plugin"
	"jarvis-go/internal/repository"
	"jarvis-go/pkg/llm"
	"jarvis-go/pkg/log"
)

// 实时通道上服务端下发的事件名。
const (
	EventChatStream          = "chat-stream"
	EventChatComplete        = "chat-complete"
	EventChatError           = "chat-error"
	EventConversationCleared = "conversation-cleared"
)

// chat-complete 事件中 handledBy 的取值。
const (
	HandledByPlugin = "plugin"
	HandledByModel  = "model"
)

// EventWriter 抽象了向客户端下发协议事件的能力。
// WebSocket 连接在 handler 层适配该接口，测试里用内存实现替代。
type EventWriter interface {
	WriteEvent(event string, payload map[string]any) error
}

// ChatService 是实时会话的协调者：维护连接到会话的绑定，
// 驱动"追加用户消息 → 插件路由 → 流式应答 → 裁剪历史"的回合流程。
type ChatService interface {
	// RestoreContext 将连接绑定到会话，并在服务端尚无该会话历史时
	// 用客户端提交的历史播种。服务端已有的历史始终优先。
	RestoreContext(connID, sessionID string, history []model.ChatMessage)
	// HandleChat 处理一条用户消息并把全部协议事件写入 w。
	HandleChat(ctx context.Context, connID, message, conversationID string, w EventWriter) error
	// ClearConversation 清空当前绑定会话的历史并回执。会话键本身不变。
	ClearConversation(connID string, w EventWriter)
	// Disconnect 仅移除连接到会话的绑定，绝不触碰会话历史。
	Disconnect(connID string)
}

type chatService struct {
	repo         repository.ConversationRepository
	plugins      *plugin.Manager
	llmClient    llm.Client
	historyLimit int

	// bindings 是连接到会话的临时映射，随连接断开而销毁。
	bindings sync.Map // connID -> sessionID
	// turnLocks 串行化同一会话上的回合，保证每个会话至多一条生成中的助手消息。
	turnLocks sync.Map // sessionID -> *sync.Mutex
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(repo repository.ConversationRepository, plugins *plugin.Manager, llmClient llm.Client, historyLimit int) ChatService {
	return &chatService{
		repo:         repo,
		plugins:      plugins,
		llmClient:    llmClient,
		historyLimit: historyLimit,
	}
}

func (s *chatService) RestoreContext(connID, sessionID string, history []model.ChatMessage) {
	s.bindings.Store(connID, sessionID)
	if s.repo.SeedHistory(sessionID, history) {
		log.Infof("会话 %s 已从客户端恢复 %d 条历史", sessionID, len(history))
	} else {
		log.Infof("会话 %s 在服务端已有历史，忽略客户端提交的版本", sessionID)
	}
}

// resolveSession 确定本条消息归属的会话键：优先使用请求携带的
// conversationId，其次是连接已有的绑定，最后回落到连接自身的标识。
func (s *chatService) resolveSession(connID, conversationID string) string {
	sessionID := conversationID
	if sessionID == "" {
		if bound, ok := s.bindings.Load(connID); ok {
			sessionID = bound.(string)
		} else {
			sessionID = connID
		}
	}
	s.bindings.Store(connID, sessionID)
	return sessionID
}

func (s *chatService) lockSession(sessionID string) func() {
	muAny, _ := s.turnLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *chatService) HandleChat(ctx context.Context, connID, message, conversationID string, w EventWriter) error {
	if message == "" {
		_ = w.WriteEvent(EventChatError, map[string]any{"error": "Message is required"})
		return nil
	}

	sessionID := s.resolveSession(connID, conversationID)
	unlock := s.lockSession(sessionID)
	defer unlock()

	s.repo.Append(sessionID, model.ChatMessage{
		Role:      model.RoleUser,
		Content:   message,
		Timestamp: time.Now(),
	})

	// 先走插件路由，命中则完全绕开大模型
	if outcome := s.plugins.HandleCommand(ctx, message); outcome != nil {
		return s.answerFromPlugin(sessionID, outcome, w)
	}
	return s.streamFromModel(ctx, sessionID, w)
}

// answerFromPlugin 将插件结果作为单个分块下发，并照常完成回合。
func (s *chatService) answerFromPlugin(sessionID string, outcome *plugin.Outcome, w EventWriter) error {
	if !outcome.Success {
		// 插件失败不回落到大模型，失败本身就是这一回合的结果
		log.Warnf("插件 %s 处理消息失败: %s", outcome.HandledBy, outcome.Error)
		_ = w.WriteEvent(EventChatError, map[string]any{"error": outcome.Error})
		return nil
	}

	var response string
	if outcome.Result != nil {
		response = outcome.Result.Message
		if response == "" {
			b, err := json.MarshalIndent(outcome.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("无法序列化插件结果: %w", err)
			}
			response = string(b)
		}
	}

	s.repo.Append(sessionID, model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   response,
		Timestamp: time.Now(),
	})
	s.repo.Trim(sessionID, s.historyLimit)

	_ = w.WriteEvent(EventChatStream, map[string]any{
		"chunk":     response,
		"messageId": time.Now().UnixMilli(),
	})
	_ = w.WriteEvent(EventChatComplete, map[string]any{
		"response":       response,
		"conversationId": sessionID,
		"handledBy":      HandledByPlugin,
	})
	return nil
}

// streamFromModel 打开模型流，逐分块更新生成中的助手消息并转发给客户端。
func (s *chatService) streamFromModel(ctx context.Context, sessionID string, w EventWriter) error {
	history := s.repo.GetHistory(sessionID)
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	// 断开连接不会取消进行中的模型调用：流继续消费完并照常落历史，
	// 只是事件写不出去而已。
	events, err := s.llmClient.StreamChat(context.WithoutCancel(ctx), messages)
	if err != nil {
		_ = w.WriteEvent(EventChatError, map[string]any{"error": err.Error()})
		return err
	}

	for ev := range events {
		if ev.Err != nil {
			// 失败的回合不在历史中留下半成品
			s.repo.AbortStream(sessionID)
			_ = w.WriteEvent(EventChatError, map[string]any{"error": ev.Err.Error()})
			return ev.Err
		}
		s.repo.AppendStreamChunk(sessionID, ev.Content)
		_ = w.WriteEvent(EventChatStream, map[string]any{
			"chunk":     ev.Content,
			"messageId": time.Now().UnixMilli(),
		})
	}

	fullResponse := s.repo.CompleteStream(sessionID)
	s.repo.Trim(sessionID, s.historyLimit)
	_ = w.WriteEvent(EventChatComplete, map[string]any{
		"response":       fullResponse,
		"conversationId": sessionID,
		"handledBy":      HandledByModel,
	})
	return nil
}

func (s *chatService) ClearConversation(connID string, w EventWriter) {
	if bound, ok := s.bindings.Load(connID); ok {
		s.repo.Clear(bound.(string))
	}
	_ = w.WriteEvent(EventConversationCleared, map[string]any{})
}

func (s *chatService) Disconnect(connID string) {
	// 只清理绑定，会话历史跨连接存活
	s.bindings.Delete(connID)
}
