// Package repository 提供了数据访问层的实现。
package repository

import (
	"sync"
	"time"

	"jarvis-go/internal/model"
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 历史只存在于进程内存中，随进程退出而消失；会话身份独立于任何一条连接。
type ConversationRepository interface {
	// GetHistory 返回指定会话的历史副本；会话不存在时创建一个空会话。
	GetHistory(sessionID string) []model.ChatMessage
	// Append 向会话追加一条已完成的消息。
	Append(sessionID string, msg model.ChatMessage)
	// SeedHistory 仅在会话尚无历史时写入给定历史（重连恢复场景，
	// 服务端已有的历史优先）。返回是否实际写入。
	SeedHistory(sessionID string, history []model.ChatMessage) bool
	// AppendStreamChunk 向会话末尾的"生成中"助手消息追加一个分块，
	// 首个分块会创建该消息。每个会话同一时刻至多一条生成中的消息。
	AppendStreamChunk(sessionID, chunk string)
	// CompleteStream 将生成中的助手消息定稿并返回其完整内容。
	CompleteStream(sessionID string) string
	// AbortStream 丢弃生成中的助手消息，历史中不留下半成品。
	AbortStream(sessionID string)
	// Trim 从最旧的消息开始裁剪，直到长度不超过 max；
	// 不会裁掉末尾处于生成中的消息。对已裁剪的历史重复调用是空操作。
	Trim(sessionID string, max int)
	// Clear 删除整个会话的历史；会话键之后可以复用。
	Clear(sessionID string)
}

// conversation 保存单个会话的消息序列及其流式状态。
type conversation struct {
	messages []model.ChatMessage
	// streaming 为 true 时，messages 的最后一条是生成中的助手消息。
	streaming bool
}

type memoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewConversationRepository 创建一个新的进程内 ConversationRepository 实例。
func NewConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[string]*conversation),
	}
}

// getOrCreate 需要持有写锁调用。
func (r *memoryConversationRepository) getOrCreate(sessionID string) *conversation {
	c, ok := r.conversations[sessionID]
	if !ok {
		c = &conversation{}
		r.conversations[sessionID] = c
	}
	return c
}

// GetHistory 返回会话历史的副本，避免调用方持有内部切片。
func (r *memoryConversationRepository) GetHistory(sessionID string) []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.getOrCreate(sessionID)
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (r *memoryConversationRepository) Append(sessionID string, msg model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.getOrCreate(sessionID)
	c.messages = append(c.messages, msg)
}

func (r *memoryConversationRepository) SeedHistory(sessionID string, history []model.ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[sessionID]
	if ok && len(c.messages) > 0 {
		// 服务端已有历史，忽略客户端提交的版本
		return false
	}
	seeded := make([]model.ChatMessage, len(history))
	copy(seeded, history)
	r.conversations[sessionID] = &conversation{messages: seeded}
	return true
}

func (r *memoryConversationRepository) AppendStreamChunk(sessionID, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.getOrCreate(sessionID)
	if !c.streaming {
		c.messages = append(c.messages, model.ChatMessage{
			Role:      model.RoleAssistant,
			Timestamp: time.Now(),
		})
		c.streaming = true
	}
	c.messages[len(c.messages)-1].Content += chunk
}

func (r *memoryConversationRepository) CompleteStream(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.getOrCreate(sessionID)
	if !c.streaming {
		return ""
	}
	c.streaming = false
	return c.messages[len(c.messages)-1].Content
}

func (r *memoryConversationRepository) AbortStream(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[sessionID]
	if !ok || !c.streaming {
		return
	}
	c.messages = c.messages[:len(c.messages)-1]
	c.streaming = false
}

func (r *memoryConversationRepository) Trim(sessionID string, max int) {
	if max < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[sessionID]
	if !ok {
		return
	}
	excess := len(c.messages) - max
	if excess <= 0 {
		return
	}
	// 生成中的末尾消息永远保留
	if c.streaming && excess >= len(c.messages) {
		excess = len(c.messages) - 1
	}
	c.messages = append([]model.ChatMessage(nil), c.messages[excess:]...)
}

func (r *memoryConversationRepository) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, sessionID)
}
