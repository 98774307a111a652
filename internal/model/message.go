// Package model 包含了应用的数据模型定义。
package model

import "time"

// RoleUser 和 RoleAssistant 是对话中合法的两种角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表一次对话中的单条消息（一个 Turn）。
// Content 在流式生成期间可变，完成后不再修改。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
