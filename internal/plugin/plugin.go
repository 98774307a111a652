// Package plugin 实现了可扩展的命令插件系统：插件注册触发词，
// 命中的消息由插件本地应答，不再经过大模型。
package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jarvis-go/pkg/log"
)

// Result 是命令处理器返回的结构化结果。
// Message 为可直接展示给用户的摘要，可以为空；Data 为自由格式的载荷。
type Result struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// HandlerFunc 处理一条命中触发词的用户消息。
type HandlerFunc func(ctx context.Context, message string) (*Result, error)

// Command 是插件贡献的一条命令定义。
type Command struct {
	Trigger     string
	Description string
	Handler     HandlerFunc
}

// Plugin 是插件必须实现的能力接口。
type Plugin interface {
	Name() string
	Description() string
	// Initialize 在注册时调用一次，失败会使注册失败。
	Initialize() error
	Commands() []Command
}

// Outcome 是一次命令分发的结果。
type Outcome struct {
	Success   bool    `json:"success"`
	Result    *Result `json:"result,omitempty"`
	HandledBy string  `json:"handledBy"`
	Error     string  `json:"error,omitempty"`
}

// PluginInfo 描述一个已注册的插件。
type PluginInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
}

// registration 保持触发词的注册顺序：消息命中多个触发词时，先注册者生效。
type registration struct {
	trigger string
	handler HandlerFunc
}

// Manager 持有全部已注册的插件与命令。
// 注册在启动阶段完成；运行期只做只读的分发，因此用读写锁保护。
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	commands []registration
}

// NewManager 创建一个空的插件管理器。
func NewManager() *Manager {
	return &Manager{plugins: make(map[string]Plugin)}
}

// Register 注册一个插件并初始化它。
// 插件名或触发词重复属于配置错误，返回 error 由调用方在启动时处置。
func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[p.Name()]; exists {
		return fmt.Errorf("插件 %s 已经注册", p.Name())
	}
	for _, cmd := range p.Commands() {
		for _, reg := range m.commands {
			if strings.EqualFold(reg.trigger, cmd.Trigger) {
				return fmt.Errorf("插件 %s 的触发词 %q 与已注册命令冲突", p.Name(), cmd.Trigger)
			}
		}
	}

	if err := p.Initialize(); err != nil {
		return fmt.Errorf("插件 %s 初始化失败: %w", p.Name(), err)
	}

	for _, cmd := range p.Commands() {
		m.commands = append(m.commands, registration{trigger: cmd.Trigger, handler: cmd.Handler})
	}
	m.plugins[p.Name()] = p
	log.Infof("插件已注册: %s", p.Name())
	return nil
}

// HandleCommand 检查消息是否命中某条命令并执行它。
// 按注册顺序扫描，触发词以大小写不敏感的子串方式匹配，首个命中者生效；
// 没有任何命中时返回 nil，调用方回落到大模型。
func (m *Manager) HandleCommand(ctx context.Context, message string) *Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowered := strings.ToLower(message)
	for _, reg := range m.commands {
		if !strings.Contains(lowered, strings.ToLower(reg.trigger)) {
			continue
		}
		result, err := reg.handler(ctx, message)
		if err != nil {
			return &Outcome{Success: false, Error: err.Error(), HandledBy: reg.trigger}
		}
		return &Outcome{Success: true, Result: result, HandledBy: reg.trigger}
	}
	return nil
}

// List 返回所有已注册插件的描述信息。
func (m *Manager) List() []PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(m.plugins))
	for _, p := range m.plugins {
		info := PluginInfo{Name: p.Name(), Description: p.Description()}
		for _, cmd := range p.Commands() {
			info.Commands = append(info.Commands, cmd.Trigger)
		}
		infos = append(infos, info)
	}
	return infos
}

// Unregister 注销一个插件及其全部命令，返回插件是否存在。
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[name]
	if !ok {
		return false
	}
	for _, cmd := range p.Commands() {
		for i, reg := range m.commands {
			if strings.EqualFold(reg.trigger, cmd.Trigger) {
				m.commands = append(m.commands[:i], m.commands[i+1:]...)
				break
			}
		}
	}
	delete(m.plugins, name)
	log.Infof("插件已注销: %s", name)
	return true
}
