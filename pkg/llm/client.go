// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"jarvis-go/internal/config"
)

// systemPrompt 是固定的助手人设，会随每次请求发送，但不进入会话历史，
// 也不允许用户修改。
const systemPrompt = `You are Jarvis, an advanced AI personal assistant inspired by the AI from Iron Man. You are:

- Highly intelligent and capable
- Helpful, efficient, and proactive
- Able to control systems, automate tasks, and provide information
- Professional yet personable
- Context-aware across conversations

You can help with:
- Answering questions and providing information
- Task automation and system control
- Scheduling and reminders
- Smart home control (when integrated)
- File and application management
- And much more

Be concise but thorough. Address the user naturally and maintain context from previous messages in the conversation.`

const defaultMaxTokens = 4096

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage 记录一次调用消耗的 token 数。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result 是一次非流式调用的完整结果。
type Result struct {
	Content string
	Usage   Usage
}

// StreamEvent 是流式调用产生的一个事件：Content 为增量文本片段，
// Err 非空表示该轮终止于错误。终止事件之后通道随即关闭。
type StreamEvent struct {
	Content string
	Err     error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 发起一次阻塞的非流式调用，返回完整文本与用量。
	Complete(ctx context.Context, messages []Message) (*Result, error)
	// StreamChat 发起流式调用，按提供方产出顺序经通道交付增量片段。
	// 请求未能发出时直接返回 error；流中途失败以带 Err 的终止事件交付。
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamEvent, error)
}

type anthropicClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client from the configured provider settings.
func NewClient(cfg config.LLMConfig) Client {
	return &anthropicClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage Usage `json:"usage"`
}

// streamChunk 是 SSE data 行的载荷。只关心文本增量与流结束两类事件。
type streamChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *anthropicClient) buildRequest(messages []Message) chatRequest {
	req := chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt,
		Messages:  messages,
	}
	if c.cfg.Generation.MaxTokens != 0 {
		req.MaxTokens = c.cfg.Generation.MaxTokens
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		req.Temperature = &t
	}
	return req
}

func (c *anthropicClient) doRequest(ctx context.Context, body chatRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/messages", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// Complete 调用 messages 接口并等待完整响应。
func (c *anthropicClient) Complete(ctx context.Context, messages []Message) (*Result, error) {
	resp, err := c.doRequest(ctx, c.buildRequest(messages))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("chat response contains no content")
	}
	return &Result{Content: parsed.Content[0].Text, Usage: parsed.Usage}, nil
}

// StreamChat 调用 messages 接口并逐行解析 SSE 流。
func (c *anthropicClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamEvent, error) {
	body := c.buildRequest(messages)
	body.Stream = true

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return
				}
				events <- StreamEvent{Err: fmt.Errorf("failed to read from stream: %w", err)}
				return
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			switch chunk.Type {
			case "content_block_delta":
				if chunk.Delta.Type == "text_delta" && chunk.Delta.Text != "" {
					events <- StreamEvent{Content: chunk.Delta.Text}
				}
			case "message_stop":
				return
			}
		}
	}()
	return events, nil
}
