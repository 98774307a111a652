// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"

	"jarvis-go/internal/model"
	"jarvis-go/internal/service"
	"jarvis-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// clientEvent 是客户端上行事件的统一信封。
type clientEvent struct {
	Type           string              `json:"type"`
	Message        string              `json:"message"`
	ConversationID string              `json:"conversationId"`
	SessionID      string              `json:"sessionId"`
	History        []model.ChatMessage `json:"history"`
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条连接一个读循环，事件按到达顺序依次处理，因此同一连接上的
// 回合天然串行。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	defer h.chatService.Disconnect(connID)
	log.Infof("WebSocket 连接已建立: %s", connID)

	writer := &wsEventWriter{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket 连接已断开: %s (%v)", connID, err)
			break
		}

		var ev clientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Warnf("无法解析客户端事件: %v", err)
			_ = writer.WriteEvent(service.EventChatError, map[string]any{"error": "invalid event payload"})
			continue
		}

		switch ev.Type {
		case "chat":
			if err := h.chatService.HandleChat(c.Request.Context(), connID, ev.Message, ev.ConversationID, writer); err != nil {
				log.Errorf("处理聊天回合失败: %v", err)
			}
		case "restore-context":
			h.chatService.RestoreContext(connID, ev.SessionID, ev.History)
		case "clear-conversation":
			h.chatService.ClearConversation(connID, writer)
		default:
			log.Debugf("忽略未知的客户端事件类型: %q", ev.Type)
		}
	}
}

// wsEventWriter 把协议事件编码为 {"type": ..., ...payload} 的 JSON 帧。
type wsEventWriter struct {
	conn *websocket.Conn
}

// WriteEvent 满足 service.EventWriter 接口。
func (w *wsEventWriter) WriteEvent(event string, payload map[string]any) error {
	frame := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = event
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}
