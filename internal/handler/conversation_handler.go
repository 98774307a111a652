package handler

import (
	"net/http"

	"jarvis-go/internal/service"
	"jarvis-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理非流式的对话 REST 请求。
// 响应采用与实时通道并存的扁平 JSON 契约（response/history/error）。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type sendRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Send 处理一次阻塞式问答请求。
func (h *ConversationHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = "default"
	}

	result, err := h.service.SendMessage(c.Request.Context(), req.Message, req.ConversationID)
	if err != nil {
		log.Errorf("非流式问答失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":       result.Response,
		"conversationId": result.ConversationID,
		"usage":          result.Usage,
	})
}

// GetHistory 返回指定会话的历史。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	conversationID := c.Param("conversationId")
	c.JSON(http.StatusOK, gin.H{
		"history": h.service.GetHistory(conversationID),
	})
}

// ClearHistory 删除指定会话的历史。
func (h *ConversationHandler) ClearHistory(c *gin.Context) {
	conversationID := c.Param("conversationId")
	h.service.ClearHistory(conversationID)
	c.JSON(http.StatusOK, gin.H{"message": "Conversation cleared"})
}
