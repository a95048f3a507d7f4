// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"chat-cbd-go/internal/model"
	"chat-cbd-go/internal/service"
	"chat-cbd-go/pkg/log"
	"chat-cbd-go/pkg/provider"

	"github.com/gin-gonic/gin"
)

// unknownErrorMessage 是上游状态不可用时返回给调用方的兜底文案。
const unknownErrorMessage = "An unknown error occurred"

// ChatHandler 处理消息调度相关的 API 请求。
type ChatHandler struct {
	dispatchService service.DispatchService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(dispatchService service.DispatchService) *ChatHandler {
	return &ChatHandler{dispatchService: dispatchService}
}

// SendMessageRequest 定义了 /send-message 的请求体结构。
type SendMessageRequest struct {
	UserPrompt            model.Message `json:"userPrompt" binding:"required"`
	Type                  string        `json:"type" binding:"required,oneof=text image"`
	SelectedImageSize     string        `json:"selectedImageSize"`
	SelectedImageProvider string        `json:"selectedImageProvider"`
	ActiveConversation    *string       `json:"activeConversation"`
	UserID                string        `json:"userId" binding:"required"`
}

// SendMessage 处理一次消息调度请求，将归一化后的回复返回给调用方。
// 调用方永远看不到提供商的原始载荷。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	conversationID := ""
	if req.ActiveConversation != nil {
		conversationID = *req.ActiveConversation
	}

	result, err := h.dispatchService.SendMessage(c.Request.Context(), service.DispatchRequest{
		UserPrompt:     req.UserPrompt,
		Type:           model.MessageType(req.Type),
		ImageSize:      req.SelectedImageSize,
		ImageProvider:  req.SelectedImageProvider,
		ConversationID: conversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		status, message := mapDispatchError(err)
		log.Error("SendMessage: dispatch failed", err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	if result.Reply.Type == model.TypeImage {
		c.JSON(http.StatusOK, gin.H{
			"bot":    "",
			"type":   model.TypeImage,
			"images": result.Reply.Images,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bot":  result.Reply.Content,
		"type": model.TypeText,
	})
}

// Ping 是存活探针。
func (h *ChatHandler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// mapDispatchError 把调度错误映射为 HTTP 状态码和响应文案：
// 提供商的明确拒绝透传上游状态和消息，其余一律 500 加兜底文案。
func mapDispatchError(err error) (int, string) {
	var providerErr *provider.Error
	if errors.As(err, &providerErr) {
		status := providerErr.Status
		if status <= 0 {
			status = http.StatusInternalServerError
		}
		message := providerErr.Message
		if message == "" {
			message = unknownErrorMessage
		}
		return status, message
	}
	return http.StatusInternalServerError, unknownErrorMessage
}
