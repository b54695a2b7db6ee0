package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"tradelink/internal/usecase"
	"tradelink/pkg/response"
)

type ChatHandler struct {
	chatUseCase     *usecase.ChatUseCase
	messagePageSize int
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, messagePageSize int) *ChatHandler {
	return &ChatHandler{
		chatUseCase:     chatUseCase,
		messagePageSize: messagePageSize,
	}
}

type resolveConversationRequest struct {
	CounterpartID  string `json:"counterpart_id" validate:"required"`
	ProductID      string `json:"product_id"`
	Subject        string `json:"subject"`
	InitialMessage string `json:"initial_message"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// ResolveConversation finds or creates the conversation between the
// authenticated buyer and a counterpart, optionally scoped to a product.
func (h *ChatHandler) ResolveConversation(c echo.Context) error {
	var req resolveConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, _ := c.Get("uid").(string)

	conversation, err := h.chatUseCase.ResolveConversation(c.Request().Context(), userID, usecase.ResolveConversationInput{
		CounterpartID:  req.CounterpartID,
		ProductID:      req.ProductID,
		Subject:        req.Subject,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// ListConversations returns the authenticated user's conversation list,
// most recently active first.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	userID, _ := c.Get("uid").(string)

	limit, offset := paginationParams(c, 20)

	conversations, total, err := h.chatUseCase.ListConversations(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, conversations, total, limit, offset)
}

// GetConversationByID returns a single conversation.
func (h *ChatHandler) GetConversationByID(c echo.Context) error {
	conversationID := c.Param("id")
	userID, _ := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetConversationByID(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// SendMessage appends a message to a conversation.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	userID, _ := c.Get("uid").(string)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ConversationID: conversationID,
		Content:        req.Content,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetConversationMessages returns a conversation's messages in their
// canonical order (createdAt ascending, id tie-break).
func (h *ChatHandler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("id")
	userID, _ := c.Get("uid").(string)

	limit, offset := paginationParams(c, h.messagePageSize)

	messages, total, err := h.chatUseCase.GetConversationMessages(c.Request().Context(), userID, conversationID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, messages, total, limit, offset)
}

// MarkConversationAsRead marks every other-party message as read for the
// authenticated user and returns the updated conversation.
func (h *ChatHandler) MarkConversationAsRead(c echo.Context) error {
	conversationID := c.Param("id")
	userID, _ := c.Get("uid").(string)

	conversation, err := h.chatUseCase.MarkConversationAsRead(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetUnreadTotal returns the aggregate unread count across all of the
// user's conversations, for badge display.
func (h *ChatHandler) GetUnreadTotal(c echo.Context) error {
	userID, _ := c.Get("uid").(string)

	total, err := h.chatUseCase.UnreadTotal(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"unread_total": total})
}

func paginationParams(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
