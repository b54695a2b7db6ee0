package router

import (
	"github.com/labstack/echo/v4"

	"tradelink/internal/adapter/api/handler"
	"tradelink/internal/adapter/api/middleware"
)

// SetupChatRouter registers the conversation and messaging routes. These
// are the endpoints the polling client fetches against, so all of them
// are cheap reads apart from resolve/send/mark-read.
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)

	conversationGroup.POST("", chatHandler.ResolveConversation)          // POST /v1/conversations - find-or-create
	conversationGroup.GET("", chatHandler.ListConversations)             // GET  /v1/conversations - conversation list
	conversationGroup.GET("/unread-total", chatHandler.GetUnreadTotal)   // GET  /v1/conversations/unread-total - badge count
	conversationGroup.GET("/:id", chatHandler.GetConversationByID)       // GET  /v1/conversations/:id
	conversationGroup.PUT("/:id/read", chatHandler.MarkConversationAsRead) // PUT /v1/conversations/:id/read

	conversationGroup.POST("/:id/messages", chatHandler.SendMessage)            // POST /v1/conversations/:id/messages
	conversationGroup.GET("/:id/messages", chatHandler.GetConversationMessages) // GET  /v1/conversations/:id/messages
}
