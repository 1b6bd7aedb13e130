package router

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/adapter/api/handler"
	"lokapasar/internal/adapter/api/middleware"
)

// SetupChatRouter sets up the REST conversation surface (WebSocket excluded).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)

	conversations.POST("", chatHandler.CreateConversation)       // POST /v1/conversations - Start or reuse a direct conversation
	conversations.GET("", chatHandler.ListConversations)         // GET /v1/conversations - List the caller's conversations
	conversations.GET("/:id", chatHandler.GetConversation)       // GET /v1/conversations/:id - Get one conversation
	conversations.GET("/:id/messages", chatHandler.GetMessages)  // GET /v1/conversations/:id/messages - Message history
}
