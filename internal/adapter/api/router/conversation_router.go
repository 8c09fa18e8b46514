package router

import (
	"github.com/labstack/echo/v4"

	"rosterchat/internal/adapter/api/handler"
	"rosterchat/internal/adapter/api/middleware"
	"rosterchat/internal/infrastructure/ratelimit"
)

// SetupConversationRouter sets up the REST surface of the chat core. Live
// updates go through the WebSocket route.
func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()

	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)

	conversations.GET("", conversationHandler.ListConversations)
	conversations.POST("", conversationHandler.CreateConversation)
	conversations.GET("/unread", conversationHandler.UnreadTotal)
	conversations.GET("/:id", conversationHandler.GetConversation)
	conversations.DELETE("/:id", conversationHandler.Hide)

	// Messages. Send limits are enforced inside the use case.
	conversations.GET("/:id/messages", conversationHandler.GetMessages)
	conversations.POST("/:id/messages", conversationHandler.SendMessage)
	conversations.POST("/:id/images", conversationHandler.SendImage)
	conversations.PUT("/:id/read", conversationHandler.MarkRead)

	// Membership
	conversations.POST("/:id/participants", conversationHandler.AddParticipant)
	conversations.DELETE("/:id/participants/:uid", conversationHandler.RemoveParticipant)
	conversations.POST("/:id/leave", conversationHandler.Leave)
	conversations.PUT("/:id/name", conversationHandler.Rename)
	conversations.PUT("/:id/photo", conversationHandler.UpdatePhoto, middleware.RateLimit(rateLimiter, ratelimit.ActionUploadPhoto))
}

// SetupRosterRouter exposes conversation creation for the roster flow.
func SetupRosterRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()

	rosters := e.Group("/v1/rosters")
	rosters.Use(authMiddleware.Authenticate)
	rosters.POST("/:rosterId/conversation", conversationHandler.CreateRosterConversation,
		middleware.RateLimit(rateLimiter, ratelimit.ActionCreateConversation))
}
