package router

import (
	"rosterchat/internal/adapter/api/middleware"
	"rosterchat/internal/infrastructure/ratelimit"

	"github.com/labstack/echo/v4"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *ratelimit.RateLimiter, environment string) {
	SetupConversationRouter(e, authMiddleware, rateLimiter)
	SetupRosterRouter(e, authMiddleware, rateLimiter)
	SetupWebSocketRouter(e, authMiddleware)
	SetupHealthRouter(e)
	SetupDevRouter(e, environment)
}
