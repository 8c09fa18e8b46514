package router

import (
	"github.com/labstack/echo/v4"

	"rosterchat/internal/adapter/api/handler"
	"rosterchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up WebSocket routes. Browsers pass the token as a
// query parameter on the handshake.
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", handler.GetWebSocketHandler().HandleWebSocket, authMiddleware.Authenticate)
}
