package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	ws "rosterchat/internal/infrastructure/websocket"
)

type HealthHandler struct {
	storeBackend string
	redisClient  *redis.Client
	wsManager    *ws.Manager
}

var healthHandler *HealthHandler

func NewHealthHandler(storeBackend string, redisClient *redis.Client, wsManager *ws.Manager) *HealthHandler {
	return &HealthHandler{
		storeBackend: storeBackend,
		redisClient:  redisClient,
		wsManager:    wsManager,
	}
}

func SetupHealthHandler(storeBackend string, redisClient *redis.Client, wsManager *ws.Manager) {
	healthHandler = NewHealthHandler(storeBackend, redisClient, wsManager)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "Server is running",
		"time":         time.Now().Format(time.RFC3339),
		"store":        h.storeBackend,
		"online_users": h.wsManager.OnlineUsers(),
	})
}

// CheckCacheHealth pings the directory cache. A server without Redis reports
// the cache as disabled.
func (h *HealthHandler) CheckCacheHealth(c echo.Context) error {
	if h.redisClient == nil {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "Directory cache disabled",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "Redis connection failed",
			"error":  err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "Redis connected successfully",
	})
}
