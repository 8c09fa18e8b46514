package handler

import (
	"context"
	"log"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"rosterchat/internal/adapter/api/middleware"
	ws "rosterchat/internal/infrastructure/websocket"
	"rosterchat/internal/usecase"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/logger"
	"rosterchat/pkg/response"
)

// SessionFactory builds the chat session that drives one connection.
type SessionFactory func(presenter usecase.Presenter) *usecase.ChatSession

type WebSocketHandler struct {
	wsManager  *ws.Manager
	newSession SessionFactory
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, newSession SessionFactory) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		newSession: newSession,
	}
}

// HandleWebSocket upgrades the request and runs a chat session for the
// authenticated user until the connection closes.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WebSocket Error: upgrade failed for %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(userID, conn)
	if !h.wsManager.RegisterClient(client) {
		conn.Close()
		return nil
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	session := h.newSession(ws.NewClientPresenter(h.wsManager, client))

	go client.WritePump()

	if err := session.Start(ctx, userID); err != nil {
		logger.Error("WebSocket: session start failed for %s: %v", userID, err)
		cancel()
		h.wsManager.UnregisterClient(client)
		return nil
	}

	logger.Info("WebSocket: session started for %s", userID)

	go func() {
		defer cancel()
		defer session.Stop()
		client.ReadPump(ctx, h.wsManager, session)
	}()

	return nil
}
