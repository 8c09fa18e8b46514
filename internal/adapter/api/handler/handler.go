package handler

import (
	ws "rosterchat/internal/infrastructure/websocket"
	"rosterchat/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	webSocketHandler    *WebSocketHandler
)

func Setup(
	store *usecase.ConversationStore,
	membership *usecase.MembershipUseCase,
	messages *usecase.MessageUseCase,
	readState *usecase.ReadStateUseCase,
	engine *usecase.SyncEngine,
	wsManager *ws.Manager,
	maxUpload int64,
) {
	conversationHandler = NewConversationHandler(store, membership, messages, readState, engine.Window(), maxUpload)
	webSocketHandler = NewWebSocketHandler(wsManager, func(presenter usecase.Presenter) *usecase.ChatSession {
		return usecase.NewChatSession(engine, membership, messages, readState, presenter)
	})
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
