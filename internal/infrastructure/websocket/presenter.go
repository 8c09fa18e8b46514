package websocket

import (
	"rosterchat/internal/domain/entity"
)

// ClientPresenter pushes session views to one connection.
type ClientPresenter struct {
	manager *Manager
	client  *Client
}

func NewClientPresenter(manager *Manager, client *Client) *ClientPresenter {
	return &ClientPresenter{manager: manager, client: client}
}

func (p *ClientPresenter) OnConversationList(conversations []*entity.Conversation) {
	p.manager.sendToClient(p.client, outboundMessage{
		Type: MessageTypeConversationList,
		Data: ConversationListData{Conversations: conversations},
	})
}

func (p *ClientPresenter) OnMessages(conversationID string, messages []*entity.Message) {
	p.manager.sendToClient(p.client, outboundMessage{
		Type:   MessageTypeMessages,
		ChatID: conversationID,
		Data:   MessagesData{Messages: messages},
	})
}

func (p *ClientPresenter) OnDirectoryUpdate(users map[string]*entity.User) {
	p.manager.sendToClient(p.client, outboundMessage{
		Type: MessageTypeDirectory,
		Data: DirectoryData{Users: users},
	})
}

func (p *ClientPresenter) OnUnreadTotal(total int) {
	p.manager.sendToClient(p.client, outboundMessage{
		Type: MessageTypeUnreadTotal,
		Data: UnreadTotalData{Total: total},
	})
}
