package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"rosterchat/internal/domain/entity"
	"rosterchat/pkg/errors"
)

// WebSocket Message Types
const (
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeOpenConversation  = "open_conversation"
	MessageTypeCloseConversation = "close_conversation"
	MessageTypeMarkRead          = "mark_read"
	MessageTypeSendMessage       = "send_message"
	MessageTypeStartDraft        = "start_draft"

	MessageTypeConversationList = "conversation_list"
	MessageTypeMessages         = "messages"
	MessageTypeDirectory        = "directory"
	MessageTypeUnreadTotal      = "unread_total"
	MessageTypeMessageSent      = "message_sent"
	MessageTypeDraft            = "draft"
	MessageTypeError            = "error"
)

// SessionController is the chat session behind one connection.
type SessionController interface {
	OpenConversation(ctx context.Context, conversationID string) error
	CloseConversation()
	MarkRead(ctx context.Context, conversationID string) error
	Send(ctx context.Context, conversationID, text, imageURL string) (*entity.Message, error)
	StartDraft(ctx context.Context, emails []string, name string) (*entity.Conversation, error)
	UnreadTotal(excludeActive bool) int
}

// WebSocket Message Structure
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChatID    string          `json:"chat_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type outboundMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	ChatID    string      `json:"chat_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Inbound data types

type ConversationRefData struct {
	ChatID string `json:"chat_id"`
}

type SendMessageData struct {
	TempID   string `json:"temp_id"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

type StartDraftData struct {
	Emails []string `json:"emails"`
	Name   string   `json:"name"`
}

// Outbound data types

type ConversationListData struct {
	Conversations []*entity.Conversation `json:"conversations"`
}

type MessagesData struct {
	Messages []*entity.Message `json:"messages"`
}

type DirectoryData struct {
	Users map[string]*entity.User `json:"users"`
}

type UnreadTotalData struct {
	Total int `json:"total"`
}

type MessageSentData struct {
	TempID  string          `json:"temp_id,omitempty"`
	Message *entity.Message `json:"message"`
}

type DraftData struct {
	Conversation *entity.Conversation `json:"conversation"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(ctx context.Context, client *Client, session SessionController, messageBytes []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		log.Printf("WebSocket: Failed to unmarshal message from client %s: %v", client.UserID, err)
		m.sendErrorToClient(client, errors.BadRequest("Invalid message format", err), "")
		return
	}

	switch wsMessage.Type {
	case MessageTypePing:
		m.sendToClient(client, outboundMessage{Type: MessageTypePong, Data: map[string]string{"status": "alive"}})

	case MessageTypeOpenConversation:
		chatID := conversationRef(wsMessage)
		if chatID == "" {
			m.sendErrorToClient(client, errors.Validation("Missing chat_id", nil), "")
			return
		}
		if err := session.OpenConversation(ctx, chatID); err != nil {
			m.sendErrorToClient(client, err, "")
		}

	case MessageTypeCloseConversation:
		session.CloseConversation()

	case MessageTypeMarkRead:
		chatID := conversationRef(wsMessage)
		if chatID == "" {
			m.sendErrorToClient(client, errors.Validation("Missing chat_id", nil), "")
			return
		}
		if err := session.MarkRead(ctx, chatID); err != nil {
			m.sendErrorToClient(client, err, "")
			return
		}
		m.sendToClient(client, outboundMessage{
			Type: MessageTypeUnreadTotal,
			Data: UnreadTotalData{Total: session.UnreadTotal(true)},
		})

	case MessageTypeSendMessage:
		m.handleSendMessage(ctx, client, session, wsMessage)

	case MessageTypeStartDraft:
		var data StartDraftData
		if err := json.Unmarshal(wsMessage.Data, &data); err != nil {
			m.sendErrorToClient(client, errors.BadRequest("Invalid start_draft format", err), "")
			return
		}
		conversation, err := session.StartDraft(ctx, data.Emails, data.Name)
		if err != nil {
			m.sendErrorToClient(client, err, "")
			return
		}
		m.sendToClient(client, outboundMessage{
			Type:   MessageTypeDraft,
			ChatID: conversation.ID,
			Data:   DraftData{Conversation: conversation},
		})

	default:
		log.Printf("WebSocket: Unknown message type '%s' from client %s", wsMessage.Type, client.UserID)
		m.sendErrorToClient(client, errors.BadRequest("Unknown message type", nil), "")
	}
}

func (m *Manager) handleSendMessage(ctx context.Context, client *Client, session SessionController, wsMessage WSMessage) {
	var data SendMessageData
	if err := json.Unmarshal(wsMessage.Data, &data); err != nil {
		m.sendErrorToClient(client, errors.BadRequest("Invalid send message format", err), "")
		return
	}
	if data.ChatID == "" {
		data.ChatID = wsMessage.ChatID
	}
	if data.ChatID == "" {
		m.sendErrorToClient(client, errors.Validation("Missing chat_id", nil), data.TempID)
		return
	}

	message, err := session.Send(ctx, data.ChatID, data.Text, data.ImageURL)
	if err != nil {
		log.Printf("WebSocket: send from %s to %s failed: %v", client.UserID, data.ChatID, err)
		m.sendErrorToClient(client, err, data.TempID)
		return
	}

	m.sendToClient(client, outboundMessage{
		Type:   MessageTypeMessageSent,
		ChatID: message.ConversationID,
		Data:   MessageSentData{TempID: data.TempID, Message: message},
	})
}

// conversationRef accepts chat_id at the top level or inside data.
func conversationRef(wsMessage WSMessage) string {
	if wsMessage.ChatID != "" {
		return wsMessage.ChatID
	}
	var ref ConversationRefData
	if len(wsMessage.Data) > 0 && json.Unmarshal(wsMessage.Data, &ref) == nil {
		return ref.ChatID
	}
	return ""
}

func (m *Manager) sendToClient(client *Client, message outboundMessage) {
	if message.Timestamp == "" {
		message.Timestamp = time.Now().Format(time.RFC3339)
	}
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("WebSocket: Failed to marshal message for client %s: %v", client.UserID, err)
		return
	}
	client.enqueue(messageBytes)
}

func (m *Manager) sendErrorToClient(client *Client, err error, tempID string) {
	data := ErrorData{
		Code:    errors.CodeOf(err),
		Message: errors.MessageOf(err, "Something went wrong"),
		TempID:  tempID,
	}
	m.sendToClient(client, outboundMessage{Type: MessageTypeError, Data: data})
}
