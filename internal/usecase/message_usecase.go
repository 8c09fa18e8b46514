package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/internal/domain/service"
	"rosterchat/internal/infrastructure/ratelimit"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/logger"
)

const (
	imageSummaryPrefix = "📷 "
	imageSummaryEmpty  = "📷 Sent an image"
)

type MessageUseCase struct {
	store       *ConversationStore
	repo        repository.ConversationRepository
	directory   repository.DirectoryRepository
	objectStore service.ObjectStore
	rateLimiter *ratelimit.RateLimiter
	window      int
}

func NewMessageUseCase(
	store *ConversationStore,
	repo repository.ConversationRepository,
	directory repository.DirectoryRepository,
	objectStore service.ObjectStore,
	rateLimiter *ratelimit.RateLimiter,
	window int,
) *MessageUseCase {
	if window <= 0 {
		window = DefaultMessageWindow
	}
	return &MessageUseCase{
		store:       store,
		repo:        repo,
		directory:   directory,
		objectStore: objectStore,
		rateLimiter: rateLimiter,
		window:      window,
	}
}

type SendMessageInput struct {
	ConversationID string
	Text           string
	ImageURL       string
}

// MessageSummary derives the conversation list line for a message.
func MessageSummary(text, imageURL string) string {
	if imageURL == "" {
		return text
	}
	if text == "" {
		return imageSummaryEmpty
	}
	return imageSummaryPrefix + text
}

// Send writes the message and then the parent summary. The summary patch
// restores visibility for every participant and bumps every unread counter but
// the sender's. Nothing is retried.
func (uc *MessageUseCase) Send(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error) {
	text := strings.TrimSpace(input.Text)
	imageURL := strings.TrimSpace(input.ImageURL)
	if text == "" && imageURL == "" {
		return nil, errors.Validation("Message must contain text or an image", nil)
	}

	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(senderID, ratelimit.ActionSendMessage); !allowed {
			log.Printf("SendMessage Rate Limited: User %s must wait %v", senderID, wait)
			return nil, errors.TooManyRequests(fmt.Sprintf("You are sending messages too fast, try again in %s", wait.Round(time.Second)))
		}
	}

	conversation, err := uc.store.requireParticipant(ctx, input.ConversationID, senderID)
	if err != nil {
		log.Printf("SendMessage Error: conversation %s: %v", input.ConversationID, err)
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		SenderName:     uc.senderName(ctx, conversation, senderID),
		Text:           text,
		ImageURL:       imageURL,
		Type:           entity.MessageText,
	}
	if err := uc.repo.CreateMessage(ctx, message); err != nil {
		log.Printf("SendMessage Error: failed to write message to %s: %v", conversation.ID, err)
		return nil, errors.Delivery("Failed to send message", err)
	}

	updates := []repository.FieldUpdate{
		repository.Set(repository.FieldLastMessage, MessageSummary(text, imageURL)),
		repository.ServerTimestamp(repository.FieldLastMessageTime),
		repository.ArrayUnion(repository.FieldVisibleTo, repository.StringValues(conversation.Participants...)...),
	}
	for _, participantID := range conversation.Participants {
		if participantID == senderID {
			continue
		}
		updates = append(updates, repository.Increment(repository.UnreadCountPath(participantID), 1))
	}

	if err := uc.repo.Update(ctx, conversation.ID, updates...); err != nil {
		log.Printf("SendMessage Error: message %s written but summary of %s failed: %v", message.ID, conversation.ID, err)
		return message, errors.Delivery("Message saved but the conversation could not be updated", err)
	}
	uc.dropDeparted(ctx, conversation.ID)

	return message, nil
}

// dropDeparted undoes the summary patch for members who left while the message
// was in flight, keeping visibleTo and unreadCounts within the participants.
func (uc *MessageUseCase) dropDeparted(ctx context.Context, conversationID string) {
	after, err := uc.repo.GetByID(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			logger.Warn("SendMessage: re-read of %s failed: %v", conversationID, err)
		}
		return
	}

	var updates []repository.FieldUpdate
	for _, userID := range after.VisibleTo {
		if !after.HasParticipant(userID) {
			updates = append(updates, repository.ArrayRemove(repository.FieldVisibleTo, userID))
		}
	}
	for userID := range after.UnreadCounts {
		if !after.HasParticipant(userID) {
			updates = append(updates, repository.DeleteField(repository.UnreadCountPath(userID)))
		}
	}
	if len(updates) == 0 {
		return
	}

	if err := uc.repo.Update(ctx, conversationID, updates...); err != nil && !errors.Is(err, errors.CodeNotFound) {
		logger.Warn("SendMessage: dropping departed members from %s failed: %v", conversationID, err)
	}
}

// SendImage uploads first. An upload failure writes nothing.
func (uc *MessageUseCase) SendImage(ctx context.Context, senderID, conversationID, text string, data []byte) (*entity.Message, error) {
	if _, err := uc.store.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	if uc.objectStore == nil {
		return nil, errors.Upload("Uploads are not configured", nil)
	}

	url, err := uc.objectStore.Upload(ctx, data, "chats/"+conversationID)
	if err != nil {
		log.Printf("SendImage Error: upload for conversation %s failed: %v", conversationID, err)
		return nil, asUpload(err)
	}

	return uc.Send(ctx, senderID, SendMessageInput{
		ConversationID: conversationID,
		Text:           text,
		ImageURL:       url,
	})
}

// ListMessages returns the visible window for userID, oldest first.
func (uc *MessageUseCase) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]*entity.Message, error) {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > uc.window {
		limit = uc.window
	}

	query := messageQueryFor(conversation, userID, limit)
	messages, err := uc.repo.ListMessages(ctx, conversationID, query)
	if err != nil {
		log.Printf("ListMessages Error: conversation %s: %v", conversationID, err)
		return nil, err
	}
	return filterFromCutoff(messages, query.Since), nil
}

func (uc *MessageUseCase) senderName(ctx context.Context, conversation *entity.Conversation, senderID string) string {
	if summary, ok := conversation.Summary(senderID); ok && summary.Name != "" {
		return summary.Name
	}
	if user, err := uc.directory.FindByID(ctx, senderID); err == nil {
		return displayName(user.Summary())
	}
	return senderID
}

// messageQueryFor bounds a message read by the user's hidden-history cutoff.
func messageQueryFor(conversation *entity.Conversation, userID string, limit int) repository.MessageQuery {
	query := repository.MessageQuery{Limit: limit}
	if cutoff, ok := conversation.HistoryCutoff(userID); ok {
		query.Since = cutoff
	}
	return query
}

// filterFromCutoff keeps messages created at or after since.
func filterFromCutoff(messages []*entity.Message, since time.Time) []*entity.Message {
	if since.IsZero() {
		return messages
	}
	out := messages[:0:0]
	for _, m := range messages {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out
}
