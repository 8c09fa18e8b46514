package usecase

import (
	"context"
	"log"
	"strings"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

// ConversationStore guards the persisted model: every write goes through
// field-level updates, and creation enforces the participant invariants.
type ConversationStore struct {
	repo repository.ConversationRepository
}

func NewConversationStore(repo repository.ConversationRepository) *ConversationStore {
	return &ConversationStore{repo: repo}
}

type CreateConversationInput struct {
	// ID is optional. Drafts and roster conversations bring their own.
	ID             string
	ParticipantIDs []string
	Summaries      []entity.ParticipantSummary
	Kind           entity.ConversationKind
	Name           string
	RosterID       string
}

func (s *ConversationStore) CreateConversation(ctx context.Context, input CreateConversationInput) (*entity.Conversation, error) {
	ids := uniqueInOrder(input.ParticipantIDs)
	if len(ids) < 2 {
		log.Printf("CreateConversation Error: only %d distinct participants", len(ids))
		return nil, errors.Validation("A conversation needs at least two participants", nil)
	}
	if !input.Kind.Valid() {
		return nil, errors.Validation("Unknown conversation type", nil)
	}
	if input.Kind == entity.ConversationDirect && len(ids) != 2 {
		return nil, errors.Validation("A direct conversation has exactly two participants", nil)
	}

	unread := make(map[string]int, len(ids))
	for _, id := range ids {
		unread[id] = 0
	}

	conversation := &entity.Conversation{
		ID:                 input.ID,
		Type:               input.Kind,
		Name:               strings.TrimSpace(input.Name),
		Participants:       ids,
		VisibleTo:          append([]string(nil), ids...),
		ParticipantDetails: orderSummaries(ids, input.Summaries),
		UnreadCounts:       unread,
		RosterID:           input.RosterID,
	}

	if err := s.repo.Create(ctx, conversation); err != nil {
		log.Printf("CreateConversation Error: %v", err)
		return nil, err
	}
	return conversation, nil
}

func (s *ConversationStore) PatchConversation(ctx context.Context, id string, updates ...repository.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.repo.Update(ctx, id, updates...); err != nil {
		log.Printf("PatchConversation Error: conversation %s: %v", id, err)
		return err
	}
	return nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		log.Printf("DeleteConversation Error: conversation %s: %v", id, err)
		return err
	}
	return nil
}

// AppendSystemMessage writes a system message and then moves the summary line
// to it. System events neither bump unread counters nor restore visibility.
func (s *ConversationStore) AppendSystemMessage(ctx context.Context, conversationID, text string) (*entity.Message, error) {
	message := &entity.Message{
		ConversationID: conversationID,
		Text:           text,
		Type:           entity.MessageSystem,
	}
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		log.Printf("AppendSystemMessage Error: conversation %s: %v", conversationID, err)
		return nil, errors.Delivery("Failed to write system message", err)
	}

	err := s.repo.Update(ctx, conversationID,
		repository.Set(repository.FieldLastMessage, text),
		repository.ServerTimestamp(repository.FieldLastMessageTime),
	)
	if err != nil {
		log.Printf("AppendSystemMessage Error: summary for conversation %s: %v", conversationID, err)
		return message, errors.Delivery("Failed to update conversation summary", err)
	}
	return message, nil
}

// requireParticipant loads a conversation and checks userID belongs to it.
func (s *ConversationStore) requireParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	conversation, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errNotParticipant()
	}
	return conversation, nil
}

func errNotParticipant() error {
	return errors.Forbidden("You are not a participant in this conversation", nil)
}

func uniqueInOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// orderSummaries returns one summary per participant in participant order,
// filling gaps with an id-only summary.
func orderSummaries(ids []string, summaries []entity.ParticipantSummary) []entity.ParticipantSummary {
	byID := make(map[string]entity.ParticipantSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	out := make([]entity.ParticipantSummary, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			s = entity.ParticipantSummary{ID: id}
		}
		out = append(out, s)
	}
	return out
}

// ListConversations returns what userID currently sees, newest activity first.
func (s *ConversationStore) ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	conversations, err := s.repo.ListVisibleTo(ctx, userID)
	if err != nil {
		log.Printf("ListConversations Error: user %s: %v", userID, err)
		return nil, err
	}
	return onlyVisibleTo(conversations, userID), nil
}

func (s *ConversationStore) GetForParticipant(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	return s.requireParticipant(ctx, conversationID, userID)
}

func onlyVisibleTo(conversations []*entity.Conversation, userID string) []*entity.Conversation {
	out := conversations[:0:0]
	for _, c := range conversations {
		if c.IsVisibleTo(userID) {
			out = append(out, c)
		}
	}
	return out
}
