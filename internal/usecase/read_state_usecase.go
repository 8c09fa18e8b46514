package usecase

import (
	"context"
	"log"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
)

type ReadStateUseCase struct {
	store *ConversationStore
	repo  repository.ConversationRepository
}

func NewReadStateUseCase(store *ConversationStore, repo repository.ConversationRepository) *ReadStateUseCase {
	return &ReadStateUseCase{store: store, repo: repo}
}

// MarkRead zeroes only the caller's own counter key, so concurrent marks by
// other users and concurrent increments for them are untouched.
func (uc *ReadStateUseCase) MarkRead(ctx context.Context, conversationID, userID string) error {
	if _, err := uc.store.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	if err := uc.store.PatchConversation(ctx, conversationID,
		repository.Set(repository.UnreadCountPath(userID), 0),
	); err != nil {
		log.Printf("MarkRead Error: conversation %s user %s: %v", conversationID, userID, err)
		return asDelivery(err, "Failed to mark conversation as read")
	}
	return nil
}

func (uc *ReadStateUseCase) UnreadTotal(ctx context.Context, userID, excludeConversationID string) (int, error) {
	conversations, err := uc.repo.ListVisibleTo(ctx, userID)
	if err != nil {
		log.Printf("UnreadTotal Error: user %s: %v", userID, err)
		return 0, err
	}
	return SumUnread(conversations, userID, excludeConversationID), nil
}

// SumUnread adds up userID's counters, skipping excludeConversationID.
func SumUnread(conversations []*entity.Conversation, userID, excludeConversationID string) int {
	total := 0
	for _, c := range conversations {
		if c.ID == excludeConversationID {
			continue
		}
		if n := c.UnreadFor(userID); n > 0 {
			total += n
		}
	}
	return total
}
