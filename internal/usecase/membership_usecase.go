package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/internal/domain/service"
	"rosterchat/internal/infrastructure/ratelimit"
	"rosterchat/pkg/errors"
)

type MembershipUseCase struct {
	store       *ConversationStore
	repo        repository.ConversationRepository
	directory   repository.DirectoryRepository
	objectStore service.ObjectStore
	rateLimiter *ratelimit.RateLimiter
}

func NewMembershipUseCase(
	store *ConversationStore,
	repo repository.ConversationRepository,
	directory repository.DirectoryRepository,
	objectStore service.ObjectStore,
	rateLimiter *ratelimit.RateLimiter,
) *MembershipUseCase {
	return &MembershipUseCase{
		store:       store,
		repo:        repo,
		directory:   directory,
		objectStore: objectStore,
		rateLimiter: rateLimiter,
	}
}

// ConversationResolution is the outcome of resolving a set of recipients. When
// no matching conversation exists, Conversation is an unsaved Pending draft.
type ConversationResolution struct {
	Conversation *entity.Conversation
	Participants []*entity.User
	Existing     bool
}

type ConversationResult struct {
	Conversation *entity.Conversation `json:"conversation"`
	Participants []*entity.User       `json:"participants"`
	Created      bool                 `json:"created"`
}

// ResolveConversation looks up the recipients and returns the conversation that
// already holds exactly this participant set, or a Pending draft. Nothing is
// persisted for a draft.
func (uc *MembershipUseCase) ResolveConversation(ctx context.Context, myID string, otherEmails []string, name string) (*ConversationResolution, error) {
	me, err := uc.directory.FindByID(ctx, myID)
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			log.Printf("ResolveConversation Error: failed to load user %s: %v", myID, err)
			return nil, err
		}
		me = &entity.User{ID: myID}
	}

	others, err := uc.resolveEmails(ctx, otherEmails)
	if err != nil {
		return nil, err
	}

	participants := []*entity.User{me}
	seen := map[string]bool{myID: true}
	for _, u := range others {
		if u == nil || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		participants = append(participants, u)
	}
	if len(participants) < 2 {
		log.Printf("ResolveConversation Error: no valid recipients for user %s", myID)
		return nil, errors.Validation("No valid users found", nil)
	}

	ids := make([]string, len(participants))
	summaries := make([]entity.ParticipantSummary, len(participants))
	for i, u := range participants {
		ids[i] = u.ID
		summaries[i] = u.Summary()
	}

	existing, err := uc.findExisting(ctx, myID, ids)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.IsVisibleTo(myID) {
			if err := uc.store.PatchConversation(ctx, existing.ID,
				repository.ArrayUnion(repository.FieldVisibleTo, myID),
			); err != nil {
				return nil, err
			}
			existing.VisibleTo = append(existing.VisibleTo, myID)
		}
		return &ConversationResolution{Conversation: existing, Participants: participants, Existing: true}, nil
	}

	kind := entity.ConversationGroup
	if len(ids) == 2 {
		kind = entity.ConversationDirect
	}

	unread := make(map[string]int, len(ids))
	for _, id := range ids {
		unread[id] = 0
	}

	draft := &entity.Conversation{
		ID:                 uuid.New().String(),
		Type:               kind,
		Name:               groupName(kind, name, participants[1:]),
		Participants:       ids,
		VisibleTo:          append([]string(nil), ids...),
		ParticipantDetails: summaries,
		UnreadCounts:       unread,
		Pending:            true,
	}
	return &ConversationResolution{Conversation: draft, Participants: participants}, nil
}

// PersistDraft stores a Pending draft under its own id. If another device has
// meanwhile created the same participant set, that conversation is returned.
func (uc *MembershipUseCase) PersistDraft(ctx context.Context, myID string, draft *entity.Conversation) (*entity.Conversation, bool, error) {
	if existing, err := uc.findExisting(ctx, myID, draft.Participants); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(myID, ratelimit.ActionCreateConversation); !allowed {
			log.Printf("PersistDraft Rate Limited: User %s must wait %v", myID, wait)
			return nil, false, errors.TooManyRequests(fmt.Sprintf("Too many new conversations, try again in %s", wait.Round(time.Second)))
		}
	}

	conversation, err := uc.store.CreateConversation(ctx, CreateConversationInput{
		ID:             draft.ID,
		ParticipantIDs: draft.Participants,
		Summaries:      draft.ParticipantDetails,
		Kind:           draft.Type,
		Name:           draft.Name,
	})
	if err != nil {
		if errors.Is(err, errors.CodeConflict) {
			existing, getErr := uc.store.GetConversation(ctx, draft.ID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return conversation, true, nil
}

// CreateOrReuseConversation resolves the recipients and persists the
// conversation immediately when none exists yet.
func (uc *MembershipUseCase) CreateOrReuseConversation(ctx context.Context, myID string, otherEmails []string, name string) (*ConversationResult, error) {
	resolution, err := uc.ResolveConversation(ctx, myID, otherEmails, name)
	if err != nil {
		return nil, err
	}
	if resolution.Existing {
		return &ConversationResult{Conversation: resolution.Conversation, Participants: resolution.Participants}, nil
	}

	conversation, created, err := uc.PersistDraft(ctx, myID, resolution.Conversation)
	if err != nil {
		return nil, err
	}
	return &ConversationResult{Conversation: conversation, Participants: resolution.Participants, Created: created}, nil
}

// DiscardConversation removes a conversation that was created for a first
// message which then failed to send.
func (uc *MembershipUseCase) DiscardConversation(ctx context.Context, conversationID string) error {
	return uc.store.DeleteConversation(ctx, conversationID)
}

func (uc *MembershipUseCase) AddParticipant(ctx context.Context, actorID, conversationID, email string, includeHistory bool) (*entity.User, error) {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conversation.Type != entity.ConversationGroup {
		return nil, errors.Unsupported(fmt.Sprintf("Members cannot be added to a %s conversation", kindLabel(conversation.Type)))
	}

	user, err := uc.directory.FindByEmail(ctx, email)
	if err != nil {
		log.Printf("AddParticipant Error: lookup of %q failed: %v", email, err)
		return nil, err
	}
	if conversation.HasParticipant(user.ID) {
		return nil, errors.AlreadyMember(fmt.Sprintf("%s is already in this conversation", displayName(user.Summary())))
	}

	history := repository.ServerTimestamp(repository.HiddenHistoryPath(user.ID))
	if includeHistory {
		history = repository.DeleteField(repository.HiddenHistoryPath(user.ID))
	}

	if err := uc.store.PatchConversation(ctx, conversationID,
		repository.ArrayUnion(repository.FieldParticipants, user.ID),
		repository.ArrayUnion(repository.FieldVisibleTo, user.ID),
		repository.ArrayUnion(repository.FieldParticipantDetails, user.Summary()),
		repository.Set(repository.UnreadCountPath(user.ID), 0),
		history,
	); err != nil {
		return nil, asDelivery(err, "Failed to add participant")
	}

	uc.announce(ctx, conversationID, fmt.Sprintf("%s joined the group", displayName(user.Summary())))
	return user, nil
}

// LeaveConversation removes userID from the three membership collections with
// set-remove operations, then deletes the conversation if nobody is left.
func (uc *MembershipUseCase) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if conversation.Type != entity.ConversationGroup {
		return errors.Unsupported(fmt.Sprintf("You cannot leave a %s conversation", kindLabel(conversation.Type)))
	}

	return uc.removeMember(ctx, conversation, userID, "%s left the group")
}

// RemoveParticipant takes another member out of a group. Roster membership
// mirrors the roster and is never changed here.
func (uc *MembershipUseCase) RemoveParticipant(ctx context.Context, actorID, conversationID, userID string) error {
	conversation, err := uc.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conversation.Type != entity.ConversationGroup {
		return errors.Unsupported(fmt.Sprintf("Members cannot be removed from a %s conversation", kindLabel(conversation.Type)))
	}
	if !conversation.HasParticipant(actorID) {
		return errNotParticipant()
	}
	if !conversation.HasParticipant(userID) {
		return errors.NotFound("Participant", nil)
	}

	return uc.removeMember(ctx, conversation, userID, "%s was removed from the group")
}

func (uc *MembershipUseCase) removeMember(ctx context.Context, conversation *entity.Conversation, userID, announcement string) error {
	updates := []repository.FieldUpdate{
		repository.ArrayRemove(repository.FieldParticipants, userID),
		repository.ArrayRemove(repository.FieldVisibleTo, userID),
		repository.DeleteField(repository.UnreadCountPath(userID)),
		repository.DeleteField(repository.HiddenHistoryPath(userID)),
	}
	summary, hasSummary := conversation.Summary(userID)
	if hasSummary {
		updates = append(updates, repository.ArrayRemove(repository.FieldParticipantDetails, summary))
	} else {
		summary = entity.ParticipantSummary{ID: userID}
	}

	if err := uc.store.PatchConversation(ctx, conversation.ID, updates...); err != nil {
		return asDelivery(err, "Failed to update membership")
	}

	after, err := uc.store.GetConversation(ctx, conversation.ID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		return err
	}
	if len(after.Participants) == 0 || len(after.VisibleTo) == 0 {
		return uc.store.DeleteConversation(ctx, conversation.ID)
	}

	uc.announce(ctx, conversation.ID, fmt.Sprintf(announcement, uc.nameFor(ctx, summary)))
	return nil
}

// HideForSelf removes the conversation from the user's list only. The user
// stays a participant, and the next message makes it reappear.
func (uc *MembershipUseCase) HideForSelf(ctx context.Context, conversationID, userID string) error {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if conversation.Type == entity.ConversationRoster {
		return errors.Unsupported("Roster conversations cannot be deleted")
	}

	if err := uc.store.PatchConversation(ctx, conversationID,
		repository.ArrayRemove(repository.FieldVisibleTo, userID),
	); err != nil {
		return asDelivery(err, "Failed to delete conversation")
	}

	after, err := uc.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		return err
	}
	if len(after.VisibleTo) == 0 {
		return uc.store.DeleteConversation(ctx, conversationID)
	}
	return nil
}

func (uc *MembershipUseCase) Rename(ctx context.Context, actorID, conversationID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return errors.Validation("Name is required", nil)
	}

	conversation, err := uc.store.requireParticipant(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if conversation.Type != entity.ConversationGroup {
		return errors.Unsupported(fmt.Sprintf("A %s conversation cannot be renamed", kindLabel(conversation.Type)))
	}

	if err := uc.store.PatchConversation(ctx, conversationID,
		repository.Set(repository.FieldName, newName),
	); err != nil {
		return asDelivery(err, "Failed to rename conversation")
	}

	actor, _ := conversation.Summary(actorID)
	uc.announce(ctx, conversationID, fmt.Sprintf("%s renamed the group to \"%s\"", uc.nameFor(ctx, actor), newName))
	return nil
}

func (uc *MembershipUseCase) UpdatePhoto(ctx context.Context, actorID, conversationID, photoURL string) error {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	return uc.updatePhoto(ctx, conversation, actorID, photoURL)
}

// UploadPhoto stores the image first and only then points the group at it.
func (uc *MembershipUseCase) UploadPhoto(ctx context.Context, actorID, conversationID string, data []byte) (string, error) {
	conversation, err := uc.store.requireParticipant(ctx, conversationID, actorID)
	if err != nil {
		return "", err
	}
	if conversation.Type != entity.ConversationGroup {
		return "", errors.Unsupported("Only group conversations have a photo")
	}
	if uc.objectStore == nil {
		return "", errors.Upload("Uploads are not configured", nil)
	}

	url, err := uc.objectStore.Upload(ctx, data, "chats/"+conversationID+"/photo")
	if err != nil {
		log.Printf("UploadPhoto Error: conversation %s: %v", conversationID, err)
		return "", asUpload(err)
	}

	if err := uc.updatePhoto(ctx, conversation, actorID, url); err != nil {
		return "", err
	}
	return url, nil
}

func (uc *MembershipUseCase) updatePhoto(ctx context.Context, conversation *entity.Conversation, actorID, photoURL string) error {
	if conversation.Type != entity.ConversationGroup {
		return errors.Unsupported("Only group conversations have a photo")
	}
	photoURL = strings.TrimSpace(photoURL)
	if photoURL == "" {
		return errors.Validation("Photo URL is required", nil)
	}

	if err := uc.store.PatchConversation(ctx, conversation.ID,
		repository.Set(repository.FieldPhotoURL, photoURL),
	); err != nil {
		return asDelivery(err, "Failed to update group photo")
	}

	actor, _ := conversation.Summary(actorID)
	uc.announce(ctx, conversation.ID, fmt.Sprintf("%s changed the group photo", uc.nameFor(ctx, actor)))
	return nil
}

// CreateRosterConversation is called by the roster flow on behalf of callerID.
// The conversation id is the roster id, so repeated calls return the same
// conversation to any of its players.
func (uc *MembershipUseCase) CreateRosterConversation(ctx context.Context, callerID, rosterID, name string, playerIDs []string) (*entity.Conversation, error) {
	rosterID = strings.TrimSpace(rosterID)
	if rosterID == "" {
		return nil, errors.Validation("Roster id is required", nil)
	}

	existing, err := uc.store.GetConversation(ctx, rosterID)
	if err == nil {
		return rosterFor(existing, callerID)
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	ids := uniqueInOrder(playerIDs)
	if !containsID(ids, callerID) {
		return nil, errors.Forbidden("You are not on this roster", nil)
	}
	summaries := make([]entity.ParticipantSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			user, err := uc.directory.FindByID(gctx, id)
			if err != nil {
				if errors.Is(err, errors.CodeNotFound) {
					summaries[i] = entity.ParticipantSummary{ID: id}
					return nil
				}
				return err
			}
			summaries[i] = user.Summary()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("CreateRosterConversation Error: roster %s: %v", rosterID, err)
		return nil, err
	}

	conversation, err := uc.store.CreateConversation(ctx, CreateConversationInput{
		ID:             rosterID,
		ParticipantIDs: ids,
		Summaries:      summaries,
		Kind:           entity.ConversationRoster,
		Name:           name,
		RosterID:       rosterID,
	})
	if err != nil {
		if errors.Is(err, errors.CodeConflict) {
			existing, err := uc.store.GetConversation(ctx, rosterID)
			if err != nil {
				return nil, err
			}
			return rosterFor(existing, callerID)
		}
		return nil, err
	}
	return conversation, nil
}

// rosterFor hands an already stored conversation back to the roster flow only
// when it is that roster's conversation and the caller belongs to it.
func rosterFor(existing *entity.Conversation, callerID string) (*entity.Conversation, error) {
	if existing.Type != entity.ConversationRoster {
		return nil, errors.Conflict("Conversation id is already taken by another conversation")
	}
	if !existing.HasParticipant(callerID) {
		return nil, errNotParticipant()
	}
	return existing, nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (uc *MembershipUseCase) resolveEmails(ctx context.Context, emails []string) ([]*entity.User, error) {
	users := make([]*entity.User, len(emails))
	g, gctx := errgroup.WithContext(ctx)
	for i, email := range emails {
		i, email := i, strings.TrimSpace(email)
		if email == "" {
			continue
		}
		g.Go(func() error {
			user, err := uc.directory.FindByEmail(gctx, email)
			if err != nil {
				if errors.Is(err, errors.CodeNotFound) {
					log.Printf("ResolveConversation: no user for %q", email)
					return nil
				}
				return err
			}
			users[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("ResolveConversation Error: directory lookup failed: %v", err)
		return nil, err
	}
	return users, nil
}

// findExisting returns the non-roster conversation of myID whose participant
// set equals ids, preferring one the user can still see.
func (uc *MembershipUseCase) findExisting(ctx context.Context, myID string, ids []string) (*entity.Conversation, error) {
	conversations, err := uc.repo.ListByParticipant(ctx, myID)
	if err != nil {
		log.Printf("ResolveConversation Error: listing conversations of %s: %v", myID, err)
		return nil, err
	}

	var match *entity.Conversation
	for _, c := range conversations {
		if c.Type == entity.ConversationRoster || !entity.SameParticipants(c.Participants, ids) {
			continue
		}
		if c.IsVisibleTo(myID) {
			return c, nil
		}
		if match == nil {
			match = c
		}
	}
	return match, nil
}

// announce posts a system message. Membership is already authoritative at this
// point, so a failure is logged rather than returned.
func (uc *MembershipUseCase) announce(ctx context.Context, conversationID, text string) {
	if _, err := uc.store.AppendSystemMessage(ctx, conversationID, text); err != nil {
		log.Printf("Membership Warning: system message %q for conversation %s not written: %v", text, conversationID, err)
	}
}

func (uc *MembershipUseCase) nameFor(ctx context.Context, summary entity.ParticipantSummary) string {
	if summary.Name == "" && summary.ID != "" {
		if user, err := uc.directory.FindByID(ctx, summary.ID); err == nil {
			return displayName(user.Summary())
		}
	}
	return displayName(summary)
}

func displayName(s entity.ParticipantSummary) string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Email != "":
		return s.Email
	case s.ID != "":
		return s.ID
	}
	return "Someone"
}

func groupName(kind entity.ConversationKind, name string, others []*entity.User) string {
	if kind == entity.ConversationDirect {
		return ""
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	names := make([]string, 0, len(others))
	for _, u := range others {
		names = append(names, displayName(u.Summary()))
	}
	return strings.Join(names, ", ")
}

func kindLabel(kind entity.ConversationKind) string {
	switch kind {
	case entity.ConversationDirect:
		return "direct"
	case entity.ConversationRoster:
		return "roster"
	}
	return string(kind)
}

// asDelivery keeps domain errors and wraps anything else as a delivery failure.
func asDelivery(err error, message string) error {
	if errors.CodeOf(err) == errors.CodeInternal {
		return errors.Delivery(message, err)
	}
	return err
}

func asUpload(err error) error {
	switch errors.CodeOf(err) {
	case errors.CodeValidation, errors.CodeUpload:
		return err
	}
	return errors.Upload("Failed to upload image", err)
}
