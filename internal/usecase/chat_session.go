package usecase

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"rosterchat/internal/domain/entity"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/logger"
)

// Presenter receives the views a ChatSession maintains. Calls are serialized
// per session.
type Presenter interface {
	OnConversationList(conversations []*entity.Conversation)
	OnMessages(conversationID string, messages []*entity.Message)
	OnDirectoryUpdate(users map[string]*entity.User)
	OnUnreadTotal(total int)
}

type draft struct {
	conversation *entity.Conversation
	startedAt    time.Time
	persisted    bool
}

// ChatSession is the per-client state between sign-in and sign-out: the live
// conversation list, the directory feed, at most one open conversation,
// unsent drafts and compose text.
type ChatSession struct {
	engine     *SyncEngine
	membership *MembershipUseCase
	messages   *MessageUseCase
	readState  *ReadStateUseCase
	presenter  Presenter

	presentMu sync.Mutex

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	userID        string
	listSub       *Subscription
	directorySub  *Subscription
	messageSub    *Subscription
	activeID      string
	conversations []*entity.Conversation
	directory     map[string]*entity.User
	drafts        map[string]*draft
	compose       map[string]string
}

func NewChatSession(
	engine *SyncEngine,
	membership *MembershipUseCase,
	messages *MessageUseCase,
	readState *ReadStateUseCase,
	presenter Presenter,
) *ChatSession {
	return &ChatSession{
		engine:     engine,
		membership: membership,
		messages:   messages,
		readState:  readState,
		presenter:  presenter,
	}
}

func errSessionNotStarted() error {
	return errors.BadRequest("Chat session is not started", nil)
}

// Start subscribes the directory and the conversation list for userID.
func (s *ChatSession) Start(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.Validation("User id is required", nil)
	}

	s.mu.Lock()
	if s.userID != "" {
		s.mu.Unlock()
		return errors.Conflict("Chat session already started")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel, s.userID = sessionCtx, cancel, userID
	s.directory = make(map[string]*entity.User)
	s.drafts = make(map[string]*draft)
	s.compose = make(map[string]string)
	s.mu.Unlock()

	directorySub, err := s.engine.SubscribeDirectory(sessionCtx, userID, s.onDirectory)
	if err != nil {
		log.Printf("ChatSession Error: directory subscription for %s: %v", userID, err)
		s.Stop()
		return err
	}
	listSub, err := s.engine.SubscribeConversationList(sessionCtx, userID, s.onConversationList)
	if err != nil {
		log.Printf("ChatSession Error: conversation list subscription for %s: %v", userID, err)
		directorySub.Unsubscribe()
		s.Stop()
		return err
	}

	s.mu.Lock()
	s.directorySub, s.listSub = directorySub, listSub
	s.mu.Unlock()
	return nil
}

// Stop ends every subscription and forgets all local state.
func (s *ChatSession) Stop() {
	s.mu.Lock()
	subs := []*Subscription{s.messageSub, s.listSub, s.directorySub}
	cancel := s.cancel
	s.messageSub, s.listSub, s.directorySub = nil, nil, nil
	s.cancel, s.userID, s.activeID = nil, "", ""
	s.conversations, s.directory, s.drafts, s.compose = nil, nil, nil, nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *ChatSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *ChatSession) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Conversations returns the current list view: pending drafts first, then the
// live snapshot merged with the directory.
func (s *ChatSession) Conversations() []*entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// UnreadTotal sums the user's counters over the live list, optionally leaving
// out the open conversation.
func (s *ChatSession) UnreadTotal(excludeActive bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	exclude := ""
	if excludeActive {
		exclude = s.activeID
	}
	return SumUnread(s.conversations, s.userID, exclude)
}

// OpenConversation makes conversationID the active view. The previous message
// subscription is fully stopped before the new one starts.
func (s *ChatSession) OpenConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return errSessionNotStarted()
	}
	prev := s.messageSub
	s.messageSub = nil
	s.activeID = conversationID
	d, isDraft := s.drafts[conversationID]
	pending := isDraft && !d.persisted
	userID, sessionCtx := s.userID, s.ctx
	s.mu.Unlock()

	prev.Unsubscribe()

	if pending {
		s.present(func(p Presenter) { p.OnMessages(conversationID, []*entity.Message{}) })
		return nil
	}
	return s.subscribeActive(sessionCtx, userID, conversationID)
}

func (s *ChatSession) subscribeActive(ctx context.Context, userID, conversationID string) error {
	sub, err := s.engine.SubscribeMessages(ctx, userID, conversationID, func(messages []*entity.Message) {
		s.onMessages(conversationID, messages)
	})
	if err != nil {
		s.mu.Lock()
		if s.activeID == conversationID {
			s.activeID = ""
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.userID != userID || s.activeID != conversationID || s.messageSub != nil {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.messageSub = sub
	s.mu.Unlock()

	s.markRead(ctx, userID, conversationID)
	return nil
}

func (s *ChatSession) CloseConversation() {
	s.mu.Lock()
	prev := s.messageSub
	s.messageSub = nil
	s.activeID = ""
	total := SumUnread(s.conversations, s.userID, "")
	s.mu.Unlock()

	prev.Unsubscribe()
	s.present(func(p Presenter) { p.OnUnreadTotal(total) })
}

func (s *ChatSession) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	userID := s.userID
	d, isDraft := s.drafts[conversationID]
	s.mu.Unlock()

	if userID == "" {
		return errSessionNotStarted()
	}
	if isDraft && !d.persisted {
		return nil
	}
	return s.readState.MarkRead(ctx, conversationID, userID)
}

// StartDraft resolves recipients. An existing conversation is returned as is;
// otherwise a Pending draft is kept locally until its first message is sent.
func (s *ChatSession) StartDraft(ctx context.Context, emails []string, name string) (*entity.Conversation, error) {
	userID := s.UserID()
	if userID == "" {
		return nil, errSessionNotStarted()
	}

	resolution, err := s.membership.ResolveConversation(ctx, userID, emails, name)
	if err != nil {
		return nil, err
	}
	if resolution.Existing {
		return resolution.Conversation, nil
	}

	s.mu.Lock()
	if s.userID != userID {
		s.mu.Unlock()
		return nil, errSessionNotStarted()
	}
	for _, d := range s.drafts {
		if !d.persisted && entity.SameParticipants(d.conversation.Participants, resolution.Conversation.Participants) {
			existing := d.conversation.Clone()
			s.mu.Unlock()
			return existing, nil
		}
	}
	s.drafts[resolution.Conversation.ID] = &draft{
		conversation: resolution.Conversation,
		startedAt:    time.Now(),
	}
	view := s.viewLocked()
	s.mu.Unlock()

	s.present(func(p Presenter) { p.OnConversationList(view) })
	return resolution.Conversation.Clone(), nil
}

// Send delivers a message. Sending into a Pending draft persists it first; if
// that first send then fails, the freshly created conversation is removed.
func (s *ChatSession) Send(ctx context.Context, conversationID, text, imageURL string) (*entity.Message, error) {
	s.mu.Lock()
	userID := s.userID
	d, isDraft := s.drafts[conversationID]
	var pending *entity.Conversation
	if isDraft && !d.persisted {
		pending = d.conversation.Clone()
	}
	s.mu.Unlock()

	if userID == "" {
		return nil, errSessionNotStarted()
	}

	targetID := conversationID
	created := false
	if pending != nil {
		if strings.TrimSpace(text) == "" && strings.TrimSpace(imageURL) == "" {
			return nil, errors.Validation("Message must contain text or an image", nil)
		}
		conversation, wasCreated, err := s.membership.PersistDraft(ctx, userID, pending)
		if err != nil {
			return nil, err
		}
		targetID, created = conversation.ID, wasCreated
	}

	message, err := s.messages.Send(ctx, userID, SendMessageInput{
		ConversationID: targetID,
		Text:           text,
		ImageURL:       imageURL,
	})
	if err != nil {
		if created && message == nil {
			if discardErr := s.membership.DiscardConversation(ctx, targetID); discardErr != nil {
				log.Printf("ChatSession Error: failed to discard conversation %s after failed send: %v", targetID, discardErr)
			}
		}
		return message, err
	}

	if pending != nil {
		s.reconcileDraft(ctx, conversationID, targetID)
	}
	return message, nil
}

// reconcileDraft retires a draft once its conversation exists in the store. A
// draft persisted under its own id is replaced when the live list reports it.
func (s *ChatSession) reconcileDraft(ctx context.Context, draftID, conversationID string) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return
	}

	reopen := false
	if draftID != conversationID {
		delete(s.drafts, draftID)
		if text, ok := s.compose[draftID]; ok {
			s.compose[conversationID] = text
			delete(s.compose, draftID)
		}
		if s.activeID == draftID {
			s.activeID = conversationID
			reopen = true
		}
	} else if d, ok := s.drafts[draftID]; ok {
		d.persisted = true
		if s.inSnapshotLocked(draftID) {
			delete(s.drafts, draftID)
		}
		reopen = s.activeID == conversationID && s.messageSub == nil
	}
	userID, sessionCtx := s.userID, s.ctx
	view := s.viewLocked()
	s.mu.Unlock()

	s.present(func(p Presenter) { p.OnConversationList(view) })
	if reopen {
		if err := s.subscribeActive(sessionCtx, userID, conversationID); err != nil {
			log.Printf("ChatSession Error: opening conversation %s after first send: %v", conversationID, err)
		}
	}
}

func (s *ChatSession) SetCompose(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compose == nil {
		return
	}
	if text == "" {
		delete(s.compose, conversationID)
		return
	}
	s.compose[conversationID] = text
}

func (s *ChatSession) Compose(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose[conversationID]
}

// SendCompose sends the compose text of a conversation. The text is cleared
// only once the message exists.
func (s *ChatSession) SendCompose(ctx context.Context, conversationID string) (*entity.Message, error) {
	text := s.Compose(conversationID)

	message, err := s.Send(ctx, conversationID, text, "")
	if message != nil {
		s.mu.Lock()
		if s.compose != nil {
			delete(s.compose, conversationID)
			delete(s.compose, message.ConversationID)
		}
		s.mu.Unlock()
	}
	return message, err
}

func (s *ChatSession) onConversationList(conversations []*entity.Conversation) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return
	}
	s.conversations = conversations
	for id, d := range s.drafts {
		if d.persisted && s.inSnapshotLocked(id) {
			delete(s.drafts, id)
		}
	}
	view := s.viewLocked()
	total := SumUnread(conversations, s.userID, s.activeID)
	s.mu.Unlock()

	s.present(func(p Presenter) {
		p.OnConversationList(view)
		p.OnUnreadTotal(total)
	})
}

func (s *ChatSession) onDirectory(users map[string]*entity.User) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return
	}
	s.directory = users
	view := s.viewLocked()
	s.mu.Unlock()

	s.present(func(p Presenter) {
		p.OnDirectoryUpdate(users)
		p.OnConversationList(view)
	})
}

func (s *ChatSession) onMessages(conversationID string, messages []*entity.Message) {
	s.mu.Lock()
	active := s.userID != "" && s.activeID == conversationID
	userID, sessionCtx := s.userID, s.ctx
	s.mu.Unlock()

	if !active {
		return
	}
	s.present(func(p Presenter) { p.OnMessages(conversationID, messages) })
	s.markRead(sessionCtx, userID, conversationID)
}

func (s *ChatSession) markRead(ctx context.Context, userID, conversationID string) {
	if err := s.readState.MarkRead(ctx, conversationID, userID); err != nil && ctx.Err() == nil {
		logger.Warn("ChatSession: mark read of %s for %s failed: %v", conversationID, userID, err)
	}
}

func (s *ChatSession) present(fn func(Presenter)) {
	if s.presenter == nil {
		return
	}
	s.presentMu.Lock()
	defer s.presentMu.Unlock()
	fn(s.presenter)
}

func (s *ChatSession) inSnapshotLocked(conversationID string) bool {
	for _, c := range s.conversations {
		if c.ID == conversationID {
			return true
		}
	}
	return false
}

func (s *ChatSession) viewLocked() []*entity.Conversation {
	pending := make([]*draft, 0, len(s.drafts))
	for id, d := range s.drafts {
		if s.inSnapshotLocked(id) {
			continue
		}
		pending = append(pending, d)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].startedAt.After(pending[j].startedAt)
	})

	view := make([]*entity.Conversation, 0, len(pending)+len(s.conversations))
	for _, d := range pending {
		c := mergeDirectory(d.conversation, s.directory)
		c.Pending = true
		view = append(view, c)
	}
	for _, c := range s.conversations {
		view = append(view, mergeDirectory(c, s.directory))
	}
	return view
}

// mergeDirectory overlays live directory profiles on the stored participant
// summaries. The stored summaries are only the fallback.
func mergeDirectory(conversation *entity.Conversation, directory map[string]*entity.User) *entity.Conversation {
	out := conversation.Clone()
	for i, summary := range out.ParticipantDetails {
		user, ok := directory[summary.ID]
		if !ok {
			continue
		}
		if user.DisplayName != "" {
			summary.Name = user.DisplayName
		}
		if user.Email != "" {
			summary.Email = user.Email
		}
		if user.PhotoURL != "" {
			summary.PhotoURL = user.PhotoURL
		}
		out.ParticipantDetails[i] = summary
	}
	return out
}
