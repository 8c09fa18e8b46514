package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"google.golang.org/api/iterator"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/logger"
)

const DefaultMessageWindow = 50

type SubscriptionState int32

const (
	StateIdle SubscriptionState = iota
	StateSubscribed
	StateReceiving
	StateUnsubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateUnsubscribed:
		return "unsubscribed"
	}
	return "unknown"
}

// Subscription is one live query. Unsubscribe is the only way to cancel it and
// returns once no further callback can run.
type Subscription struct {
	name   string
	userID string
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(name, userID string) *Subscription {
	return &Subscription{
		name:   name,
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the feed ended on its own. It is nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

// SyncEngine turns store iterators into callback subscriptions. Each snapshot
// is the complete current view.
type SyncEngine struct {
	conversations repository.ConversationRepository
	directory     repository.DirectoryRepository
	window        int
}

func NewSyncEngine(conversations repository.ConversationRepository, directory repository.DirectoryRepository, window int) *SyncEngine {
	if window <= 0 {
		window = DefaultMessageWindow
	}
	return &SyncEngine{
		conversations: conversations,
		directory:     directory,
		window:        window,
	}
}

func (e *SyncEngine) Window() int {
	return e.window
}

// SubscribeConversationList pushes userID's visible conversations ordered by
// lastMessageTime descending.
func (e *SyncEngine) SubscribeConversationList(ctx context.Context, userID string, onList func([]*entity.Conversation)) (*Subscription, error) {
	sub := newSubscription("conversation_list", userID)
	subCtx, cancel := context.WithCancel(ctx)

	it, err := e.conversations.WatchVisibleTo(subCtx, userID)
	if err != nil {
		cancel()
		return nil, err
	}

	run(subCtx, cancel, sub, it.Next, it.Stop, func(conversations []*entity.Conversation) {
		onList(onlyVisibleTo(conversations, userID))
	})
	return sub, nil
}

// SubscribeMessages pushes the newest window of conversationID as userID may
// see it, applying the user's hidden-history cutoff.
func (e *SyncEngine) SubscribeMessages(ctx context.Context, userID, conversationID string, onMessages func([]*entity.Message)) (*Subscription, error) {
	conversation, err := e.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errNotParticipant()
	}

	query := messageQueryFor(conversation, userID, e.window)
	sub := newSubscription("messages:"+conversationID, userID)
	subCtx, cancel := context.WithCancel(ctx)

	it, err := e.conversations.WatchMessages(subCtx, conversationID, query)
	if err != nil {
		cancel()
		return nil, err
	}

	run(subCtx, cancel, sub, it.Next, it.Stop, func(messages []*entity.Message) {
		onMessages(filterFromCutoff(messages, query.Since))
	})
	return sub, nil
}

// SubscribeDirectory pushes the whole user directory keyed by id.
func (e *SyncEngine) SubscribeDirectory(ctx context.Context, userID string, onDirectory func(map[string]*entity.User)) (*Subscription, error) {
	sub := newSubscription("directory", userID)
	subCtx, cancel := context.WithCancel(ctx)

	it, err := e.directory.Watch(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	run(subCtx, cancel, sub, it.Next, it.Stop, onDirectory)
	return sub, nil
}

func run[T any](ctx context.Context, cancel context.CancelFunc, sub *Subscription, next func() (T, error), stop func(), deliver func(T)) {
	sub.cancel = cancel
	sub.state.Store(int32(StateSubscribed))
	logger.Debug("Live sync %s started for %s", sub.name, sub.userID)

	go func() {
		defer close(sub.done)
		defer sub.state.Store(int32(StateUnsubscribed))
		defer cancel()
		defer stop()

		for {
			snapshot, err := next()
			if err != nil {
				if ctx.Err() == nil && err != iterator.Done {
					logger.LogSyncError(sub.name, sub.userID, err)
					sub.mu.Lock()
					sub.err = err
					sub.mu.Unlock()
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			sub.state.Store(int32(StateReceiving))
			deliver(snapshot)
		}
	}()
}
