package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	adapterrepo "rosterchat/internal/adapter/repository"
	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/internal/infrastructure/storage"
	"rosterchat/pkg/errors"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

var (
	alice = &entity.User{ID: "alice", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = &entity.User{ID: "bob", DisplayName: "Bob", Email: "bob@example.com"}
	carol = &entity.User{ID: "carol", DisplayName: "Carol", Email: "carol@example.com"}
	dave  = &entity.User{ID: "dave", DisplayName: "Dave", Email: "dave@example.com"}
)

type fixture struct {
	repo       repository.ConversationRepository
	directory  *adapterrepo.MemoryDirectoryRepository
	objects    *storage.MemoryObjectStore
	store      *ConversationStore
	membership *MembershipUseCase
	messages   *MessageUseCase
	readState  *ReadStateUseCase
	engine     *SyncEngine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRepo(t, adapterrepo.NewMemoryConversationRepository())
}

func newFixtureWithRepo(t *testing.T, repo repository.ConversationRepository) *fixture {
	t.Helper()

	directory := adapterrepo.NewMemoryDirectoryRepository(alice, bob, carol, dave)
	objects := storage.NewMemoryObjectStore()
	store := NewConversationStore(repo)

	return &fixture{
		repo:       repo,
		directory:  directory,
		objects:    objects,
		store:      store,
		membership: NewMembershipUseCase(store, repo, directory, objects, nil),
		messages:   NewMessageUseCase(store, repo, directory, objects, nil, DefaultMessageWindow),
		readState:  NewReadStateUseCase(store, repo),
		engine:     NewSyncEngine(repo, directory, DefaultMessageWindow),
	}
}

func (f *fixture) conversation(t *testing.T, owner *entity.User, others ...*entity.User) *entity.Conversation {
	t.Helper()

	emails := make([]string, len(others))
	for i, u := range others {
		emails[i] = u.Email
	}
	result, err := f.membership.CreateOrReuseConversation(context.Background(), owner.ID, emails, "")
	require.NoError(t, err)
	return result.Conversation
}

func (f *fixture) roster(t *testing.T, rosterID string, players ...*entity.User) *entity.Conversation {
	t.Helper()

	ids := make([]string, len(players))
	for i, u := range players {
		ids[i] = u.ID
	}
	conversation, err := f.membership.CreateRosterConversation(context.Background(), ids[0], rosterID, "Team "+rosterID, ids)
	require.NoError(t, err)
	return conversation
}

func (f *fixture) get(t *testing.T, id string) *entity.Conversation {
	t.Helper()

	conversation, err := f.store.GetConversation(context.Background(), id)
	require.NoError(t, err)
	return conversation
}

func (f *fixture) send(t *testing.T, sender *entity.User, conversationID, text string) *entity.Message {
	t.Helper()

	message, err := f.messages.Send(context.Background(), sender.ID, SendMessageInput{ConversationID: conversationID, Text: text})
	require.NoError(t, err)
	return message
}

func (f *fixture) allMessages(t *testing.T, conversationID string) []*entity.Message {
	t.Helper()

	messages, err := f.repo.ListMessages(context.Background(), conversationID, repository.MessageQuery{})
	require.NoError(t, err)
	return messages
}

// failingRepo fails selected writes to simulate an unavailable store.
type failingRepo struct {
	repository.ConversationRepository
	failCreateMessage atomic.Bool
	failUpdate        atomic.Bool
}

func (r *failingRepo) CreateMessage(ctx context.Context, message *entity.Message) error {
	if r.failCreateMessage.Load() {
		return errors.Internal("store unavailable", nil)
	}
	return r.ConversationRepository.CreateMessage(ctx, message)
}

func (r *failingRepo) Update(ctx context.Context, id string, updates ...repository.FieldUpdate) error {
	if r.failUpdate.Load() {
		return errors.Internal("store unavailable", nil)
	}
	return r.ConversationRepository.Update(ctx, id, updates...)
}

// fakePresenter records the latest view of every callback.
type fakePresenter struct {
	mu            sync.Mutex
	conversations []*entity.Conversation
	messages      map[string][]*entity.Message
	directory     map[string]*entity.User
	unreadTotal   int
	listUpdates   int
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{messages: make(map[string][]*entity.Message)}
}

func (p *fakePresenter) OnConversationList(conversations []*entity.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conversations = conversations
	p.listUpdates++
}

func (p *fakePresenter) OnMessages(conversationID string, messages []*entity.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[conversationID] = messages
}

func (p *fakePresenter) OnDirectoryUpdate(users map[string]*entity.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directory = users
}

func (p *fakePresenter) OnUnreadTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreadTotal = total
}

func (p *fakePresenter) list() []*entity.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversations
}

func (p *fakePresenter) find(conversationID string) *entity.Conversation {
	for _, c := range p.list() {
		if c.ID == conversationID {
			return c
		}
	}
	return nil
}

func (p *fakePresenter) messagesOf(conversationID string) ([]*entity.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	messages, ok := p.messages[conversationID]
	return messages, ok
}

func (p *fakePresenter) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unreadTotal
}

func (p *fakePresenter) user(id string) *entity.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.directory[id]
}

const (
	eventually = 2 * time.Second
	tick       = 10 * time.Millisecond
)

func texts(messages []*entity.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text
	}
	return out
}
