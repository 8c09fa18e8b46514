package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

func newGroup(t *testing.T, repo repository.ConversationRepository, ids ...string) *entity.Conversation {
	t.Helper()

	unread := make(map[string]int, len(ids))
	details := make([]entity.ParticipantSummary, len(ids))
	for i, id := range ids {
		unread[id] = 0
		details[i] = entity.ParticipantSummary{ID: id, Name: id}
	}
	conversation := &entity.Conversation{
		Type:               entity.ConversationGroup,
		Name:               "Group",
		Participants:       append([]string(nil), ids...),
		VisibleTo:          append([]string(nil), ids...),
		ParticipantDetails: details,
		UnreadCounts:       unread,
		Pending:            true,
	}
	require.NoError(t, repo.Create(context.Background(), conversation))
	return conversation
}

func TestMemoryCreate(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	c := newGroup(t, repo, "a", "b", "c")
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.Pending)
	assert.False(t, c.CreatedAt.IsZero())
	assert.Equal(t, c.CreatedAt, c.LastMessageTime)

	err := repo.Create(ctx, &entity.Conversation{ID: c.ID})
	assert.True(t, errors.Is(err, errors.CodeConflict))

	// The stored copy is isolated from the caller.
	c.Participants[0] = "mutated"
	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, stored.Participants)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestMemoryUpdateOperations(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	c := newGroup(t, repo, "a", "b", "c")

	require.NoError(t, repo.Update(ctx, c.ID,
		repository.Increment(repository.UnreadCountPath("b"), 2),
		repository.Increment(repository.UnreadCountPath("c"), 1),
		repository.Set(repository.UnreadCountPath("a"), 0),
		repository.ArrayUnion(repository.FieldParticipants, "d", "a"),
		repository.ArrayRemove(repository.FieldVisibleTo, "c"),
		repository.ArrayUnion(repository.FieldParticipantDetails, entity.ParticipantSummary{ID: "d", Name: "d"}),
		repository.Set(repository.FieldName, "Renamed"),
		repository.Set(repository.FieldLastMessage, "hello"),
		repository.ServerTimestamp(repository.FieldLastMessageTime),
		repository.ServerTimestamp(repository.HiddenHistoryPath("d")),
	))

	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 2, "c": 1}, stored.UnreadCounts)
	assert.Equal(t, []string{"a", "b", "c", "d"}, stored.Participants)
	assert.Equal(t, []string{"a", "b"}, stored.VisibleTo)
	assert.Len(t, stored.ParticipantDetails, 4)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, "hello", stored.LastMessage)
	assert.True(t, stored.LastMessageTime.After(c.CreatedAt))
	cutoff, ok := stored.HistoryCutoff("d")
	assert.True(t, ok)
	assert.True(t, cutoff.After(stored.LastMessageTime))

	require.NoError(t, repo.Update(ctx, c.ID,
		repository.DeleteField(repository.HiddenHistoryPath("d")),
		repository.DeleteField(repository.UnreadCountPath("c")),
		repository.ArrayRemove(repository.FieldParticipantDetails, entity.ParticipantSummary{ID: "d", Name: "d"}),
	))
	stored, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	_, ok = stored.HistoryCutoff("d")
	assert.False(t, ok)
	assert.NotContains(t, stored.UnreadCounts, "c")
	assert.Len(t, stored.ParticipantDetails, 3)
}

func TestMemoryUpdateIsAllOrNothing(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	c := newGroup(t, repo, "a", "b")

	err := repo.Update(ctx, c.ID,
		repository.Increment(repository.UnreadCountPath("b"), 1),
		repository.Increment(repository.FieldName, 1),
	)
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadFor("b"))

	err = repo.Update(ctx, "missing", repository.Set(repository.FieldName, "x"))
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	c := newGroup(t, repo, "a", "b")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Update(ctx, c.ID, repository.Increment(repository.UnreadCountPath("b"), 1)))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Update(ctx, c.ID, repository.Set(repository.UnreadCountPath("a"), 0)))
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.UnreadFor("b"))
	assert.Equal(t, 0, stored.UnreadFor("a"))
}

func TestMemoryMessages(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	c := newGroup(t, repo, "a", "b")

	err := repo.CreateMessage(ctx, &entity.Message{ConversationID: "missing", Text: "x"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	var stamps []time.Time
	for _, text := range []string{"one", "two", "three", "four"} {
		m := &entity.Message{ConversationID: c.ID, SenderID: "a", Text: text, Type: entity.MessageText}
		require.NoError(t, repo.CreateMessage(ctx, m))
		assert.NotEmpty(t, m.ID)
		stamps = append(stamps, m.CreatedAt)
	}
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].After(stamps[i-1]))
	}

	all, err := repo.ListMessages(ctx, c.ID, repository.MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	window, err := repo.ListMessages(ctx, c.ID, repository.MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "three", window[0].Text)
	assert.Equal(t, "four", window[1].Text)

	since, err := repo.ListMessages(ctx, c.ID, repository.MessageQuery{Since: stamps[1]})
	require.NoError(t, err)
	require.Len(t, since, 3)
	assert.Equal(t, "two", since[0].Text)

	require.NoError(t, repo.Delete(ctx, c.ID))
	gone, err := repo.ListMessages(ctx, c.ID, repository.MessageQuery{})
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestMemoryListOrdering(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	first := newGroup(t, repo, "a", "b")
	second := newGroup(t, repo, "a", "c")
	newGroup(t, repo, "b", "c")

	visible, err := repo.ListVisibleTo(ctx, "a")
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, second.ID, visible[0].ID)

	require.NoError(t, repo.Update(ctx, first.ID, repository.ServerTimestamp(repository.FieldLastMessageTime)))
	visible, err = repo.ListVisibleTo(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, visible[0].ID)

	require.NoError(t, repo.Update(ctx, first.ID, repository.ArrayRemove(repository.FieldVisibleTo, "a")))
	visible, err = repo.ListVisibleTo(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	member, err := repo.ListByParticipant(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, member, 2)
}

func TestMemoryWatchVisibleTo(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	it, err := repo.WatchVisibleTo(ctx, "a")
	require.NoError(t, err)

	initial, err := it.Next()
	require.NoError(t, err)
	assert.Empty(t, initial)

	c := newGroup(t, repo, "a", "b")
	// A change for another user coalesces into the same wake-up and is deduplicated.
	newGroup(t, repo, "b", "c")

	snapshot, err := it.Next()
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, c.ID, snapshot[0].ID)

	done := make(chan error, 1)
	go func() {
		_, err := it.Next()
		done <- err
	}()
	it.Stop()
	select {
	case err := <-done:
		assert.Equal(t, iterator.Done, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Stop")
	}
	it.Stop()
}

func TestMemoryWatchMessagesEndsWithContext(t *testing.T) {
	repo := NewMemoryConversationRepository()
	c := newGroup(t, repo, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())

	it, err := repo.WatchMessages(ctx, c.ID, repository.MessageQuery{Limit: 1})
	require.NoError(t, err)
	defer it.Stop()

	first, err := it.Next()
	require.NoError(t, err)
	assert.Empty(t, first)

	require.NoError(t, repo.CreateMessage(context.Background(), &entity.Message{ConversationID: c.ID, Text: "hi"}))
	next, err := it.Next()
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "hi", next[0].Text)

	cancel()
	_, err = it.Next()
	assert.ErrorIs(t, err, context.Canceled)
}
