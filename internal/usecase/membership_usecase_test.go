package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterchat/internal/domain/entity"
	"rosterchat/pkg/errors"
)

func TestCreateOrReuseConversation_DirectIsReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.membership.CreateOrReuseConversation(ctx, alice.ID, []string{bob.Email}, "")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, entity.ConversationDirect, first.Conversation.Type)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, first.Conversation.Participants)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, first.Conversation.VisibleTo)

	second, err := f.membership.CreateOrReuseConversation(ctx, alice.ID, []string{" BOB@example.com "}, "")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	reverse, err := f.membership.CreateOrReuseConversation(ctx, bob.ID, []string{alice.Email}, "")
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, reverse.Conversation.ID)

	conversations, err := f.repo.ListByParticipant(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, conversations, 1)
}

func TestCreateOrReuseConversation_Group(t *testing.T) {
	f := newFixture(t)

	group := f.conversation(t, alice, bob, carol)
	assert.Equal(t, entity.ConversationGroup, group.Type)
	assert.Len(t, group.Participants, 3)
	assert.Equal(t, "Bob, Carol", group.Name)
	assert.Equal(t, map[string]int{alice.ID: 0, bob.ID: 0, carol.ID: 0}, group.UnreadCounts)

	again := f.conversation(t, carol, alice, bob)
	assert.Equal(t, group.ID, again.ID)

	direct := f.conversation(t, alice, bob)
	assert.NotEqual(t, group.ID, direct.ID)
}

func TestParticipantCountMatchesKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.conversation(t, alice, bob)
	f.conversation(t, alice, bob, carol)
	f.conversation(t, alice, carol)
	f.roster(t, "r1", alice, bob, carol, dave)

	f.conversation(t, alice, carol, dave)

	conversations, err := f.repo.ListByParticipant(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 5)
	for _, c := range conversations {
		assert.Equal(t, c.Type == entity.ConversationDirect, len(c.Participants) == 2,
			"conversation %s of type %s has %d participants", c.ID, c.Type, len(c.Participants))
	}
}

func TestCreateOrReuseConversation_NoValidUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.membership.CreateOrReuseConversation(ctx, alice.ID, []string{"nobody@example.com"}, "")
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = f.membership.CreateOrReuseConversation(ctx, alice.ID, []string{alice.Email}, "")
	assert.True(t, errors.Is(err, errors.CodeValidation))

	conversations, err := f.repo.ListByParticipant(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestCreateOrReuseConversation_RestoresHiddenConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct := f.conversation(t, alice, bob)
	require.NoError(t, f.membership.HideForSelf(ctx, direct.ID, alice.ID))
	assert.False(t, f.get(t, direct.ID).IsVisibleTo(alice.ID))

	again := f.conversation(t, alice, bob)
	assert.Equal(t, direct.ID, again.ID)
	assert.True(t, f.get(t, direct.ID).IsVisibleTo(alice.ID))
}

func TestResolveConversation_DraftIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resolution, err := f.membership.ResolveConversation(ctx, alice.ID, []string{bob.Email}, "")
	require.NoError(t, err)
	assert.False(t, resolution.Existing)
	assert.True(t, resolution.Conversation.Pending)
	assert.NotEmpty(t, resolution.Conversation.ID)

	_, err = f.store.GetConversation(ctx, resolution.Conversation.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	persisted, created, err := f.membership.PersistDraft(ctx, alice.ID, resolution.Conversation)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, resolution.Conversation.ID, persisted.ID)
	assert.False(t, persisted.Pending)

	// A second device persisting its own draft for the same pair gets the first one.
	other, err := f.membership.ResolveConversation(ctx, bob.ID, []string{alice.Email}, "")
	require.NoError(t, err)
	assert.True(t, other.Existing)
	assert.Equal(t, persisted.ID, other.Conversation.ID)
}

func TestAddParticipant_HidesEarlierHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	f.send(t, alice, group.ID, "before dave")

	added, err := f.membership.AddParticipant(ctx, alice.ID, group.ID, dave.Email, false)
	require.NoError(t, err)
	assert.Equal(t, dave.ID, added.ID)

	f.send(t, bob, group.ID, "after dave")

	updated := f.get(t, group.ID)
	assert.True(t, updated.HasParticipant(dave.ID))
	assert.True(t, updated.IsVisibleTo(dave.ID))
	_, hasSummary := updated.Summary(dave.ID)
	assert.True(t, hasSummary)
	assert.Equal(t, 1, updated.UnreadFor(dave.ID))

	cutoff, ok := updated.HistoryCutoff(dave.ID)
	require.True(t, ok)

	messages, err := f.messages.ListMessages(ctx, dave.ID, group.ID, 0)
	require.NoError(t, err)
	assert.NotContains(t, texts(messages), "before dave")
	assert.Contains(t, texts(messages), "Dave joined the group")
	assert.Contains(t, texts(messages), "after dave")
	for _, m := range messages {
		assert.False(t, m.CreatedAt.Before(cutoff))
	}

	// Existing members keep the whole window.
	messages, err = f.messages.ListMessages(ctx, bob.ID, group.ID, 0)
	require.NoError(t, err)
	assert.Contains(t, texts(messages), "before dave")
}

func TestAddParticipant_IncludeHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	f.send(t, alice, group.ID, "before dave")

	_, err := f.membership.AddParticipant(ctx, alice.ID, group.ID, dave.Email, true)
	require.NoError(t, err)

	_, ok := f.get(t, group.ID).HistoryCutoff(dave.ID)
	assert.False(t, ok)

	messages, err := f.messages.ListMessages(ctx, dave.ID, group.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, texts(f.allMessages(t, group.ID)), texts(messages))
}

func TestAddParticipant_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	_, err := f.membership.AddParticipant(ctx, alice.ID, group.ID, bob.Email, false)
	assert.True(t, errors.Is(err, errors.CodeAlreadyMember))

	_, err = f.membership.AddParticipant(ctx, dave.ID, group.ID, dave.Email, false)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.membership.AddParticipant(ctx, alice.ID, group.ID, "ghost@example.com", false)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	direct := f.conversation(t, alice, bob)
	_, err = f.membership.AddParticipant(ctx, alice.ID, direct.ID, carol.Email, false)
	assert.True(t, errors.Is(err, errors.CodeUnsupported))
	assert.Len(t, f.get(t, direct.ID).Participants, 2)

	roster := f.roster(t, "r1", alice, bob, carol)
	_, err = f.membership.AddParticipant(ctx, alice.ID, roster.ID, dave.Email, false)
	assert.True(t, errors.Is(err, errors.CodeUnsupported))
}

func TestLeaveConversation_AnnouncesAndShrinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	require.NoError(t, f.membership.LeaveConversation(ctx, group.ID, alice.ID))

	updated := f.get(t, group.ID)
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, updated.Participants)
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, updated.VisibleTo)
	_, hasSummary := updated.Summary(alice.ID)
	assert.False(t, hasSummary)
	_, hasCounter := updated.UnreadCounts[alice.ID]
	assert.False(t, hasCounter)
	assert.Equal(t, "Alice left the group", updated.LastMessage)

	messages := f.allMessages(t, group.ID)
	require.NotEmpty(t, messages)
	last := messages[len(messages)-1]
	assert.True(t, last.IsSystem())
	assert.Equal(t, "Alice left the group", last.Text)
	assert.Equal(t, 0, updated.UnreadFor(bob.ID))
}

func TestLeaveConversation_LastMemberDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	require.NoError(t, f.membership.LeaveConversation(ctx, group.ID, alice.ID))
	require.NoError(t, f.membership.LeaveConversation(ctx, group.ID, bob.ID))
	require.NoError(t, f.membership.LeaveConversation(ctx, group.ID, carol.ID))

	_, err := f.store.GetConversation(ctx, group.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestLeaveConversation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct := f.conversation(t, alice, bob)
	assert.True(t, errors.Is(f.membership.LeaveConversation(ctx, direct.ID, alice.ID), errors.CodeUnsupported))

	roster := f.roster(t, "r1", alice, bob, carol)
	assert.True(t, errors.Is(f.membership.LeaveConversation(ctx, roster.ID, alice.ID), errors.CodeUnsupported))

	group := f.conversation(t, alice, bob, carol)
	assert.True(t, errors.Is(f.membership.LeaveConversation(ctx, group.ID, dave.ID), errors.CodeForbidden))
}

func TestRemoveParticipant_RosterIsUnsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roster := f.roster(t, "r1", alice, bob, carol)
	before := f.get(t, roster.ID)
	messagesBefore := f.allMessages(t, roster.ID)

	err := f.membership.RemoveParticipant(ctx, alice.ID, roster.ID, bob.ID)
	assert.True(t, errors.Is(err, errors.CodeUnsupported))

	assert.Equal(t, before, f.get(t, roster.ID))
	assert.Equal(t, messagesBefore, f.allMessages(t, roster.ID))
}

func TestRemoveParticipant_Group(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	require.NoError(t, f.membership.RemoveParticipant(ctx, alice.ID, group.ID, carol.ID))

	updated := f.get(t, group.ID)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, updated.Participants)
	assert.Equal(t, "Carol was removed from the group", updated.LastMessage)

	assert.True(t, errors.Is(f.membership.RemoveParticipant(ctx, alice.ID, group.ID, carol.ID), errors.CodeNotFound))
	assert.True(t, errors.Is(f.membership.RemoveParticipant(ctx, dave.ID, group.ID, bob.ID), errors.CodeForbidden))
}

func TestHideForSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct := f.conversation(t, alice, bob)
	f.send(t, alice, direct.ID, "hi")

	require.NoError(t, f.membership.HideForSelf(ctx, direct.ID, alice.ID))

	list, err := f.store.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.store.ListConversations(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Alice is still a participant, so the next message brings it back.
	f.send(t, bob, direct.ID, "still there?")
	list, err = f.store.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadFor(alice.ID))
}

func TestHideForSelf_EverybodyHidesDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct := f.conversation(t, alice, bob)
	require.NoError(t, f.membership.HideForSelf(ctx, direct.ID, alice.ID))
	require.NoError(t, f.membership.HideForSelf(ctx, direct.ID, bob.ID))

	_, err := f.store.GetConversation(ctx, direct.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	roster := f.roster(t, "r1", alice, bob, carol)
	assert.True(t, errors.Is(f.membership.HideForSelf(ctx, roster.ID, alice.ID), errors.CodeUnsupported))
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)
	require.NoError(t, f.membership.Rename(ctx, bob.ID, group.ID, "  Weekend squad "))

	updated := f.get(t, group.ID)
	assert.Equal(t, "Weekend squad", updated.Name)
	assert.Equal(t, `Bob renamed the group to "Weekend squad"`, updated.LastMessage)

	assert.True(t, errors.Is(f.membership.Rename(ctx, bob.ID, group.ID, "   "), errors.CodeValidation))

	direct := f.conversation(t, alice, bob)
	assert.True(t, errors.Is(f.membership.Rename(ctx, alice.ID, direct.ID, "Us"), errors.CodeUnsupported))

	roster := f.roster(t, "r1", alice, bob, carol)
	assert.True(t, errors.Is(f.membership.Rename(ctx, alice.ID, roster.ID, "Renamed"), errors.CodeUnsupported))
	assert.Equal(t, "Team r1", f.get(t, roster.ID).Name)
}

func TestGroupPhoto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.conversation(t, alice, bob, carol)

	url, err := f.membership.UploadPhoto(ctx, alice.ID, group.ID, pngHeader)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory://public/chats/"+group.ID+"/photo/"))

	updated := f.get(t, group.ID)
	assert.Equal(t, url, updated.PhotoURL)
	assert.Equal(t, "Alice changed the group photo", updated.LastMessage)

	_, err = f.membership.UploadPhoto(ctx, alice.ID, group.ID, []byte("not an image"))
	assert.True(t, errors.Is(err, errors.CodeValidation))
	assert.Equal(t, url, f.get(t, group.ID).PhotoURL)

	require.NoError(t, f.membership.UpdatePhoto(ctx, bob.ID, group.ID, "https://cdn.example.com/g.png"))
	assert.Equal(t, "https://cdn.example.com/g.png", f.get(t, group.ID).PhotoURL)

	direct := f.conversation(t, alice, bob)
	assert.True(t, errors.Is(f.membership.UpdatePhoto(ctx, alice.ID, direct.ID, "https://cdn.example.com/d.png"), errors.CodeUnsupported))
}

func TestCreateRosterConversation_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.roster(t, "roster-42", alice, bob, carol)
	assert.Equal(t, "roster-42", first.ID)
	assert.Equal(t, "roster-42", first.RosterID)
	assert.Equal(t, entity.ConversationRoster, first.Type)
	summary, ok := first.Summary(bob.ID)
	require.True(t, ok)
	assert.Equal(t, "Bob", summary.Name)

	second, err := f.membership.CreateRosterConversation(ctx, bob.ID, "roster-42", "Other name", []string{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Participants, 3)

	_, err = f.membership.CreateRosterConversation(ctx, alice.ID, " ", "x", []string{alice.ID, bob.ID})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	// Roster conversations never satisfy a direct or group lookup.
	group := f.conversation(t, alice, bob, carol)
	assert.NotEqual(t, first.ID, group.ID)
}

func TestCreateRosterConversation_GuardsExistingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.roster(t, "roster-7", alice, bob)
	_, err := f.membership.CreateRosterConversation(ctx, carol.ID, "roster-7", "Crashers", []string{carol.ID, dave.ID})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.membership.CreateRosterConversation(ctx, carol.ID, "roster-8", "Elsewhere", []string{alice.ID, bob.ID})
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	_, err = f.store.GetConversation(ctx, "roster-8")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	direct := f.conversation(t, alice, bob)
	f.send(t, alice, direct.ID, "private to bob")
	for _, caller := range []string{carol.ID, alice.ID} {
		conversation, err := f.membership.CreateRosterConversation(ctx, caller, direct.ID, "Hijack", []string{caller, dave.ID})
		assert.Nil(t, conversation)
		assert.True(t, errors.Is(err, errors.CodeConflict), caller)
	}
	assert.Equal(t, entity.ConversationDirect, f.get(t, direct.ID).Type)
}
