package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/messenger/internal/database/dbtest"
	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/chat"
	"github.com/nexus-im/messenger/store/conversation"
	"github.com/nexus-im/messenger/store/membership"
	"github.com/nexus-im/messenger/store/message"
)

type stores struct {
	chats         *chat.SQLStore
	members       *membership.SQLStore
	messages      *message.SQLStore
	conversations *conversation.SQLStore
}

func newStores(t *testing.T) (stores, func(string) int64) {
	db := dbtest.Open(t)
	s := stores{
		chats:         chat.NewSQLStore(db),
		members:       membership.NewSQLStore(db),
		messages:      message.NewSQLStore(db, 0),
		conversations: conversation.NewSQLStore(db),
	}
	return s, func(name string) int64 { return dbtest.CreateUser(t, db, name) }
}

func TestTeamScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, newUser := newStores(t)
	a, b, c := newUser("a"), newUser("b"), newUser("c")

	team, err := s.chats.Create(ctx, lo.ToPtr("team"), true, []int64{a, b, c})
	req.NoError(err)

	adminA, err := s.members.Get(ctx, team.ID, a)
	req.NoError(err)
	req.Equal(membership.RoleAdmin, adminA.Role)

	_, err = s.messages.Append(ctx, team.ID, b, "hi")
	req.NoError(err)

	_, err = s.members.Update(ctx, team.ID, a, b, membership.RoleMember, false)
	req.NoError(err)

	_, err = s.messages.Append(ctx, team.ID, b, "hi again")
	req.ErrorIs(err, store.ErrWriteForbidden)

	_, err = s.chats.UpdateSettings(ctx, team.ID, c, json.RawMessage(`{"topic":"x"}`))
	req.ErrorIs(err, store.ErrForbidden)

	history, err := s.messages.List(ctx, team.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hi", history[0].Content)
	req.Equal("b", history[0].Username)
}

func TestChatCreationRoles(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, newUser := newStores(t)
	a, b := newUser("a"), newUser("b")

	direct, err := s.chats.Create(ctx, nil, false, []int64{a, b})
	req.NoError(err)

	members, err := s.members.ListMembers(ctx, direct.ID)
	req.NoError(err)
	req.Len(members, 2)
	for _, m := range members {
		req.Equal(membership.RoleMember, m.Role)
		req.True(m.CanWrite)
	}

	_, err = s.chats.Create(ctx, lo.ToPtr("broken"), true, []int64{a, 999999})
	req.ErrorIs(err, store.ErrInsertFailed)

	summaries, err := s.conversations.ListForUser(ctx, a)
	req.NoError(err)
	req.Len(summaries, 1, "a failed creation must leave no chat behind")
}

func TestAppendOrderingAndRoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, newUser := newStores(t)
	a, b, outsider := newUser("a"), newUser("b"), newUser("outsider")

	room, err := s.chats.Create(ctx, lo.ToPtr("room"), true, []int64{a, b})
	req.NoError(err)

	_, err = s.messages.Append(ctx, room.ID, outsider, "let me in")
	req.ErrorIs(err, store.ErrForbidden)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(author int64) {
			defer wg.Done()
			_, err := s.messages.Append(ctx, room.ID, author, "burst")
			errs <- err
		}(lo.Ternary(i%2 == 0, a, b))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	hello, err := s.messages.Append(ctx, room.ID, a, "hello")
	req.NoError(err)

	history, err := s.messages.List(ctx, room.ID)
	req.NoError(err)
	req.Len(history, 21)
	for i := 1; i < len(history); i++ {
		req.True(history[i].CreatedAt.After(history[i-1].CreatedAt), "created_at must be strictly increasing")
	}
	last := history[len(history)-1]
	req.Equal(hello.ID, last.ID)
	req.Equal(hello.ChatID, last.ChatID)
	req.Equal(hello.UserID, last.UserID)
	req.Equal("hello", last.Content)
}

func TestListForUserOrdering(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, newUser := newStores(t)
	a, b := newUser("a"), newUser("b")

	quiet, err := s.chats.Create(ctx, lo.ToPtr("quiet"), true, []int64{a})
	req.NoError(err)
	older, err := s.chats.Create(ctx, lo.ToPtr("older"), true, []int64{a, b})
	req.NoError(err)
	newer, err := s.chats.Create(ctx, nil, false, []int64{a, b})
	req.NoError(err)
	_, err = s.chats.Create(ctx, lo.ToPtr("not mine"), true, []int64{b})
	req.NoError(err)

	_, err = s.messages.Append(ctx, newer.ID, b, "first")
	req.NoError(err)
	_, err = s.messages.Append(ctx, older.ID, a, "second")
	req.NoError(err)

	summaries, err := s.conversations.ListForUser(ctx, a)
	req.NoError(err)
	req.Equal([]int64{older.ID, newer.ID, quiet.ID}, lo.Map(summaries, func(sum conversation.Summary, _ int) int64 {
		return sum.ID
	}))
	req.Equal("second", *summaries[0].LastMessage)
	req.Nil(summaries[2].LastMessage)
	req.Nil(summaries[2].LastMessageTime)

	direct, err := s.conversations.FindDirect(ctx, b, a)
	req.NoError(err)
	req.Equal(newer.ID, direct.ID)
}

func TestNonAdminCannotChangeMembers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, newUser := newStores(t)
	a, b, c := newUser("a"), newUser("b"), newUser("c")

	team, err := s.chats.Create(ctx, lo.ToPtr("team"), true, []int64{a, b, c})
	req.NoError(err)

	_, err = s.members.Update(ctx, team.ID, b, c, membership.RoleMember, false)
	req.ErrorIs(err, store.ErrForbidden)

	target, err := s.members.Get(ctx, team.ID, c)
	req.NoError(err)
	req.True(target.CanWrite)

	_, err = s.members.Update(ctx, team.ID, a, a, membership.RoleMember, true)
	req.ErrorIs(err, membership.ErrLastAdmin)

	_, err = s.conversations.History(ctx, team.ID, newUser("d"))
	req.ErrorIs(err, store.ErrForbidden)
}
