package message

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/messenger/store"
)

var (
	messageColumns    = []string{"id", "chat_id", "user_id", "content", "created_at"}
	membershipColumns = []string{"chat_id", "user_id", "role", "can_write", "joined_at"}
	entryColumns      = []string{"id", "chat_id", "user_id", "content", "created_at", "username", "avatar_url"}
)

func newMockStore(t *testing.T, maxContent int) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres"), maxContent), mock
}

func expectClock(mock sqlmock.Sqlmock, chatID int64, stamp time.Time) {
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
		WithArgs(chatID).
		WillReturnRows(sqlmock.NewRows([]string{"last_message_at"}).AddRow(stamp))
}

func expectMembership(mock sqlmock.Sqlmock, chatID, userID int64, canWrite bool) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_members")).
		WithArgs(chatID, userID).
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(chatID, userID, "member", canWrite, time.Now()))
}

func TestSQLStore_Append(t *testing.T) {
	ctx := context.Background()
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should store the message with the chat clock stamp", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectBegin()
		expectClock(mock, 7, stamp)
		expectMembership(mock, 7, 2, true)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
			WithArgs(int64(7), int64(2), "hi", stamp).
			WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(100, 7, 2, "hi", stamp))
		mock.ExpectCommit()

		m, err := s.Append(ctx, 7, 2, "hi")

		req.NoError(err)
		req.Equal(&Message{ID: 100, ChatID: 7, UserID: 2, Content: "hi", CreatedAt: stamp}, m)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should forbid a non member and store nothing", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectBegin()
		expectClock(mock, 7, stamp)
		mock.ExpectQuery(regexp.QuoteMeta("FROM chat_members")).
			WithArgs(int64(7), int64(9)).
			WillReturnRows(sqlmock.NewRows(membershipColumns))
		mock.ExpectRollback()

		m, err := s.Append(ctx, 7, 9, "hi")

		req.Nil(m)
		req.ErrorIs(err, store.ErrForbidden)
		req.NotErrorIs(err, store.ErrWriteForbidden)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should report writing forbidden for a muted member", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectBegin()
		expectClock(mock, 7, stamp)
		expectMembership(mock, 7, 3, false)
		mock.ExpectRollback()

		_, err := s.Append(ctx, 7, 3, "hi")

		req.ErrorIs(err, store.ErrWriteForbidden)
		req.NotErrorIs(err, store.ErrForbidden)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should forbid appending to a missing chat", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"last_message_at"}))
		mock.ExpectRollback()

		_, err := s.Append(ctx, 404, 1, "hi")

		req.ErrorIs(err, store.ErrForbidden)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should reject blank content before touching the store", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		for _, content := range []string{"", "   ", "\n\t"} {
			_, err := s.Append(ctx, 7, 2, content)
			req.ErrorIs(err, store.ErrInvalidArgument)
		}
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should reject content over the configured limit", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 5)

		_, err := s.Append(ctx, 7, 2, strings.Repeat("a", 6))

		req.ErrorIs(err, ErrContentTooLong)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should classify driver failures as unavailable", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
			WithArgs(int64(7)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := s.Append(ctx, 7, 2, "hi")

		req.ErrorIs(err, store.ErrStoreUnavailable)
		req.NoError(mock.ExpectationsWereMet())
	})
}

func TestSQLStore_List(t *testing.T) {
	t.Run("should return history oldest first with author profiles", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)
		first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		second := first.Add(time.Microsecond)

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.created_at ASC, m.id ASC")).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(entryColumns).
				AddRow(1, 7, 1, "hello", first, "alice", nil).
				AddRow(2, 7, 2, "hey", second, "bob", "https://cdn.example/b.png"))

		entries, err := s.List(context.Background(), 7)

		req.NoError(err)
		req.Len(entries, 2)
		req.Equal("alice", entries[0].Username)
		req.Nil(entries[0].AvatarURL)
		req.Equal(int64(2), entries[1].ID)
		req.Equal("https://cdn.example/b.png", *entries[1].AvatarURL)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should return an empty list for an unknown chat", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t, 0)

		mock.ExpectQuery(regexp.QuoteMeta("FROM messages m")).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(entryColumns))

		entries, err := s.List(context.Background(), 404)

		req.NoError(err)
		req.NotNil(entries)
		req.Empty(entries)
	})
}
