package chat

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/messenger/store"
)

var (
	chatRowColumns       = []string{"id", "name", "is_group", "avatar_url", "settings", "created_at"}
	membershipRowColumns = []string{"chat_id", "user_id", "role", "can_write", "joined_at"}
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres")), mock
}

func expectMemberInsert(mock sqlmock.Sqlmock, chatID, userID int64, role string) {
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_members")).
		WithArgs(chatID, userID, role, true).
		WillReturnRows(sqlmock.NewRows(membershipRowColumns).AddRow(chatID, userID, role, true, time.Now()))
}

func TestSQLStore_Create(t *testing.T) {
	ctx := context.Background()
	created := time.Now().UTC()

	t.Run("should make the first member of a group its admin", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (name, is_group)")).
			WithArgs("team", true).
			WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(7, "team", true, nil, []byte(`{}`), created))
		expectMemberInsert(mock, 7, 1, "admin")
		expectMemberInsert(mock, 7, 2, "member")
		expectMemberInsert(mock, 7, 3, "member")
		mock.ExpectCommit()

		c, err := s.Create(ctx, lo.ToPtr("team"), true, []int64{1, 2, 3})

		req.NoError(err)
		req.Equal(int64(7), c.ID)
		req.Equal("team", *c.Name)
		req.True(c.IsGroup)
		req.JSONEq(`{}`, string(c.Settings))
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should create direct chats without an admin", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (name, is_group)")).
			WithArgs(nil, false).
			WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(8, nil, false, nil, []byte(`{}`), created))
		expectMemberInsert(mock, 8, 1, "member")
		expectMemberInsert(mock, 8, 2, "member")
		mock.ExpectCommit()

		c, err := s.Create(ctx, nil, false, []int64{1, 2})

		req.NoError(err)
		req.Nil(c.Name)
		req.False(c.IsGroup)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should roll back the whole chat when a membership fails", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (name, is_group)")).
			WithArgs("team", true).
			WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(9, "team", true, nil, []byte(`{}`), created))
		expectMemberInsert(mock, 9, 1, "admin")
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_members")).
			WithArgs(int64(9), int64(404), "member", true).
			WillReturnError(&pq.Error{Code: "23503"})
		mock.ExpectRollback()

		c, err := s.Create(ctx, lo.ToPtr("team"), true, []int64{1, 404, 3})

		req.Nil(c)
		req.ErrorIs(err, store.ErrInsertFailed)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should surface a repeated member as insert failed", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chats (name, is_group)")).
			WithArgs("pair", true).
			WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(11, "pair", true, nil, []byte(`{}`), created))
		expectMemberInsert(mock, 11, 1, "admin")
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_members")).
			WithArgs(int64(11), int64(1), "member", true).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := s.Create(ctx, lo.ToPtr("pair"), true, []int64{1, 1})

		req.ErrorIs(err, store.ErrInsertFailed)
		req.ErrorIs(err, store.ErrDuplicateMembership)
		req.NoError(mock.ExpectationsWereMet())
	})
}

func TestSQLStore_Get(t *testing.T) {
	req := require.New(t)
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(chatRowColumns))

	_, err := s.Get(context.Background(), 3)

	req.ErrorIs(err, ErrChatNotFound)
	req.ErrorIs(err, store.ErrNotFound)
}

func TestSQLStore_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	settings := json.RawMessage(`{"members_can_write": false}`)

	expectLock := func(mock sqlmock.Sqlmock, chatID int64) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM chats WHERE id = $1 FOR NO KEY UPDATE")).
			WithArgs(chatID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(chatID))
	}
	expectRole := func(mock sqlmock.Sqlmock, chatID, userID int64, role string) {
		rows := sqlmock.NewRows(membershipRowColumns)
		if role != "" {
			rows.AddRow(chatID, userID, role, true, time.Now())
		}
		mock.ExpectQuery(regexp.QuoteMeta("WHERE chat_id = $1 AND user_id = $2")).
			WithArgs(chatID, userID).
			WillReturnRows(rows)
	}

	t.Run("should overwrite settings for an admin", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		expectLock(mock, 7)
		expectRole(mock, 7, 1, "admin")
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE chats")).
			WithArgs(string(settings), int64(7)).
			WillReturnRows(sqlmock.NewRows(chatRowColumns).AddRow(7, "team", true, nil, []byte(settings), time.Now()))
		mock.ExpectCommit()

		c, err := s.UpdateSettings(ctx, 7, 1, settings)

		req.NoError(err)
		req.JSONEq(string(settings), string(c.Settings))
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should forbid a plain member", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		expectLock(mock, 7)
		expectRole(mock, 7, 3, "member")
		mock.ExpectRollback()

		_, err := s.UpdateSettings(ctx, 7, 3, settings)

		req.ErrorIs(err, store.ErrForbidden)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should forbid a non member", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		expectLock(mock, 7)
		expectRole(mock, 7, 50, "")
		mock.ExpectRollback()

		_, err := s.UpdateSettings(ctx, 7, 50, settings)

		req.ErrorIs(err, store.ErrForbidden)
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should reject settings that are not an object", func(t *testing.T) {
		req := require.New(t)
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		expectLock(mock, 7)
		expectRole(mock, 7, 1, "admin")
		mock.ExpectRollback()

		_, err := s.UpdateSettings(ctx, 7, 1, json.RawMessage(`[1,2]`))

		req.ErrorIs(err, store.ErrInvalidArgument)
		req.NoError(mock.ExpectationsWereMet())
	})
}
