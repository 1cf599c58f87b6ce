package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/chat"
	"github.com/nexus-im/messenger/store/membership"
	"github.com/nexus-im/messenger/store/message"
)

// SQLStore implements Store using a sqlx connection pool.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const (
	listForUserQuery = `
		SELECT c.id, c.name, c.is_group, c.avatar_url, c.created_at,
			lm.content AS last_message, lm.created_at AS last_message_time
		FROM chats c
		JOIN (
			SELECT DISTINCT chat_id FROM chat_members WHERE user_id = $1
		) mine ON mine.chat_id = c.id
		LEFT JOIN LATERAL (
			SELECT m.content, m.created_at
			FROM messages m
			WHERE m.chat_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON TRUE
		ORDER BY last_message_time DESC NULLS LAST, c.created_at DESC, c.id DESC
	`

	directBetweenQuery = `
		SELECT c.id, c.name, c.is_group, c.avatar_url, c.settings, c.created_at
		FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id
		JOIN chat_members m2 ON m2.chat_id = c.id
		WHERE NOT c.is_group
			AND m1.user_id = $1
			AND m2.user_id = $2
		ORDER BY c.id
		LIMIT 1
	`

	directSelfQuery = `
		SELECT c.id, c.name, c.is_group, c.avatar_url, c.settings, c.created_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE NOT c.is_group
		GROUP BY c.id
		HAVING COUNT(*) = 1 AND BOOL_AND(m.user_id = $1)
		ORDER BY c.id
		LIMIT 1
	`
)

// ListForUser returns every chat userID belongs to, most recently active
// first. Chats without messages follow, newest chat first.
func (s *SQLStore) ListForUser(ctx context.Context, userID int64) ([]Summary, error) {
	summaries := []Summary{}
	if err := sqlx.SelectContext(ctx, s.db, &summaries, listForUserQuery, userID); err != nil {
		return nil, store.Unavailable(fmt.Errorf("list chats of user %d: %w", userID, err))
	}
	return summaries, nil
}

// History returns the messages of chatID to a viewer who is a member. The
// membership check and the read share one snapshot.
func (s *SQLStore) History(ctx context.Context, chatID, viewerID int64) ([]message.Entry, error) {
	var entries []message.Entry
	err := store.WithTx(ctx, s.db, store.ReadSnapshot, func(tx *sqlx.Tx) error {
		if _, err := membership.Lookup(ctx, tx, chatID, viewerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotMember
			}
			return err
		}
		var err error
		entries, err = message.Select(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return entries, nil
}

// FindDirect returns the direct chat between userID and peerID. When both are
// the same user it looks for the user's self chat.
func (s *SQLStore) FindDirect(ctx context.Context, userID, peerID int64) (*chat.Chat, error) {
	var (
		c   chat.Chat
		err error
	)
	if userID == peerID {
		err = sqlx.GetContext(ctx, s.db, &c, directSelfQuery, userID)
	} else {
		err = sqlx.GetContext(ctx, s.db, &c, directBetweenQuery, userID, peerID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDirectChatNotFound
		}
		return nil, store.Unavailable(err)
	}
	return &c, nil
}
