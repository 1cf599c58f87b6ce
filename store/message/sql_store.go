package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/membership"
)

// SQLStore implements Store on top of Postgres.
type SQLStore struct {
	db         *sqlx.DB
	maxContent int
}

// NewSQLStore creates a new SQLStore. A non-positive maxContent falls back to
// DefaultMaxContentLength.
func NewSQLStore(db *sqlx.DB, maxContent int) *SQLStore {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}
	return &SQLStore{db: db, maxContent: maxContent}
}

const (
	// advanceClockQuery locks the chat row and hands out the next timestamp
	// of the chat. Stamps are strictly increasing within one chat.
	advanceClockQuery = `
		UPDATE chats
		SET last_message_at = GREATEST(clock_timestamp(), last_message_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING last_message_at
	`

	insertQuery = `
		INSERT INTO messages (chat_id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, chat_id, user_id, content, created_at
	`

	historyQuery = `
		SELECT m.id, m.chat_id, m.user_id, m.content, m.created_at, u.username, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`
)

// Append stores a message from userID. The author must be a member with
// write permission at the moment the message is stored.
func (s *SQLStore) Append(ctx context.Context, chatID, userID int64, content string) (*Message, error) {
	if err := s.validate(content); err != nil {
		return nil, err
	}

	var stored Message
	err := store.WithTx(ctx, s.db, store.WriteTx, func(tx *sqlx.Tx) error {
		var stamp time.Time
		if err := sqlx.GetContext(ctx, tx, &stamp, advanceClockQuery, chatID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotMember
			}
			return fmt.Errorf("advance clock of chat %d: %w", chatID, err)
		}

		m, err := membership.Lookup(ctx, tx, chatID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotMember
			}
			return err
		}
		if !m.CanWrite {
			return ErrWritingDisabled
		}

		if err := sqlx.GetContext(ctx, tx, &stored, insertQuery, chatID, userID, content, stamp); err != nil {
			return fmt.Errorf("%w: message: %w", store.ErrInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return &stored, nil
}

// List returns the whole history of a chat, oldest first, with author
// profiles read at query time.
func (s *SQLStore) List(ctx context.Context, chatID int64) ([]Entry, error) {
	entries, err := Select(ctx, s.db, chatID)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return entries, nil
}

// Select reads the history of chatID through q, which may be a transaction.
func Select(ctx context.Context, q sqlx.QueryerContext, chatID int64) ([]Entry, error) {
	entries := []Entry{}
	if err := sqlx.SelectContext(ctx, q, &entries, historyQuery, chatID); err != nil {
		return nil, fmt.Errorf("list messages of chat %d: %w", chatID, err)
	}
	return entries, nil
}

func (s *SQLStore) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxContent {
		return ErrContentTooLong
	}
	return nil
}
