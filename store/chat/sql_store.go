package chat

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/membership"
)

// SQLStore implements Store on top of Postgres.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const (
	chatColumns = `id, name, is_group, avatar_url, settings, created_at`

	insertQuery = `
		INSERT INTO chats (name, is_group)
		VALUES ($1, $2)
		RETURNING ` + chatColumns

	getQuery = `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	updateSettingsQuery = `
		UPDATE chats
		SET settings = $1
		WHERE id = $2
		RETURNING ` + chatColumns
)

// Create allocates a chat and its memberships in one transaction. For group
// chats the first member becomes admin; direct chats have no admin.
func (s *SQLStore) Create(ctx context.Context, name *string, isGroup bool, memberIDs []int64) (*Chat, error) {
	var created Chat
	err := store.WithTx(ctx, s.db, store.WriteTx, func(tx *sqlx.Tx) error {
		if err := sqlx.GetContext(ctx, tx, &created, insertQuery, name, isGroup); err != nil {
			return fmt.Errorf("%w: chat: %w", store.ErrInsertFailed, err)
		}

		for idx, memberID := range memberIDs {
			role := membership.RoleMember
			if idx == 0 && isGroup {
				role = membership.RoleAdmin
			}
			if _, err := membership.Insert(ctx, tx, created.ID, memberID, role, true); err != nil {
				if !errors.Is(err, store.ErrInsertFailed) {
					err = fmt.Errorf("%w: %w", store.ErrInsertFailed, err)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return &created, nil
}

func (s *SQLStore) Get(ctx context.Context, chatID int64) (*Chat, error) {
	var c Chat
	if err := sqlx.GetContext(ctx, s.db, &c, getQuery, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, store.Unavailable(err)
	}
	return &c, nil
}

// UpdateSettings replaces the settings document wholesale. Only an admin of
// the chat may do so.
func (s *SQLStore) UpdateSettings(ctx context.Context, chatID, actingUserID int64, settings json.RawMessage) (*Chat, error) {
	var updated Chat
	err := store.WithTx(ctx, s.db, store.WriteTx, func(tx *sqlx.Tx) error {
		if err := membership.LockChat(ctx, tx, chatID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return membership.ErrNotAdmin
			}
			return err
		}
		if err := membership.RequireAdmin(ctx, tx, chatID, actingUserID); err != nil {
			return err
		}
		if !isObject(settings) {
			return ErrInvalidSettings
		}

		if err := sqlx.GetContext(ctx, tx, &updated, updateSettingsQuery, string(settings), chatID); err != nil {
			return fmt.Errorf("update settings of chat %d: %w", chatID, err)
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return &updated, nil
}

func isObject(doc json.RawMessage) bool {
	trimmed := bytes.TrimSpace(doc)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
