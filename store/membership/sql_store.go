package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/store"
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
	lookupQuery = `
		SELECT chat_id, user_id, role, can_write, joined_at
		FROM chat_members
		WHERE chat_id = $1 AND user_id = $2
	`

	insertQuery = `
		INSERT INTO chat_members (chat_id, user_id, role, can_write)
		VALUES ($1, $2, $3, $4)
		RETURNING chat_id, user_id, role, can_write, joined_at
	`

	updateQuery = `
		UPDATE chat_members
		SET role = $1, can_write = $2
		WHERE chat_id = $3 AND user_id = $4
		RETURNING chat_id, user_id, role, can_write, joined_at
	`

	lockChatQuery = `SELECT id FROM chats WHERE id = $1 FOR NO KEY UPDATE`

	adminsQuery = `
		SELECT user_id
		FROM chat_members
		WHERE chat_id = $1 AND role = 'admin'
		FOR UPDATE
	`

	listMembersQuery = `
		SELECT u.id, u.username, u.avatar_url, cm.role, cm.can_write
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY cm.joined_at, u.id
	`
)

func (s *SQLStore) Create(ctx context.Context, chatID, userID int64, role Role, canWrite bool) (*Membership, error) {
	var created *Membership
	err := store.WithTx(ctx, s.db, store.WriteTx, func(tx *sqlx.Tx) error {
		var err error
		created, err = Insert(ctx, tx, chatID, userID, role, canWrite)
		return err
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return created, nil
}

func (s *SQLStore) Get(ctx context.Context, chatID, userID int64) (*Membership, error) {
	m, err := Lookup(ctx, s.db, chatID, userID)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return m, nil
}

// Update overwrites the role and write permission of targetUserID. The acting
// user must be an admin of the chat when the transaction runs; the chat row
// lock orders this against concurrent appends and other role changes.
func (s *SQLStore) Update(ctx context.Context, chatID, actingUserID, targetUserID int64, role Role, canWrite bool) (*Membership, error) {
	var updated Membership
	err := store.WithTx(ctx, s.db, store.WriteTx, func(tx *sqlx.Tx) error {
		if err := LockChat(ctx, tx, chatID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotAdmin
			}
			return err
		}
		if err := RequireAdmin(ctx, tx, chatID, actingUserID); err != nil {
			return err
		}
		if !role.Valid() {
			return ErrInvalidRole
		}

		target, err := Lookup(ctx, tx, chatID, targetUserID)
		if err != nil {
			return err
		}
		if target.IsAdmin() && role != RoleAdmin {
			var admins []int64
			if err := sqlx.SelectContext(ctx, tx, &admins, adminsQuery, chatID); err != nil {
				return fmt.Errorf("lock admins of chat %d: %w", chatID, err)
			}
			if len(admins) <= 1 {
				return ErrLastAdmin
			}
		}

		if err := sqlx.GetContext(ctx, tx, &updated, updateQuery, role, canWrite, chatID, targetUserID); err != nil {
			return fmt.Errorf("update membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return &updated, nil
}

func (s *SQLStore) ListMembers(ctx context.Context, chatID int64) ([]Member, error) {
	members, err := selectMembers(ctx, s.db, chatID)
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return members, nil
}

// ListMembersFor lists the members of a chat as seen by viewerID, who must be
// a member. Both reads share one snapshot.
func (s *SQLStore) ListMembersFor(ctx context.Context, chatID, viewerID int64) ([]Member, error) {
	var members []Member
	err := store.WithTx(ctx, s.db, store.ReadSnapshot, func(tx *sqlx.Tx) error {
		if _, err := Lookup(ctx, tx, chatID, viewerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotMember
			}
			return err
		}
		var err error
		members, err = selectMembers(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return members, nil
}

// Insert creates a membership row inside the caller's transaction.
func Insert(ctx context.Context, q sqlx.QueryerContext, chatID, userID int64, role Role, canWrite bool) (*Membership, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	var m Membership
	if err := sqlx.GetContext(ctx, q, &m, insertQuery, chatID, userID, role, canWrite); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("chat %d user %d: %w", chatID, userID, store.ErrDuplicateMembership)
		}
		return nil, fmt.Errorf("%w: membership chat %d user %d: %w", store.ErrInsertFailed, chatID, userID, err)
	}
	return &m, nil
}

// Lookup returns the membership of userID in chatID or ErrMembershipNotFound.
func Lookup(ctx context.Context, q sqlx.QueryerContext, chatID, userID int64) (*Membership, error) {
	var m Membership
	if err := sqlx.GetContext(ctx, q, &m, lookupQuery, chatID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	return &m, nil
}

// RequireAdmin fails with ErrNotAdmin unless userID is an admin of chatID.
func RequireAdmin(ctx context.Context, q sqlx.QueryerContext, chatID, userID int64) error {
	m, err := Lookup(ctx, q, chatID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAdmin
		}
		return err
	}
	if !m.IsAdmin() {
		return ErrNotAdmin
	}
	return nil
}

// LockChat takes the per-chat write lock. Every mutation of a chat's
// memberships, settings or messages holds it until commit.
func LockChat(ctx context.Context, q sqlx.QueryerContext, chatID int64) error {
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, lockChatQuery, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatNotFound
		}
		return fmt.Errorf("lock chat %d: %w", chatID, err)
	}
	return nil
}

func selectMembers(ctx context.Context, q sqlx.QueryerContext, chatID int64) ([]Member, error) {
	members := []Member{}
	if err := sqlx.SelectContext(ctx, q, &members, listMembersQuery, chatID); err != nil {
		return nil, fmt.Errorf("list members of chat %d: %w", chatID, err)
	}
	return members, nil
}
