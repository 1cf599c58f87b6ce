package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/store"
)

// SQLStore implements Store using a sqlx connection pool.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const userColumns = `id, email, username, avatar_url, password_hash, created_at`

func (s *SQLStore) Create(ctx context.Context, email, username, passwordHash string) (*User, error) {
	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	var u User
	if err := sqlx.GetContext(ctx, s.db, &u, query, email, username, passwordHash); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, store.Unavailable(fmt.Errorf("create user: %w", err))
	}
	return &u, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// UpdateProfile overwrites the public profile of a user. A nil avatarURL
// clears the avatar.
func (s *SQLStore) UpdateProfile(ctx context.Context, id int64, username string, avatarURL *string) (*User, error) {
	query := `
		UPDATE users
		SET username = $1, avatar_url = $2
		WHERE id = $3
		RETURNING ` + userColumns

	return s.getOne(ctx, query, username, avatarURL, id)
}

func (s *SQLStore) List(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := sqlx.SelectContext(ctx, s.db, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, store.Unavailable(fmt.Errorf("list users: %w", err))
	}
	return users, nil
}

func (s *SQLStore) getOne(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	if err := sqlx.GetContext(ctx, s.db, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, store.Unavailable(err)
	}
	return &u, nil
}
