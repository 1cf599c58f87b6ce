package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-im/messenger/store"
)

// User is an account known to the messenger.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Username     string    `db:"username" json:"username"`
	AvatarURL    *string   `db:"avatar_url" json:"avatar_url"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

var (
	ErrUserNotFound   = fmt.Errorf("user %w", store.ErrNotFound)
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store defines user persistence operations.
type Store interface {
	Create(ctx context.Context, email, username, passwordHash string) (*User, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id int64, username string, avatarURL *string) (*User, error)
	List(ctx context.Context) ([]User, error)
}
