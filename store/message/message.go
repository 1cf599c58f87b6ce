package message

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-im/messenger/store"
)

// DefaultMaxContentLength bounds message content when no limit is configured.
const DefaultMaxContentLength = 4000

// Message is one immutable entry of a chat's history.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Entry is a message joined with the author's current profile.
type Entry struct {
	Message
	Username  string  `db:"username" json:"username"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
}

var (
	ErrEmptyContent    = fmt.Errorf("message content is empty: %w", store.ErrInvalidArgument)
	ErrContentTooLong  = fmt.Errorf("message content is too long: %w", store.ErrInvalidArgument)
	ErrNotMember       = fmt.Errorf("not a member: %w", store.ErrForbidden)
	ErrWritingDisabled = fmt.Errorf("member may not write: %w", store.ErrWriteForbidden)
)

// Store defines message persistence operations.
type Store interface {
	Append(ctx context.Context, chatID, userID int64, content string) (*Message, error)
	List(ctx context.Context, chatID int64) ([]Entry, error)
}
