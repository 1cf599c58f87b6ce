package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/chat"
	"github.com/nexus-im/messenger/store/message"
)

// Summary is one row of a user's chat list.
type Summary struct {
	ID              int64      `db:"id" json:"id"`
	Name            *string    `db:"name" json:"name"`
	IsGroup         bool       `db:"is_group" json:"is_group"`
	AvatarURL       *string    `db:"avatar_url" json:"avatar_url"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	LastMessage     *string    `db:"last_message" json:"last_message"`
	LastMessageTime *time.Time `db:"last_message_time" json:"last_message_time"`
}

var (
	ErrDirectChatNotFound = fmt.Errorf("direct chat %w", store.ErrNotFound)
	ErrNotMember          = fmt.Errorf("not a member: %w", store.ErrForbidden)
)

// Store composes read views that span chats, memberships and messages.
type Store interface {
	ListForUser(ctx context.Context, userID int64) ([]Summary, error)
	History(ctx context.Context, chatID, viewerID int64) ([]message.Entry, error)
	FindDirect(ctx context.Context, userID, peerID int64) (*chat.Chat, error)
}
