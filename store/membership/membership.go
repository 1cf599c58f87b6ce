package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-im/messenger/store"
)

// Role is the authority a member holds inside one chat.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Membership grants a user access to a chat.
type Membership struct {
	ChatID   int64     `db:"chat_id" json:"chat_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Role     Role      `db:"role" json:"role"`
	CanWrite bool      `db:"can_write" json:"can_write"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

func (m *Membership) IsAdmin() bool {
	return m != nil && m.Role == RoleAdmin
}

// Member is a membership joined with the user's public profile.
type Member struct {
	UserID    int64   `db:"id" json:"id"`
	Username  string  `db:"username" json:"username"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
	Role      Role    `db:"role" json:"role"`
	CanWrite  bool    `db:"can_write" json:"can_write"`
}

var (
	ErrMembershipNotFound = fmt.Errorf("membership %w", store.ErrNotFound)
	ErrNotAdmin           = fmt.Errorf("admin only: %w", store.ErrForbidden)
	ErrNotMember          = fmt.Errorf("not a member: %w", store.ErrForbidden)
	ErrInvalidRole        = fmt.Errorf("role must be admin or member: %w", store.ErrInvalidArgument)
	ErrLastAdmin          = fmt.Errorf("chat must keep at least one admin: %w", store.ErrInvalidArgument)
	ErrChatNotFound       = fmt.Errorf("chat %w", store.ErrNotFound)
)

// Store defines membership persistence operations.
type Store interface {
	Create(ctx context.Context, chatID, userID int64, role Role, canWrite bool) (*Membership, error)
	Get(ctx context.Context, chatID, userID int64) (*Membership, error)
	Update(ctx context.Context, chatID, actingUserID, targetUserID int64, role Role, canWrite bool) (*Membership, error)
	ListMembers(ctx context.Context, chatID int64) ([]Member, error)
	ListMembersFor(ctx context.Context, chatID, viewerID int64) ([]Member, error)
}
