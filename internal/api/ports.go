package api

//go:generate mockgen -source=ports.go -destination=../../mocks/mock_ports.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-im/messenger/internal/auth"
	"github.com/nexus-im/messenger/store/chat"
	"github.com/nexus-im/messenger/store/conversation"
	"github.com/nexus-im/messenger/store/membership"
	"github.com/nexus-im/messenger/store/message"
	"github.com/nexus-im/messenger/store/user"
)

type ChatStore interface {
	Create(ctx context.Context, name *string, isGroup bool, memberIDs []int64) (*chat.Chat, error)
	UpdateSettings(ctx context.Context, chatID, actingUserID int64, settings json.RawMessage) (*chat.Chat, error)
}

type MembershipStore interface {
	Update(ctx context.Context, chatID, actingUserID, targetUserID int64, role membership.Role, canWrite bool) (*membership.Membership, error)
	ListMembersFor(ctx context.Context, chatID, viewerID int64) ([]membership.Member, error)
}

type MessageStore interface {
	Append(ctx context.Context, chatID, userID int64, content string) (*message.Message, error)
}

type ConversationStore interface {
	ListForUser(ctx context.Context, userID int64) ([]conversation.Summary, error)
	History(ctx context.Context, chatID, viewerID int64) ([]message.Entry, error)
	FindDirect(ctx context.Context, userID, peerID int64) (*chat.Chat, error)
}

type UserStore interface {
	Create(ctx context.Context, email, username, passwordHash string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	UpdateProfile(ctx context.Context, id int64, username string, avatarURL *string) (*user.User, error)
	List(ctx context.Context) ([]user.User, error)
}

type TokenService interface {
	GenerateToken(userID int64, username string) (string, error)
	ValidateToken(token string) (*auth.Claims, error)
	Validity() time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Pinger reports whether the database answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}
