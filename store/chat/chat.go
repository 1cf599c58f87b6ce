package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-im/messenger/store"
)

// Chat is a direct or group conversation. Its members own it collectively.
type Chat struct {
	ID        int64           `db:"id" json:"id"`
	Name      *string         `db:"name" json:"name"`
	IsGroup   bool            `db:"is_group" json:"is_group"`
	AvatarURL *string         `db:"avatar_url" json:"avatar_url"`
	Settings  json.RawMessage `db:"settings" json:"settings"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

var (
	ErrChatNotFound    = fmt.Errorf("chat %w", store.ErrNotFound)
	ErrInvalidSettings = fmt.Errorf("settings must be a JSON object: %w", store.ErrInvalidArgument)
)

// Store defines chat persistence operations.
type Store interface {
	Create(ctx context.Context, name *string, isGroup bool, memberIDs []int64) (*Chat, error)
	Get(ctx context.Context, chatID int64) (*Chat, error)
	UpdateSettings(ctx context.Context, chatID, actingUserID int64, settings json.RawMessage) (*Chat, error)
}
