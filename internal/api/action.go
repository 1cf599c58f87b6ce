package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nexus-im/messenger/store"
)

// Action names the operation an envelope asks for.
type Action string

const (
	ActionCreateChat         Action = "create_chat"
	ActionSendMessage        Action = "send_message"
	ActionListChats          Action = "list_chats"
	ActionListMessages       Action = "list_messages"
	ActionGetChatMembers     Action = "get_chat_members"
	ActionUpdateChatSettings Action = "update_chat_settings"
	ActionUpdateMemberRole   Action = "update_member_role"
	ActionFindDirectChat     Action = "find_direct_chat"
)

// Request is one of the chat operation variants below. The set is closed.
type Request interface {
	Action() Action
	request()
}

type CreateChat struct {
	Name    *string `json:"name" validate:"omitempty,max=200"`
	IsGroup bool    `json:"is_group"`
	Members []int64 `json:"members" validate:"dive,gt=0"`
}

type SendMessage struct {
	ChatID  int64  `json:"chat_id" validate:"required,gt=0"`
	Content string `json:"content"`
}

type ListChats struct{}

type ListMessages struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
}

type GetChatMembers struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
}

type UpdateChatSettings struct {
	ChatID   int64           `json:"chat_id" validate:"required,gt=0"`
	Settings json.RawMessage `json:"settings" validate:"required"`
}

type UpdateMemberRole struct {
	ChatID       int64  `json:"chat_id" validate:"required,gt=0"`
	TargetUserID int64  `json:"target_user_id" validate:"required,gt=0"`
	Role         string `json:"role" validate:"required"`
	CanWrite     *bool  `json:"can_write"`
}

type FindDirectChat struct {
	PeerID int64 `json:"peer_id" validate:"required,gt=0"`
}

func (CreateChat) Action() Action         { return ActionCreateChat }
func (SendMessage) Action() Action        { return ActionSendMessage }
func (ListChats) Action() Action          { return ActionListChats }
func (ListMessages) Action() Action       { return ActionListMessages }
func (GetChatMembers) Action() Action     { return ActionGetChatMembers }
func (UpdateChatSettings) Action() Action { return ActionUpdateChatSettings }
func (UpdateMemberRole) Action() Action   { return ActionUpdateMemberRole }
func (FindDirectChat) Action() Action     { return ActionFindDirectChat }

func (CreateChat) request()         {}
func (SendMessage) request()        {}
func (ListChats) request()          {}
func (ListMessages) request()       {}
func (GetChatMembers) request()     {}
func (UpdateChatSettings) request() {}
func (UpdateMemberRole) request()   {}
func (FindDirectChat) request()     {}

var (
	ErrUnknownAction  = fmt.Errorf("unknown action: %w", store.ErrInvalidArgument)
	ErrMalformedBody  = fmt.Errorf("malformed request body: %w", store.ErrInvalidArgument)
	ErrCallerMismatch = fmt.Errorf("user_id does not match the authenticated caller: %w", store.ErrForbidden)
)

var validate = validator.New()

type envelope struct {
	Action Action `json:"action"`
	UserID *int64 `json:"user_id"`
}

// Decode reads the action tag of body and decodes the matching variant. A
// user_id inside the body must name the authenticated caller.
func Decode(body []byte, caller int64) (Request, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if env.UserID != nil && *env.UserID != caller {
		return nil, ErrCallerMismatch
	}

	switch env.Action {
	case ActionCreateChat:
		return decodeAs[CreateChat](body)
	case ActionSendMessage:
		return decodeAs[SendMessage](body)
	case ActionListChats:
		return ListChats{}, nil
	case ActionListMessages:
		return decodeAs[ListMessages](body)
	case ActionGetChatMembers:
		return decodeAs[GetChatMembers](body)
	case ActionUpdateChatSettings:
		return decodeAs[UpdateChatSettings](body)
	case ActionUpdateMemberRole:
		return decodeAs[UpdateMemberRole](body)
	case ActionFindDirectChat:
		return decodeAs[FindDirectChat](body)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, env.Action)
	}
}

func decodeAs[T Request](body []byte) (Request, error) {
	var req T
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %s", store.ErrInvalidArgument, verrs.Error())
		}
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidArgument, err)
	}
	return req, nil
}
