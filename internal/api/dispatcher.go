package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-im/messenger/internal/observability"
	"github.com/nexus-im/messenger/store/membership"
)

const tracerName = "github.com/nexus-im/messenger/internal/api"

// Dispatcher routes each request variant to exactly one store operation.
type Dispatcher struct {
	chats         ChatStore
	members       MembershipStore
	messages      MessageStore
	conversations ConversationStore
	limiter       RateLimiter
	metrics       *observability.Metrics
	tracer        trace.Tracer
	log           *slog.Logger
}

type Stores struct {
	Chats         ChatStore
	Members       MembershipStore
	Messages      MessageStore
	Conversations ConversationStore
}

func NewDispatcher(log *slog.Logger, stores Stores, limiter RateLimiter, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		chats:         stores.Chats,
		members:       stores.Members,
		messages:      stores.Messages,
		conversations: stores.Conversations,
		limiter:       limiter,
		metrics:       metrics,
		tracer:        otel.Tracer(tracerName),
		log:           log,
	}
}

// Dispatch runs req on behalf of caller and returns the value to serialise.
func (d *Dispatcher) Dispatch(ctx context.Context, caller int64, req Request) (any, error) {
	action := string(req.Action())
	ctx, span := d.tracer.Start(ctx, "chat."+action, trace.WithAttributes(
		attribute.String("chat.action", action),
		attribute.Int64("chat.caller", caller),
	))
	defer span.End()

	start := time.Now()
	result, err := d.route(ctx, caller, req)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.Observe(action, observability.OutcomeError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		status, code := classify(err)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		d.log.Log(ctx, level, "chat operation failed",
			"action", action, "caller", caller, "code", code, "error", err)
		return nil, err
	}

	d.metrics.Observe(action, observability.OutcomeOK, elapsed)
	d.log.Debug("chat operation", "action", action, "caller", caller, "duration", elapsed)
	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, caller int64, req Request) (any, error) {
	switch r := req.(type) {
	case CreateChat:
		members := r.Members
		if !lo.Contains(members, caller) {
			members = append([]int64{caller}, members...)
		}
		return d.chats.Create(ctx, r.Name, r.IsGroup, members)

	case SendMessage:
		if d.limiter != nil && !d.limiter.Allow(ctx, strconv.FormatInt(caller, 10)) {
			return nil, ErrRateLimited
		}
		return d.messages.Append(ctx, r.ChatID, caller, r.Content)

	case ListChats:
		return d.conversations.ListForUser(ctx, caller)

	case ListMessages:
		return d.conversations.History(ctx, r.ChatID, caller)

	case GetChatMembers:
		return d.members.ListMembersFor(ctx, r.ChatID, caller)

	case UpdateChatSettings:
		return d.chats.UpdateSettings(ctx, r.ChatID, caller, r.Settings)

	case UpdateMemberRole:
		canWrite := lo.FromPtrOr(r.CanWrite, true)
		return d.members.Update(ctx, r.ChatID, caller, r.TargetUserID, membership.Role(r.Role), canWrite)

	case FindDirectChat:
		return d.conversations.FindDirect(ctx, caller, r.PeerID)

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, req.Action())
	}
}
