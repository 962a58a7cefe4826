package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"yacs/internal/session"
	"yacs/pkg/interfaces"
	"yacs/pkg/types"
)

// MessageQueue accepts validated msg_send events for ordered delivery
type MessageQueue interface {
	Submit(ev *types.MessageSendEvent) error
}

// Router is the realtime protocol engine: it applies inbound events to the
// session registry and fans results out through the transport.
// ARCHITECTURAL DISCOVERY: Storage calls (channel checks, deletes) happen outside the
// registry lock; message persistence is handed to the hub's single goroutine
type Router struct {
	sessions    *session.Registry
	storage     interfaces.Storage
	transport   interfaces.Transport
	queue       MessageQueue
	rateLimiter *RateLimiter
	now         func() time.Time
}

// NewRouter creates a new protocol router
func NewRouter(sessions *session.Registry, storage interfaces.Storage, transport interfaces.Transport, queue MessageQueue) *Router {
	return &Router{
		sessions:    sessions,
		storage:     storage,
		transport:   transport,
		queue:       queue,
		rateLimiter: NewRateLimiter(),
		now:         time.Now,
	}
}

// Connect binds a freshly accepted connection handle to its session
func (r *Router) Connect(nickname, token, handle string) error {
	return r.sessions.BindConnection(nickname, token, handle, r.now())
}

// Disconnect moves the session behind handle into its grace window
func (r *Router) Disconnect(handle string) {
	now := r.now()
	r.sessions.UnbindConnection(handle, now)
	r.rateLimiter.Cleanup(now)
}

// Dispatch routes one inbound envelope; failures are logged and dropped
func (r *Router) Dispatch(handle string, env *types.Envelope) {
	if err := r.dispatch(context.Background(), handle, env); err != nil {
		log.Debug().Err(err).Str("handle", handle).Str("event", env.Event).Msg("event ignored")
	}
}

func (r *Router) dispatch(ctx context.Context, handle string, env *types.Envelope) error {
	switch env.Event {
	case types.EventHeartbeat:
		var ev types.HeartbeatEvent
		if err := decode(env, &ev); err != nil {
			return err
		}
		if err := r.checkHandle(handle, ev.Nick); err != nil {
			return err
		}
		if !r.Heartbeat(ev.Nick, ev.Token) {
			return session.ErrUnauthorized
		}
		return nil

	case types.EventSwitchChannel:
		var ev types.SwitchChannelEvent
		if err := decode(env, &ev); err != nil {
			return err
		}
		if err := r.checkHandle(handle, ev.Nick); err != nil {
			return err
		}
		return r.SwitchChannel(ctx, ev.Nick, ev.Token, ev.To)

	case types.EventMessageSend:
		var ev types.MessageSendEvent
		if err := decode(env, &ev); err != nil {
			return err
		}
		if err := r.checkHandle(handle, ev.Author); err != nil {
			return err
		}
		return r.SendMessage(&ev)

	case types.EventUpdatingChannel:
		return r.transport.Send(handle, types.EventChannelUpdated, struct{}{})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Heartbeat refreshes liveness; a bad credential is silently ignored
func (r *Router) Heartbeat(nickname, token string) bool {
	return r.sessions.TouchHeartbeat(nickname, token, r.now())
}

// SwitchChannel moves nickname into target when the channel exists and the role permits it
func (r *Router) SwitchChannel(ctx context.Context, nickname, token string, target int64) error {
	info, err := r.sessions.Authorize(nickname, token)
	if err != nil {
		return err
	}

	allowed, err := r.storage.ChannelAllowed(ctx, target, info.Role == types.RoleAdmin)
	if err != nil {
		log.Error().Err(err).Str("nick", nickname).Int64("channel", target).Msg("channel lookup failed")
		return err
	}
	if !allowed {
		return ErrChannelNotAllowed
	}

	from, err := r.sessions.SwitchChannel(nickname, token, target)
	if err != nil {
		return err
	}
	log.Debug().Str("nick", nickname).Int64("from", from).Int64("channel", target).Msg("switched channel")
	return nil
}

// SendMessage validates a msg_send and queues it for persist-then-broadcast
func (r *Router) SendMessage(ev *types.MessageSendEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if !r.sessions.VerifyCredential(ev.Author, ev.Token) {
		return session.ErrUnauthorized
	}
	if !r.rateLimiter.Allow(ev.Author, r.now()) {
		return ErrRateLimitExceeded
	}
	return r.queue.Submit(ev)
}

// Kick destroys the session for nickname
func (r *Router) Kick(nickname string) error {
	if !r.sessions.Destroy(nickname, session.ReasonKick) {
		return session.ErrUnknownNickname
	}
	r.rateLimiter.Forget(nickname)
	return nil
}

// DeleteMessage marks a message and its attachments gone and tells its channel
func (r *Router) DeleteMessage(ctx context.Context, id int64) error {
	msg, err := r.storage.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	attachments, err := r.storage.AttachmentsOf(ctx, id)
	if err != nil {
		return err
	}

	if err := r.storage.MarkMessageDeleted(ctx, id); err != nil {
		log.Error().Err(err).Int64("message_id", id).Msg("failed to delete message")
		return err
	}
	// The message is already gone, so a failed expiry must not hold back the notice
	var expireErr error
	for _, resourceID := range attachments {
		if err := r.storage.MarkResourceExpired(ctx, resourceID); err != nil {
			log.Error().Err(err).Int64("message_id", id).Str("resource", resourceID).Msg("failed to expire attachment")
			if expireErr == nil {
				expireErr = err
			}
		}
	}

	r.transport.Broadcast(msg.ChannelID, types.EventMessageDelete, types.DeleteNotice{ID: id})
	log.Info().Int64("message_id", id).Int64("channel", msg.ChannelID).Msg("message deleted")
	return expireErr
}

// NotifyChannelsUpdated tells every connection to refresh its channel list
func (r *Router) NotifyChannelsUpdated() {
	r.transport.BroadcastAll(types.EventChannelUpdated, struct{}{})
}

// checkHandle rejects events whose nickname is not the one bound to the connection
func (r *Router) checkHandle(handle, nickname string) error {
	bound, ok := r.sessions.NicknameOf(handle)
	if !ok || bound != nickname {
		return ErrHandleMismatch
	}
	return nil
}

func decode(env *types.Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return ErrMalformedEvent
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
