package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"yacs/pkg/interfaces"
	"yacs/pkg/types"
)

// Sessions is the slice of the session registry the pipeline needs
type Sessions interface {
	VerifyCredential(nickname, token string) bool
	ChannelOf(nickname string) (int64, bool)
}

// Hub serializes message persistence and delivery.
// ARCHITECTURAL DISCOVERY: One goroutine runs persist-then-broadcast for every message,
// so broadcast order within a channel always matches storage insertion order.
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts without blocking read pumps
	messageChannel  chan *MessageContext
	shutdownChannel chan struct{}
	done            chan struct{}

	sessions  Sessions
	storage   interfaces.Storage
	renderer  interfaces.Renderer
	transport interfaces.Transport

	running bool
	mu      sync.RWMutex
}

// MessageContext wraps an inbound msg_send with its arrival time
type MessageContext struct {
	Event      *types.MessageSendEvent
	ReceivedAt time.Time
}

// NewHub creates a new hub
func NewHub(sessions Sessions, storage interfaces.Storage, renderer interfaces.Renderer, transport interfaces.Transport) *Hub {
	return &Hub{
		messageChannel:  make(chan *MessageContext, 1000),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		sessions:        sessions,
		storage:         storage,
		renderer:        renderer,
		transport:       transport,
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Info().Msg("starting message hub")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down and waits for the loop to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	log.Info().Msg("message hub stopped")
	return nil
}

// Submit queues a message for ordered persistence and delivery
func (h *Hub) Submit(ev *types.MessageSendEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents a slow database from stalling read pumps
	select {
	case h.messageChannel <- &MessageContext{Event: ev, ReceivedAt: time.Now()}:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case mc := <-h.messageChannel:
			h.handleMessage(ctx, mc)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			log.Debug().Msg("hub context cancelled")
			return
		}
	}
}

// handleMessage persists one message and broadcasts it to the author's channel.
// Every failure drops the message without notifying the sender.
func (h *Hub) handleMessage(ctx context.Context, mc *MessageContext) {
	ev := mc.Event

	// Credential and channel are re-read here since the session may have moved since enqueue
	if !h.sessions.VerifyCredential(ev.Author, ev.Token) {
		log.Debug().Str("nick", ev.Author).Msg("dropping message: bad credential")
		return
	}
	channel, ok := h.sessions.ChannelOf(ev.Author)
	if !ok || channel == types.NoChannel {
		log.Debug().Str("nick", ev.Author).Msg("dropping message: author not in a channel")
		return
	}

	body := h.renderer.Render(ev.Body)

	msg, err := h.storage.InsertMessage(ctx, body, channel, ev.Author)
	if err != nil {
		log.Error().Err(err).Str("nick", ev.Author).Int64("channel", channel).Msg("failed to persist message")
		return
	}

	// FUNCTIONAL DISCOVERY: Attachment links are best effort; a failed link is logged, not retried
	linked := make([]string, 0, len(ev.Attachments))
	for _, resourceID := range ev.Attachments {
		if err := h.storage.LinkAttachment(ctx, msg.ID, resourceID); err != nil {
			log.Warn().Err(err).Int64("message_id", msg.ID).Str("resource", resourceID).Msg("failed to link attachment")
			continue
		}
		linked = append(linked, resourceID)
	}
	msg.Attachments = linked

	// The author may have been kicked or reaped while storage ran
	if current, ok := h.sessions.ChannelOf(ev.Author); !ok || current == types.NoChannel {
		log.Info().Str("nick", ev.Author).Int64("channel", channel).Int64("message_id", msg.ID).
			Msg("message stored but not broadcast: author left during persistence")
		return
	}

	// Delivered where it was stored, even if the author switched channels meanwhile
	h.transport.Broadcast(channel, types.EventMessageDeliver, types.NewMessageDelivery(msg))
	log.Debug().Str("nick", ev.Author).Int64("channel", channel).Int64("message_id", msg.ID).
		Dur("latency", time.Since(mc.ReceivedAt)).Msg("message delivered")
}
