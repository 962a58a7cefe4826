package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"yacs/internal/session"
	"yacs/pkg/types"
)

// Dispatcher is the protocol engine the handler feeds
type Dispatcher interface {
	Connect(nickname, token, handle string) error
	Disconnect(handle string)
	Dispatch(handle string, env *types.Envelope)
}

// HandlerConfig holds socket timing
type HandlerConfig struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
}

// DefaultHandlerConfig returns production timings
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageBytes:  1 << 20,
	}
}

// Handler upgrades authenticated requests and runs the read pump
// ARCHITECTURAL DISCOVERY: Credentials are bound before the upgrade so rejections
// surface as plain HTTP statuses instead of half-open sockets
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *Registry, dispatcher Dispatcher, config HandlerConfig) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		config:     config,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Token in the query string is the gate, not the origin
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// StatusFor maps a bind failure to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone
	case errors.Is(err, session.ErrDuplicateSession):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HandleWebSocket serves GET /ws?nick=&token=
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	nickname := r.URL.Query().Get("nick")
	token := r.URL.Query().Get("token")
	if nickname == "" || token == "" {
		http.Error(w, "Missing required query parameters: nick, token", http.StatusBadRequest)
		return
	}

	handle := uuid.New().String()
	if err := h.dispatcher.Connect(nickname, token, handle); err != nil {
		log.Info().Err(err).Str("nick", nickname).Msg("rejected realtime connection")
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("nick", nickname).Msg("websocket upgrade failed")
		h.dispatcher.Disconnect(handle)
		h.registry.Unregister(handle)
		return
	}

	conn := NewConnection(ws, handle, nickname, h.config.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		// Kicked between bind and upgrade
		log.Info().Err(err).Str("nick", nickname).Str("handle", handle).Msg("closing connection")
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn)
}

// handleConnection runs keepalive pings and the read pump until the socket closes
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// Unbind before unregistering so a concurrent kick cannot target a stale handle
		h.dispatcher.Disconnect(conn.Handle())
		h.registry.Unregister(conn.Handle())
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("handle", conn.Handle()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Debug().Str("handle", conn.Handle()).Msg("ignoring malformed frame")
			continue
		}
		h.dispatcher.Dispatch(conn.Handle(), &env)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
