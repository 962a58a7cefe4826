package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"yacs/pkg/types"
)

const sendBufferSize = 100

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs broadcast bursts
	handle       string
	nickname     string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn for the session nickname under the given handle
func NewConnection(conn *websocket.Conn, handle, nickname string, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, sendBufferSize),
		handle:       handle,
		nickname:     nickname,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("handle", c.handle).Msg("websocket write failed")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent frames payload in an envelope and queues it without blocking
func (c *Connection) WriteEvent(event string, payload interface{}) error {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue never blocks: callers may hold the session registry lock
func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Handle returns the connection handle
func (c *Connection) Handle() string { return c.handle }

// Nickname returns the session nickname bound to this connection
func (c *Connection) Nickname() string { return c.nickname }

func encodeEnvelope(event string, payload interface{}) ([]byte, error) {
	env := types.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, ErrInvalidJSON
		}
		env.Data = data
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, ErrInvalidJSON
	}
	return out, nil
}
