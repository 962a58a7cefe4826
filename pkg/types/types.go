package types

import (
	"encoding/json"
	"time"
)

// Role is fixed at authentication from whichever passphrase matched
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// NoChannel marks a session that has not joined any room yet
const NoChannel int64 = 0

// ARCHITECTURAL DISCOVERY: Event names are the wire contract with room.js/admin.js
// and must not change without a matching client release
const (
	// Inbound (client -> server)
	EventHeartbeat       = "heartbeat"
	EventSwitchChannel   = "sw_channel"
	EventMessageSend     = "msg_send"
	EventUpdatingChannel = "updating_channel"

	// Outbound (server -> client)
	EventJoining        = "joining"
	EventLeaving        = "leaving"
	EventMessageDeliver = "msg_deliver"
	EventMessageDelete  = "msg_delete"
	EventChannelUpdated = "channel_updated"
)

// Channel is a named chat room
type Channel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsAdminOnly bool   `json:"is_admin"`
}

// Message is a persisted chat line with its rendered body
// FUNCTIONAL DISCOVERY: Body holds HTML produced by the renderer, never raw markup
type Message struct {
	ID          int64     `json:"id"`
	ChannelID   int64     `json:"-"`
	Author      string    `json:"author"`
	Timestamp   time.Time `json:"datetime"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments"`
}

// Resource is the metadata of an uploaded file
type Resource struct {
	ID        string `json:"uuid"`
	FileName  string `json:"filename"`
	MimeType  string `json:"mime"`
	IsExpired bool   `json:"-"`
}

// SessionInfo is a read-only snapshot of one registry entry
type SessionInfo struct {
	Nickname      string    `json:"nick"`
	Role          Role      `json:"role"`
	Channel       int64     `json:"channel"`
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Envelope frames every realtime event in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Credentials is embedded in every gated inbound event
type Credentials struct {
	Nick  string `json:"nick"`
	Token string `json:"token"`
}

// HeartbeatEvent keeps a session alive
type HeartbeatEvent struct {
	Credentials
}

// SwitchChannelEvent moves the sender into channel To
type SwitchChannelEvent struct {
	Credentials
	To int64 `json:"to"`
}

// MessageSendEvent carries a new chat line
// TECHNICAL DISCOVERY: Author doubles as nickname credential, matching the client payload
type MessageSendEvent struct {
	Author      string   `json:"author"`
	Token       string   `json:"token"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

// PresenceNotice is the payload of joining/leaving notifications
type PresenceNotice struct {
	Target string `json:"target"`
}

// DeleteNotice is the payload of msg_delete
type DeleteNotice struct {
	ID int64 `json:"id"`
}

// MessageDelivery is the msg_deliver payload
type MessageDelivery struct {
	ID          int64    `json:"id"`
	Author      string   `json:"author"`
	Datetime    string   `json:"datetime"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

// DatetimeLayout matches the UTC timestamp format the client renders
const DatetimeLayout = "2006-01-02 15:04:05"

// NewMessageDelivery converts a stored message into its wire form
func NewMessageDelivery(m *Message) MessageDelivery {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return MessageDelivery{
		ID:          m.ID,
		Author:      m.Author,
		Datetime:    m.Timestamp.UTC().Format(DatetimeLayout),
		Body:        m.Body,
		Attachments: attachments,
	}
}
