package interfaces

// Transport is the realtime connection multiplexer the core drives
// ARCHITECTURAL DISCOVERY: The core only ever holds opaque handles; every method
// must be non-blocking because callers may hold the registry lock
type Transport interface {
	// Send queues one event for a single connection
	Send(handle string, event string, payload interface{}) error

	// JoinRoom subscribes a connection to a channel's broadcasts
	JoinRoom(handle string, room int64)

	// LeaveRoom unsubscribes a connection from a channel's broadcasts
	LeaveRoom(handle string, room int64)

	// Broadcast queues one event for every connection subscribed to room
	Broadcast(room int64, event string, payload interface{})

	// BroadcastAll queues one event for every live connection
	BroadcastAll(event string, payload interface{})

	// Terminate requests the connection be closed
	Terminate(handle string)
}
