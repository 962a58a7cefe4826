package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"

	"yacs/pkg/interfaces"
)

// Registry tracks live connections and their rooms; it is the Transport the core talks to.
// ARCHITECTURAL DISCOVERY: Rooms are keyed by handle, not connection, so the session
// registry can place a handle in a room before the upgrade finishes.
// Every method is non-blocking; callers hold the session registry lock.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection        // handle -> Connection
	rooms       map[int64]map[string]struct{} // room -> handles
	handleRooms map[string]map[int64]struct{} // handle -> rooms, for cleanup
	terminated  map[string]struct{}           // handles terminated before Register
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[int64]map[string]struct{}),
		handleRooms: make(map[string]map[int64]struct{}),
		terminated:  make(map[string]struct{}),
	}
}

// Register makes conn reachable by its handle
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, killed := r.terminated[conn.Handle()]; killed {
		delete(r.terminated, conn.Handle())
		r.dropRoomsLocked(conn.Handle())
		return ErrHandleTerminated
	}
	r.connections[conn.Handle()] = conn
	return nil
}

// Unregister forgets handle and every room it was in; idempotent
func (r *Registry) Unregister(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, handle)
	delete(r.terminated, handle)
	r.dropRoomsLocked(handle)
}

// Send queues one event for a single connection
func (r *Registry) Send(handle, event string, payload interface{}) error {
	r.mu.RLock()
	conn, ok := r.connections[handle]
	r.mu.RUnlock()

	if !ok {
		return interfaces.ErrUnknownHandle
	}
	return conn.WriteEvent(event, payload)
}

// JoinRoom adds handle to room
func (r *Registry) JoinRoom(handle string, room int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[handle] = struct{}{}

	joined, ok := r.handleRooms[handle]
	if !ok {
		joined = make(map[int64]struct{})
		r.handleRooms[handle] = joined
	}
	joined[room] = struct{}{}
}

// LeaveRoom removes handle from room
func (r *Registry) LeaveRoom(handle string, room int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(handle, room)
}

// Broadcast queues event for every connection in room
func (r *Registry) Broadcast(room int64, event string, payload interface{}) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for handle := range r.rooms[room] {
		r.deliverLocked(handle, event, data)
	}
}

// BroadcastAll queues event for every registered connection
func (r *Registry) BroadcastAll(event string, payload interface{}) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for handle := range r.connections {
		r.deliverLocked(handle, event, data)
	}
}

// Terminate drops handle and closes its connection asynchronously
func (r *Registry) Terminate(handle string) {
	r.mu.Lock()
	conn, ok := r.connections[handle]
	delete(r.connections, handle)
	r.dropRoomsLocked(handle)
	if !ok {
		r.terminated[handle] = struct{}{}
	}
	r.mu.Unlock()

	if ok {
		// FUNCTIONAL DISCOVERY: Close asynchronously to avoid blocking the caller on network I/O
		go func() {
			if err := conn.Close(); err != nil {
				log.Debug().Err(err).Str("handle", handle).Msg("error closing terminated connection")
			}
		}()
	}
}

// Members returns the handles currently in room
func (r *Registry) Members(room int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]string, 0, len(r.rooms[room]))
	for handle := range r.rooms[room] {
		handles = append(handles, handle)
	}
	return handles
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
	}
}

func (r *Registry) deliverLocked(handle, event string, data []byte) {
	conn, ok := r.connections[handle]
	if !ok {
		return
	}
	if err := conn.enqueue(data); err != nil {
		log.Warn().Err(err).Str("handle", handle).Str("nick", conn.Nickname()).Str("event", event).Msg("dropping event")
	}
}

func (r *Registry) leaveLocked(handle string, room int64) {
	if members, ok := r.rooms[room]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.handleRooms[handle]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.handleRooms, handle)
		}
	}
}

func (r *Registry) dropRoomsLocked(handle string) {
	for room := range r.handleRooms[handle] {
		r.leaveLocked(handle, room)
	}
}
