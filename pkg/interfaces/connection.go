package interfaces

// Connection represents a realtime client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// WriteEvent queues an event frame for the client (thread-safe, non-blocking)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteEvent(event string, payload interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// Handle returns the opaque id the session registry binds to
	Handle() string

	// Nickname returns the authenticated nickname owning this connection
	Nickname() string
}
