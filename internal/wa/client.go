package wa

import "context"

// Client is a handle to one underlying messaging connection. Implementations
// deliver lifecycle events through the EventSink supplied at build time.
type Client interface {
	// Initialize opens the connection. It is slow (spawns the transport,
	// restores or creates an authentication session) and may fail; it returns
	// once the connection is established, with authentication progress
	// reported through events.
	Initialize(ctx context.Context) error

	// SendText delivers a text message to a digit-only destination identifier
	// and returns the message ID assigned by the backend.
	SendText(ctx context.Context, toDigits, text string) (string, error)

	// Logout invalidates the stored credentials on the remote side.
	Logout(ctx context.Context) error

	// Destroy tears the connection down and releases local resources. It must
	// be safe to call at any point in the lifecycle, including repeatedly.
	Destroy()
}

// Builder constructs not-yet-connected clients, one per session
type Builder interface {
	Build(user string, sink EventSink) (Client, error)
}
