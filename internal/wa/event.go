package wa

// Event type names
const (
	EventTypeQR            = "qr"
	EventTypeAuthenticated = "authenticated"
	EventTypeReady         = "ready"
	EventTypeAuthFailure   = "auth_failure"
	EventTypeDisconnected  = "disconnected"
	EventTypeMessage       = "message"
)

// Event is the interface for all adapter lifecycle events
type Event interface {
	Type() string
}

// QREvent carries a freshly issued authentication challenge, already rendered
// as a PNG data URL. Only the newest challenge is valid.
type QREvent struct {
	DataURL string
}

// Type returns the event type
func (QREvent) Type() string { return EventTypeQR }

// AuthenticatedEvent signals that the pairing handshake completed
type AuthenticatedEvent struct{}

// Type returns the event type
func (AuthenticatedEvent) Type() string { return EventTypeAuthenticated }

// ReadyEvent signals that the session is fully connected and operational
type ReadyEvent struct{}

// Type returns the event type
func (ReadyEvent) Type() string { return EventTypeReady }

// AuthFailureEvent signals that authentication could not complete
type AuthFailureEvent struct {
	Reason string
}

// Type returns the event type
func (AuthFailureEvent) Type() string { return EventTypeAuthFailure }

// DisconnectedEvent signals that the underlying connection dropped. Reason is
// one of the canonical reason strings below.
type DisconnectedEvent struct {
	Reason string
}

// Type returns the event type
func (DisconnectedEvent) Type() string { return EventTypeDisconnected }

// MessageEvent carries an inbound message, for diagnostics only
type MessageEvent struct {
	From string
	Text string
}

// Type returns the event type
func (MessageEvent) Type() string { return EventTypeMessage }

// EventSink receives normalized lifecycle events for one session
type EventSink func(Event)

// Canonical disconnect reasons emitted by the adapter
const (
	ReasonLoggedOut        = "logged_out"
	ReasonTempBanned       = "temp_banned"
	ReasonStreamReplaced   = "stream_replaced"
	ReasonStreamError      = "stream_error"
	ReasonConnectionClosed = "connection_closed"
)

// logoutReasons is the allow-list of disconnect reasons that indicate the
// credentials are gone and reconnecting without a new QR scan cannot succeed.
// Kept as an explicit enumeration rather than substring matching so a new
// reason string from a future backend version fails safe (treated as
// transient, retried, and visible in the logs).
var logoutReasons = map[string]bool{
	ReasonLoggedOut:  true,
	ReasonTempBanned: true,
}

// IsLogoutReason reports whether a disconnect reason is terminal, meaning the
// session must not be restarted automatically.
func IsLogoutReason(reason string) bool {
	return logoutReasons[reason]
}
