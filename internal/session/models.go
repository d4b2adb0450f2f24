package session

import (
	"sync"
	"time"

	"github.com/sisvent/wabridge/internal/wa"
)

// Session holds the in-memory state for one user's WhatsApp connection.
// Registry entries are created lazily on the first Ensure call and persist
// for the process lifetime; only the client handle inside them is destroyed
// and recreated.
type Session struct {
	mu sync.Mutex

	// User is the registry key, stable for the process lifetime
	User string

	// Client is the live connection handle, or nil when none is active
	Client wa.Client

	// Ready is true only after the adapter signals full readiness
	Ready bool

	// LastQR is the newest authentication challenge as a data URL, or empty.
	// Cleared on ready and on teardown; each new challenge overwrites it.
	LastQR string

	// Starting guards against concurrent initialization attempts
	Starting bool

	// LogoutIntent marks a caller-initiated logout so the resulting
	// disconnect event is not treated as an outage
	LogoutIntent bool

	// Gen increases on every initialization attempt. Events and init results
	// carrying a stale generation are discarded.
	Gen uint64

	// backoff is the delay before the next automatic restart
	backoff time.Duration
}

// Info is a point-in-time snapshot of a session's flags
type Info struct {
	User      string `json:"user"`
	Ready     bool   `json:"ready"`
	HasClient bool   `json:"has_client"`
	Starting  bool   `json:"starting"`
	HasQR     bool   `json:"has_qr"`
}

// snapshot returns the session's flags under its lock
func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		User:      s.User,
		Ready:     s.Ready,
		HasClient: s.Client != nil,
		Starting:  s.Starting,
		HasQR:     s.LastQR != "",
	}
}

// Status values reported to callers
const (
	StatusStarting = "starting"
	StatusScanQR   = "scan_qr"
	StatusReady    = "ready"
)

// StartRequest represents a request to start or reuse a session
type StartRequest struct {
	User string `json:"user"`
}

// SendRequest represents a request to send a text message
type SendRequest struct {
	User string `json:"user"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// LogoutRequest represents a request to log a session out
type LogoutRequest struct {
	User string `json:"user"`
}
