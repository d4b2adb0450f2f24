package session

import (
	"context"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/sisvent/wabridge/internal/wa"
)

// Config holds the lifecycle policy knobs
type Config struct {
	// InitTimeout bounds one initialization attempt, independent of any
	// timeout inside the adapter, so a hung backend cannot strand a session
	// in the starting state.
	InitTimeout time.Duration

	// ReconnectMin is the first delay before an automatic restart
	ReconnectMin time.Duration

	// ReconnectMax caps the restart backoff
	ReconnectMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 60 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 2 * time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 60 * time.Second
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	return c
}

// Manager drives the per-user session lifecycle: idempotent start, disconnect
// classification, automatic restart with backoff, and explicit
// logout/relogin. It is the only writer of session state; adapter events
// funnel through handleEvent tagged with the generation that produced them.
type Manager struct {
	registry *Registry
	builder  wa.Builder
	logs     *LogStore
	logger   *log.Logger
	cfg      Config
}

// NewManager creates a session manager
func NewManager(registry *Registry, builder wa.Builder, logs *LogStore, logger *log.Logger, cfg Config) *Manager {
	return &Manager{
		registry: registry,
		builder:  builder,
		logs:     logs,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Ensure starts a session for a user, or reuses the existing one. Without
// force, a live client or an in-flight start short-circuits, which makes
// repeated start calls from a polling frontend cheap. With force, any
// existing client is torn down and a fresh initialization begins.
//
// Initialization runs in the background; callers observe progress via Status.
func (m *Manager) Ensure(user string, force bool) *Session {
	s := m.registry.GetOrCreate(user)

	s.mu.Lock()
	if !force && s.Client != nil {
		s.mu.Unlock()
		return s
	}
	if !force && s.Starting {
		s.mu.Unlock()
		return s
	}

	s.Starting = true
	s.Gen++
	gen := s.Gen
	old := s.Client
	s.Client = nil
	s.Ready = false
	s.LastQR = ""
	// A fresh incarnation can never be in a logged-out-intent state; a stale
	// intent left over from a logout whose disconnect never arrived would
	// misclassify this incarnation's first transient drop as terminal.
	s.LogoutIntent = false
	s.mu.Unlock()

	m.logs.Append(user, "starting session")
	go m.startSession(s, gen, old)

	return s
}

// Restart forces a full teardown and reinitialization. With no prior session
// this degrades to a plain start.
func (m *Manager) Restart(user string) {
	m.logs.Append(user, "restart requested")
	m.Ensure(user, true)
}

// Logout tears the session down intentionally. The intent flag is set before
// the adapter's logout call so the resulting disconnect event is classified
// as intentional rather than as an outage; setting it afterwards would race
// the event. The session then waits for an explicit Relogin.
func (m *Manager) Logout(ctx context.Context, user string) error {
	s := m.registry.Get(user)
	if s == nil {
		return ErrNoSession
	}

	s.mu.Lock()
	cli := s.Client
	if cli != nil {
		s.LogoutIntent = true
	}
	s.mu.Unlock()

	if cli != nil {
		if err := cli.Logout(ctx); err != nil {
			m.logs.Append(user, "logout error: %v", err)
		}
		m.destroyClient(user, cli)
	}

	s.mu.Lock()
	s.Ready = false
	s.LastQR = ""
	if cli != nil && s.Client == cli {
		s.Client = nil
		// Late events from the destroyed client must be dropped as stale
		s.Gen++
	}
	s.mu.Unlock()

	m.logs.Append(user, "logged out")
	return nil
}

// Relogin undoes a prior logout and starts a fresh session
func (m *Manager) Relogin(user string) {
	if s := m.registry.Get(user); s != nil {
		s.mu.Lock()
		s.LogoutIntent = false
		s.mu.Unlock()
	}
	m.logs.Append(user, "relogin requested")
	m.Ensure(user, true)
}

// Status reports the observable session state. Safe to poll.
func (m *Manager) Status(user string) string {
	s := m.registry.Get(user)
	if s == nil {
		return StatusStarting
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.Ready:
		return StatusReady
	case s.LastQR != "":
		return StatusScanQR
	default:
		return StatusStarting
	}
}

// QR returns the current authentication challenge as a data URL, or empty
func (m *Manager) QR(user string) string {
	s := m.registry.Get(user)
	if s == nil {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastQR
}

// Logs returns a snapshot of a user's diagnostic log buffer
func (m *Manager) Logs(user string) []string {
	return m.logs.Snapshot(user)
}

// Send delivers a text message through a ready session. The destination is
// normalized to its digit form before the adapter is touched.
func (m *Manager) Send(ctx context.Context, user, to, text string) (string, error) {
	digits := normalizeDestination(to)
	if digits == "" {
		return "", ErrInvalidDestination
	}

	s := m.registry.Get(user)
	if s == nil {
		return "", ErrNotInitialized
	}

	s.mu.Lock()
	cli := s.Client
	ready := s.Ready
	s.mu.Unlock()

	if cli == nil {
		return "", ErrNotInitialized
	}
	if !ready {
		return "", ErrNotReady
	}

	id, err := cli.SendText(ctx, digits, text)
	if err != nil {
		m.logs.Append(user, "send to %s failed: %v", digits, err)
		return "", err
	}

	m.logs.Append(user, "sent message %s to %s", id, digits)
	return id, nil
}

// ListSessions returns a snapshot of every registered session's flags,
// ordered by user, for operational dashboards.
func (m *Manager) ListSessions() []Info {
	sessions := m.registry.All()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// startSession runs one initialization attempt in the background. The
// starting flag is cleared on every exit path; a failure here must leave the
// session startable again.
func (m *Manager) startSession(s *Session, gen uint64, old wa.Client) {
	defer m.finishStart(s, gen)

	// A broken old client must never block starting a new one
	if old != nil {
		m.destroyClient(s.User, old)
	}

	sink := func(evt wa.Event) { m.handleEvent(s, gen, evt) }
	cli, err := m.builder.Build(s.User, sink)
	if err != nil {
		m.logger.Printf("Failed to build client for user %s: %v", s.User, err)
		m.logs.Append(s.User, "init failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.Gen != gen {
		// Superseded by a newer start while building
		s.mu.Unlock()
		m.destroyClient(s.User, cli)
		return
	}
	s.Client = cli
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.InitTimeout)
	defer cancel()

	if err := cli.Initialize(ctx); err != nil {
		m.logger.Printf("Initialization failed for user %s: %v", s.User, err)
		m.logs.Append(s.User, "init failed: %v", err)
		m.destroyClient(s.User, cli)

		s.mu.Lock()
		if s.Gen == gen {
			if s.Client == cli {
				s.Client = nil
			}
			s.Starting = false
			// The destroyed client's transport may still complete and emit
			// events; bump the generation so they are dropped as stale.
			s.Gen++
		}
		s.mu.Unlock()
		return
	}

	m.logs.Append(s.User, "client initialized")
}

// finishStart clears the starting flag if this attempt is still the current
// generation. A superseding start owns the flag for its own attempt.
func (m *Manager) finishStart(s *Session, gen uint64) {
	s.mu.Lock()
	if s.Gen == gen {
		s.Starting = false
	}
	s.mu.Unlock()
}

// handleEvent applies one adapter event to the session. Events from a
// superseded generation are dropped; a stale initialization completing after
// a newer one started must not corrupt the current state.
func (m *Manager) handleEvent(s *Session, gen uint64, evt wa.Event) {
	s.mu.Lock()
	if s.Gen != gen {
		s.mu.Unlock()
		m.logs.Append(s.User, "dropped stale %s event", evt.Type())
		return
	}

	switch e := evt.(type) {
	case wa.QREvent:
		s.LastQR = e.DataURL
		s.Ready = false
		s.mu.Unlock()
		m.logs.Append(s.User, "qr code issued")

	case wa.AuthenticatedEvent:
		s.mu.Unlock()
		m.logs.Append(s.User, "authenticated")

	case wa.ReadyEvent:
		s.Ready = true
		s.LastQR = ""
		s.backoff = 0 // healthy again, restart backoff from the minimum
		s.mu.Unlock()
		m.logs.Append(s.User, "ready")

	case wa.AuthFailureEvent:
		s.mu.Unlock()
		m.logs.Append(s.User, "auth failure: %s", e.Reason)

	case wa.DisconnectedEvent:
		intent := s.LogoutIntent
		s.LogoutIntent = false
		terminal := intent || wa.IsLogoutReason(e.Reason)
		cli := s.Client
		s.Client = nil
		s.Ready = false
		s.LastQR = ""
		// Anything the dropped client still emits is stale from here on.
		// The scheduled restart runs under the new generation.
		s.Gen++
		gen = s.Gen
		var delay time.Duration
		if !terminal {
			delay = m.nextRestartDelay(s)
		}
		s.mu.Unlock()

		if cli != nil {
			m.destroyClient(s.User, cli)
		}

		if terminal {
			m.logs.Append(s.User, "disconnected (%s): logged out, waiting for relogin", e.Reason)
			return
		}

		m.logs.Append(s.User, "disconnected (%s): restarting in %s", e.Reason, delay)
		go m.restartAfter(s, gen, delay)

	case wa.MessageEvent:
		s.mu.Unlock()
		m.logs.Append(s.User, "message from %s: %s", e.From, e.Text)

	default:
		s.mu.Unlock()
	}
}

// nextRestartDelay advances the session's backoff (doubling up to the cap)
// and returns it with jitter applied. Caller holds the session lock.
func (m *Manager) nextRestartDelay(s *Session) time.Duration {
	if s.backoff < m.cfg.ReconnectMin {
		s.backoff = m.cfg.ReconnectMin
	} else {
		s.backoff *= 2
		if s.backoff > m.cfg.ReconnectMax {
			s.backoff = m.cfg.ReconnectMax
		}
	}

	delay := s.backoff
	if j := delay / 2; j > 0 {
		delay += rand.N(j)
	}
	return delay
}

// restartAfter waits out the backoff and reinitializes, unless a newer
// attempt or a logout happened in the meantime.
func (m *Manager) restartAfter(s *Session, gen uint64, delay time.Duration) {
	time.Sleep(delay)

	s.mu.Lock()
	stale := s.Gen != gen || s.LogoutIntent
	s.mu.Unlock()
	if stale {
		return
	}

	m.Ensure(s.User, true)
}

// destroyClient tears a client down, best-effort. Teardown failure must never
// block forward progress.
func (m *Manager) destroyClient(user string, cli wa.Client) {
	cli.Destroy()
	m.logs.Append(user, "client destroyed")
}

// normalizeDestination strips everything but digits from a destination
// identifier. An empty result means the destination is unusable.
func normalizeDestination(to string) string {
	var b strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
