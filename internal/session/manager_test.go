package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sisvent/wabridge/internal/wa"
)

// fakeClient implements wa.Client for lifecycle tests
type fakeClient struct {
	mu        sync.Mutex
	user      string
	sink      wa.EventSink
	initErr   error
	initHang  bool
	destroyed bool
	loggedOut bool
	sentTo    []string
}

func (c *fakeClient) Initialize(ctx context.Context) error {
	if c.initHang {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.initErr
}

func (c *fakeClient) SendText(ctx context.Context, toDigits, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentTo = append(c.sentTo, toDigits)
	return "MSG-1", nil
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeClient) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

func (c *fakeClient) wasDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *fakeClient) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sentTo)
}

// fakeBuilder implements wa.Builder and records every build
type fakeBuilder struct {
	mu       sync.Mutex
	buildErr error
	initErr  error
	initHang bool
	builds   []*fakeClient
}

func (b *fakeBuilder) Build(user string, sink wa.EventSink) (wa.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	c := &fakeClient{user: user, sink: sink, initErr: b.initErr, initHang: b.initHang}
	b.builds = append(b.builds, c)
	return c, nil
}

func (b *fakeBuilder) buildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.builds)
}

func (b *fakeBuilder) last() *fakeClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.builds) == 0 {
		return nil
	}
	return b.builds[len(b.builds)-1]
}

func newTestManager(t *testing.T) (*Manager, *fakeBuilder, *Registry) {
	t.Helper()
	registry := NewRegistry()
	builder := &fakeBuilder{}
	logs := NewLogStore(100)
	quiet := log.New(io.Discard, "", 0)
	m := NewManager(registry, builder, logs, quiet, Config{
		InitTimeout:  500 * time.Millisecond,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 40 * time.Millisecond,
	})
	return m, builder, registry
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func sessionFlags(s *Session) (hasClient, ready, starting, logoutIntent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Client != nil, s.Ready, s.Starting, s.LogoutIntent
}

func TestEnsureIdempotent(t *testing.T) {
	m, builder, registry := newTestManager(t)

	m.Ensure("a", false)
	m.Ensure("a", false)

	s := registry.Get("a")
	waitFor(t, "start to settle", func() bool {
		_, _, starting, _ := sessionFlags(s)
		return !starting
	})

	if got := builder.buildCount(); got != 1 {
		t.Fatalf("expected exactly one build, got %d", got)
	}

	// A live client short-circuits further ensures
	m.Ensure("a", false)
	time.Sleep(50 * time.Millisecond)
	if got := builder.buildCount(); got != 1 {
		t.Fatalf("ensure with live client rebuilt: %d builds", got)
	}
}

func TestStartingFlagClearsOnBuildError(t *testing.T) {
	m, builder, registry := newTestManager(t)
	builder.mu.Lock()
	builder.buildErr = errors.New("no executable")
	builder.mu.Unlock()

	m.Ensure("a", false)

	s := registry.Get("a")
	waitFor(t, "start to settle", func() bool {
		_, _, starting, _ := sessionFlags(s)
		return !starting
	})

	hasClient, ready, _, _ := sessionFlags(s)
	if hasClient || ready {
		t.Fatalf("failed start left client=%v ready=%v", hasClient, ready)
	}

	// The session must be startable again once the fault is gone
	builder.mu.Lock()
	builder.buildErr = nil
	builder.mu.Unlock()

	m.Ensure("a", false)
	waitFor(t, "client after recovery", func() bool {
		hasClient, _, starting, _ := sessionFlags(s)
		return hasClient && !starting
	})
}

func TestStartingFlagClearsOnInitError(t *testing.T) {
	m, builder, registry := newTestManager(t)
	builder.mu.Lock()
	builder.initErr = errors.New("handshake failed")
	builder.mu.Unlock()

	m.Ensure("a", false)

	s := registry.Get("a")
	waitFor(t, "start to settle", func() bool {
		_, _, starting, _ := sessionFlags(s)
		return !starting
	})

	hasClient, _, _, _ := sessionFlags(s)
	if hasClient {
		t.Fatal("failed init left a client reference")
	}
	if cli := builder.last(); cli == nil || !cli.wasDestroyed() {
		t.Fatal("partially-built client was not destroyed")
	}
}

func TestLogoutSuppressesAutoRestart(t *testing.T) {
	m, builder, registry := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()
	cli.sink(wa.ReadyEvent{})

	s := registry.Get("a")
	waitFor(t, "ready", func() bool {
		_, ready, _, _ := sessionFlags(s)
		return ready
	})

	if err := m.Logout(context.Background(), "a"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	cli.mu.Lock()
	requested := cli.loggedOut
	cli.mu.Unlock()
	if !requested {
		t.Fatal("adapter logout was not requested")
	}

	// The disconnect caused by the logout must be terminal
	cli.sink(wa.DisconnectedEvent{Reason: wa.ReasonLoggedOut})

	time.Sleep(150 * time.Millisecond)
	if got := builder.buildCount(); got != 1 {
		t.Fatalf("logout triggered auto-restart: %d builds", got)
	}
	hasClient, ready, _, _ := sessionFlags(s)
	if hasClient || ready {
		t.Fatalf("logged-out session has client=%v ready=%v", hasClient, ready)
	}

	// Only an explicit relogin resumes
	m.Relogin("a")
	waitFor(t, "relogin build", func() bool { return builder.buildCount() == 2 })
}

func TestDisconnectTriggersRestart(t *testing.T) {
	m, builder, registry := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()
	cli.sink(wa.ReadyEvent{})

	s := registry.Get("a")
	waitFor(t, "ready", func() bool {
		_, ready, _, _ := sessionFlags(s)
		return ready
	})

	cli.sink(wa.DisconnectedEvent{Reason: "EOF"})

	waitFor(t, "restart", func() bool { return builder.buildCount() == 2 })
	if !cli.wasDestroyed() {
		t.Fatal("dropped client was not destroyed")
	}

	// Exactly one restart for one disconnect
	time.Sleep(150 * time.Millisecond)
	if got := builder.buildCount(); got != 2 {
		t.Fatalf("expected exactly one restart, got %d builds", got)
	}
}

func TestQRReadyMutualExclusion(t *testing.T) {
	m, builder, _ := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()

	cli.sink(wa.QREvent{DataURL: "data:image/png;base64,AAA"})
	waitFor(t, "qr visible", func() bool { return m.QR("a") != "" })
	if got := m.Status("a"); got != StatusScanQR {
		t.Fatalf("status = %q, want %q", got, StatusScanQR)
	}

	cli.sink(wa.ReadyEvent{})
	waitFor(t, "ready status", func() bool { return m.Status("a") == StatusReady })
	if qr := m.QR("a"); qr != "" {
		t.Fatalf("ready session still exposes a QR challenge: %q", qr)
	}
}

func TestSendPreconditions(t *testing.T) {
	m, builder, _ := newTestManager(t)
	ctx := context.Background()

	// No session at all
	if _, err := m.Send(ctx, "a", "51987654321", "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()

	// Client exists but authentication has not completed
	if _, err := m.Send(ctx, "a", "51987654321", "hi"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}

	cli.sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	id, err := m.Send(ctx, "a", "51987654321", "hi")
	if err != nil {
		t.Fatalf("send on ready session: %v", err)
	}
	if id != "MSG-1" {
		t.Fatalf("id = %q", id)
	}
}

func TestSendNormalizesDestination(t *testing.T) {
	m, builder, _ := newTestManager(t)
	ctx := context.Background()

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()
	cli.sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	if _, err := m.Send(ctx, "a", "+51 987-654-321", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	cli.mu.Lock()
	got := cli.sentTo[0]
	cli.mu.Unlock()
	if got != "51987654321" {
		t.Fatalf("delegated destination = %q, want digits only", got)
	}

	// No digits at all must be rejected before the adapter is touched
	if _, err := m.Send(ctx, "a", "abc", "hi"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("want ErrInvalidDestination, got %v", err)
	}
	if cli.sendCount() != 1 {
		t.Fatal("invalid destination reached the adapter")
	}
}

func TestPerUserIsolation(t *testing.T) {
	m, builder, registry := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "a built", func() bool { return builder.buildCount() == 1 })
	cliA := builder.last()
	cliA.sink(wa.ReadyEvent{})
	waitFor(t, "a ready", func() bool { return m.Status("a") == StatusReady })

	m.Ensure("b", false)
	waitFor(t, "b built", func() bool { return builder.buildCount() == 2 })
	cliB := builder.last()
	cliB.sink(wa.ReadyEvent{})
	waitFor(t, "b ready", func() bool { return m.Status("b") == StatusReady })

	if err := m.Logout(context.Background(), "a"); err != nil {
		t.Fatalf("logout a: %v", err)
	}
	cliA.sink(wa.DisconnectedEvent{Reason: wa.ReasonLoggedOut})

	// b is untouched
	sb := registry.Get("b")
	hasClient, ready, _, logoutIntent := sessionFlags(sb)
	if !hasClient || !ready || logoutIntent {
		t.Fatalf("logout of a leaked into b: client=%v ready=%v intent=%v", hasClient, ready, logoutIntent)
	}
	if cliB.wasDestroyed() {
		t.Fatal("b's client was destroyed by a's logout")
	}
	for _, line := range m.Logs("b") {
		if strings.Contains(line, "logged out") {
			t.Fatalf("a's logout appeared in b's logs: %q", line)
		}
	}
}

func TestAdminListing(t *testing.T) {
	m, builder, _ := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "a built", func() bool { return builder.buildCount() == 1 })
	cliA := builder.last()
	cliA.sink(wa.ReadyEvent{})
	waitFor(t, "a ready", func() bool { return m.Status("a") == StatusReady })

	m.Ensure("b", false)
	waitFor(t, "b built", func() bool { return builder.buildCount() == 2 })
	cliB := builder.last()
	cliB.sink(wa.QREvent{DataURL: "data:image/png;base64,AAA"})
	waitFor(t, "b awaiting scan", func() bool { return m.Status("b") == StatusScanQR })

	infos := m.ListSessions()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].User != "a" || infos[1].User != "b" {
		t.Fatalf("unexpected order: %v", infos)
	}
	if !infos[0].Ready || !infos[0].HasClient || infos[0].HasQR {
		t.Fatalf("bad snapshot for a: %+v", infos[0])
	}
	if infos[1].Ready || !infos[1].HasClient || !infos[1].HasQR {
		t.Fatalf("bad snapshot for b: %+v", infos[1])
	}
}

func TestRestartForcesNewClient(t *testing.T) {
	m, builder, _ := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	first := builder.last()
	first.sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	m.Restart("a")
	waitFor(t, "second build", func() bool { return builder.buildCount() == 2 })
	waitFor(t, "old client destroyed", func() bool { return first.wasDestroyed() })

	// Restart with no prior session degrades to a plain start
	m.Restart("fresh")
	waitFor(t, "fresh build", func() bool { return builder.buildCount() == 3 })
}

func TestStaleEventsDiscarded(t *testing.T) {
	m, builder, _ := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	old := builder.last()

	m.Restart("a")
	waitFor(t, "second build", func() bool { return builder.buildCount() == 2 })
	current := builder.last()
	current.sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	// An event from the superseded client must not corrupt current state
	old.sink(wa.DisconnectedEvent{Reason: "EOF"})
	time.Sleep(150 * time.Millisecond)

	if got := m.Status("a"); got != StatusReady {
		t.Fatalf("stale disconnect changed status to %q", got)
	}
	if got := builder.buildCount(); got != 2 {
		t.Fatalf("stale disconnect triggered restart: %d builds", got)
	}
}

func TestLateEventsAfterFailedInitIgnored(t *testing.T) {
	m, builder, registry := newTestManager(t)
	builder.mu.Lock()
	builder.initErr = errors.New("handshake failed")
	builder.mu.Unlock()

	m.Ensure("a", false)

	s := registry.Get("a")
	waitFor(t, "start to settle", func() bool {
		_, _, starting, _ := sessionFlags(s)
		return !starting
	})
	cli := builder.last()
	waitFor(t, "client destroyed", func() bool { return cli.wasDestroyed() })

	// The destroyed client's transport may still complete the handshake and
	// report success after the controller gave up on it
	cli.sink(wa.ReadyEvent{})
	time.Sleep(50 * time.Millisecond)

	if got := m.Status("a"); got != StatusStarting {
		t.Fatalf("late ready event changed status to %q", got)
	}
	hasClient, ready, _, _ := sessionFlags(s)
	if hasClient || ready {
		t.Fatalf("late ready event left client=%v ready=%v", hasClient, ready)
	}
	if _, err := m.Send(context.Background(), "a", "51987654321", "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}
}

func TestLateEventsAfterDisconnectIgnored(t *testing.T) {
	m, builder, _ := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	cli := builder.last()
	cli.sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	cli.sink(wa.DisconnectedEvent{Reason: wa.ReasonLoggedOut})
	waitFor(t, "teardown", func() bool { return cli.wasDestroyed() })

	// Stragglers from the dropped connection
	cli.sink(wa.QREvent{DataURL: "data:image/png;base64,AAA"})
	cli.sink(wa.ReadyEvent{})
	time.Sleep(50 * time.Millisecond)

	if got := m.Status("a"); got != StatusStarting {
		t.Fatalf("straggler events changed status to %q", got)
	}
	if qr := m.QR("a"); qr != "" {
		t.Fatalf("straggler QR challenge exposed: %q", qr)
	}
	if got := builder.buildCount(); got != 1 {
		t.Fatalf("terminal disconnect still restarted: %d builds", got)
	}
}

func TestStartAfterLogoutClearsIntent(t *testing.T) {
	m, builder, registry := newTestManager(t)

	m.Ensure("a", false)
	waitFor(t, "client built", func() bool { return builder.buildCount() == 1 })
	builder.last().sink(wa.ReadyEvent{})
	waitFor(t, "ready", func() bool { return m.Status("a") == StatusReady })

	// An adapter logout need not produce a disconnect event; the controller
	// tears the client down itself and the intent flag stays set
	if err := m.Logout(context.Background(), "a"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	m.Ensure("a", false)
	waitFor(t, "second build", func() bool { return builder.buildCount() == 2 })
	cli := builder.last()
	cli.sink(wa.ReadyEvent{})
	waitFor(t, "ready again", func() bool { return m.Status("a") == StatusReady })

	s := registry.Get("a")
	_, _, _, intent := sessionFlags(s)
	if intent {
		t.Fatal("new session inherited the old logout intent")
	}

	// A transient drop on the new session must auto-restart
	cli.sink(wa.DisconnectedEvent{Reason: "EOF"})
	waitFor(t, "auto-restart", func() bool { return builder.buildCount() == 3 })
}

func TestInitHangBoundedByTimeout(t *testing.T) {
	m, builder, registry := newTestManager(t)
	builder.mu.Lock()
	builder.initHang = true
	builder.mu.Unlock()

	m.Ensure("a", false)

	s := registry.Get("a")
	waitFor(t, "init timeout to fire", func() bool {
		_, _, starting, _ := sessionFlags(s)
		return !starting
	})

	cli := builder.last()
	if !cli.wasDestroyed() {
		t.Fatal("hung client was not destroyed")
	}
	hasClient, ready, _, _ := sessionFlags(s)
	if hasClient || ready {
		t.Fatalf("hung init left client=%v ready=%v", hasClient, ready)
	}

	// The session must be startable again once the backend responds
	builder.mu.Lock()
	builder.initHang = false
	builder.mu.Unlock()

	m.Ensure("a", false)
	waitFor(t, "recovery", func() bool {
		hasClient, _, starting, _ := sessionFlags(s)
		return hasClient && !starting
	})
}

func TestBackoffCapNeverBelowMinimum(t *testing.T) {
	cfg := Config{ReconnectMin: 5 * time.Minute}.withDefaults()
	if cfg.ReconnectMax < cfg.ReconnectMin {
		t.Fatalf("backoff cap %s below minimum %s", cfg.ReconnectMax, cfg.ReconnectMin)
	}
}

func TestNormalizeDestination(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plus and separators", input: "+51 987-654-321", expected: "51987654321"},
		{name: "plain digits", input: "51987654321", expected: "51987654321"},
		{name: "parentheses", input: "(511) 98765", expected: "51198765"},
		{name: "letters only", input: "abc", expected: ""},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeDestination(tt.input); got != tt.expected {
				t.Errorf("normalizeDestination(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
