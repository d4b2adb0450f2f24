package wa

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/sisvent/wabridge/internal/utils"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds adapter-level settings
type Config struct {
	// DataDir is where per-user credential databases live. Each user gets an
	// isolated sqlite file, so distinct users never share credentials.
	DataDir string
	// Verbose enables forwarding of inbound messages as diagnostic events
	Verbose bool
}

// WhatsmeowBuilder builds whatsmeow-backed clients with per-user credential
// stores on local disk.
type WhatsmeowBuilder struct {
	cfg    Config
	logger *log.Logger
}

// NewBuilder creates a new WhatsmeowBuilder
func NewBuilder(cfg Config, logger *log.Logger) *WhatsmeowBuilder {
	return &WhatsmeowBuilder{cfg: cfg, logger: logger}
}

// Build constructs a not-yet-connected client for one user. Events from the
// underlying connection are normalized and delivered to sink.
func (b *WhatsmeowBuilder) Build(user string, sink EventSink) (Client, error) {
	dbPath := filepath.Join(b.cfg.DataDir, user+".db")
	dbLogger := waLog.Stdout("Database-"+user, "WARN", true)

	container, err := sqlstore.New(context.Background(), "sqlite3", "file:"+dbPath+"?_foreign_keys=on", dbLogger)
	if err != nil {
		return nil, fmt.Errorf("database error: %v", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("device error: %v", err)
	}

	store.SetOSInfo("Linux", store.GetWAVersion())
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()

	clientLogger := waLog.Stdout("WhatsApp-"+user, "INFO", true)
	cli := whatsmeow.NewClient(deviceStore, clientLogger)
	// The session controller owns the restart policy; whatsmeow must not
	// reconnect behind its back.
	cli.EnableAutoReconnect = false

	c := &meowClient{
		user:      user,
		cli:       cli,
		container: container,
		sink:      sink,
		verbose:   b.cfg.Verbose,
		logger:    b.logger,
	}
	cli.AddEventHandler(c.handleEvent)

	return c, nil
}

// meowClient adapts a whatsmeow client to the Client interface
type meowClient struct {
	user      string
	cli       *whatsmeow.Client
	container *sqlstore.Container
	sink      EventSink
	verbose   bool
	logger    *log.Logger

	closeOnce sync.Once
}

// Initialize opens the websocket and, for unregistered devices, starts the
// QR pairing flow. Authentication progress arrives through events.
func (c *meowClient) Initialize(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		// GetQRChannel must be set up before the first Connect
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("QR channel error: %v", err)
		}
		go c.pumpQR(qrChan)
	}

	done := make(chan error, 1)
	go func() { done <- c.cli.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect error: %v", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpQR forwards pairing challenges from the QR channel until it closes
func (c *meowClient) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			dataURL, err := utils.QRDataURL(item.Code)
			if err != nil {
				c.logger.Printf("Failed to render QR code for user %s: %v", c.user, err)
				continue
			}
			c.sink(QREvent{DataURL: dataURL})
		case whatsmeow.QRChannelSuccess.Event:
			c.sink(AuthenticatedEvent{})
		default:
			// timeout, outdated client, scan without multidevice, ...
			c.sink(AuthFailureEvent{Reason: item.Event})
		}
	}
}

// handleEvent normalizes whatsmeow lifecycle events
func (c *meowClient) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.sink(ReadyEvent{})

	case *events.PairSuccess:
		c.sink(AuthenticatedEvent{})

	case *events.PairError:
		c.sink(AuthFailureEvent{Reason: e.Error.Error()})

	case *events.LoggedOut:
		if e.OnConnect {
			c.logger.Printf("User %s logged out on connect; reason=%s", c.user, e.Reason.String())
		}
		c.sink(DisconnectedEvent{Reason: ReasonLoggedOut})

	case *events.TemporaryBan:
		c.logger.Printf("User %s temporarily banned: %s (expires in %s)", c.user, e.Code.String(), e.Expire)
		c.sink(DisconnectedEvent{Reason: ReasonTempBanned})

	case *events.StreamReplaced:
		c.sink(DisconnectedEvent{Reason: ReasonStreamReplaced})

	case *events.StreamError:
		c.sink(DisconnectedEvent{Reason: ReasonStreamError})

	case *events.Disconnected:
		c.sink(DisconnectedEvent{Reason: ReasonConnectionClosed})

	case *events.Message:
		if c.verbose {
			c.sink(MessageEvent{
				From: e.Info.Sender.User,
				Text: e.Message.GetConversation(),
			})
		}
	}
}

// SendText delivers a plain text message to a digit-only destination
func (c *meowClient) SendText(ctx context.Context, toDigits, text string) (string, error) {
	recipient := types.JID{
		User:   toDigits,
		Server: types.DefaultUserServer,
	}

	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}

	resp, err := c.cli.SendMessage(ctx, recipient, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %v", err)
	}

	return string(resp.ID), nil
}

// Logout invalidates the stored credentials
func (c *meowClient) Logout(ctx context.Context) error {
	return c.cli.Logout(ctx)
}

// Destroy disconnects and closes the credential store. Safe to call more
// than once.
func (c *meowClient) Destroy() {
	c.closeOnce.Do(func() {
		c.cli.Disconnect()
		if c.container != nil {
			_ = c.container.Close()
		}
	})
}
