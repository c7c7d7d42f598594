// Package whatsapp is a transport.Client backed by a linked WhatsApp device
// (whatsmeow). Each tenant keeps its device keys in its own sqlite file.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"schedbot/internal/recipient"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type Config struct {
	// StoreDir holds one "<tenant>.db" device store per tenant.
	StoreDir string
}

type Client struct {
	tenant string
	cfg    Config
	log    logx.Logger

	mu       sync.Mutex
	db       *sql.DB
	cli      *whatsmeow.Client
	sup      *supervisor.Supervisor
	out      chan<- transport.Event
	authSent bool
	ready    bool
}

func New(tenant string, cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.StoreDir) == "" {
		cfg.StoreDir = "./data/whatsapp"
	}
	if strings.ContainsAny(tenant, `/\`) || tenant == "" || tenant == "." || tenant == ".." {
		return nil, fmt.Errorf("invalid tenant name %q", tenant)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		tenant: tenant,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "whatsapp"), logx.String("tenant", tenant)),
	}, nil
}

// StorePath is the device store file of tenant.
func (c *Client) StorePath() string {
	return filepath.Join(c.cfg.StoreDir, c.tenant+".db")
}

func (c *Client) Start(ctx context.Context, out chan<- transport.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup != nil {
		return nil
	}
	if err := os.MkdirAll(c.cfg.StoreDir, 0o700); err != nil {
		return fmt.Errorf("whatsapp store dir: %w", err)
	}
	dsn := "file:" + c.StorePath() + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("whatsapp store open: %w", err)
	}
	db.SetMaxOpenConns(1)

	wlog := waLogger{log: c.log}
	container := sqlstore.NewWithDB(db, "sqlite", wlog.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("whatsapp store upgrade: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("whatsapp device: %w", err)
	}

	cli := whatsmeow.NewClient(device, wlog.Sub("client"))
	c.db, c.cli, c.out = db, cli, out
	c.authSent, c.ready = false, false
	c.sup = supervisor.New(ctx, supervisor.WithLogger(c.log))
	sup := c.sup
	cli.AddEventHandler(func(evt any) { c.handle(sup.Context(), evt) })

	if cli.Store.ID == nil {
		sup.Go0("whatsapp.pair", func(ctx context.Context) { c.pair(ctx, cli, out) })
	} else {
		sup.Go0("whatsapp.connect", func(ctx context.Context) {
			if err := cli.Connect(); err != nil {
				c.log.Warn("connect failed", logx.Err(err))
				transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: err.Error()})
			}
		})
	}
	return nil
}

// pair drives the QR login flow until success, timeout or error.
func (c *Client) pair(ctx context.Context, cli *whatsmeow.Client, out chan<- transport.Event) {
	qr, err := cli.GetQRChannel(ctx)
	if err != nil {
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: err.Error()})
		return
	}
	if err := cli.Connect(); err != nil {
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: err.Error()})
		return
	}
	for item := range qr {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.log.Info("pairing code issued")
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventQR, Payload: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.log.Info("device paired")
		case whatsmeow.QRChannelEventError:
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: fmt.Sprint(item.Error)})
		default:
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: "pairing " + item.Event})
		}
	}
}

func (c *Client) handle(ctx context.Context, evt any) {
	c.mu.Lock()
	out, cli := c.out, c.cli
	c.mu.Unlock()
	if out == nil || cli == nil {
		return
	}
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.authenticated(ctx, out)
	case *events.Connected:
		c.authenticated(ctx, out)
		c.mu.Lock()
		first := !c.ready
		c.ready = true
		c.mu.Unlock()
		if first {
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventReady})
		}
	case *events.LoggedOut:
		c.log.Warn("device logged out", logx.String("reason", e.Reason.String()))
		c.mu.Lock()
		c.ready = false
		c.mu.Unlock()
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: "logged out: " + e.Reason.String()})
	case *events.Disconnected:
		transport.Emit(out, transport.Event{Kind: transport.EventDisconnected, Reason: "connection lost"})
	case *events.Message:
		text := TextOf(e.Message)
		if text == "" {
			return
		}
		chat := e.Info.Chat
		msg := &transport.Message{
			ID:       string(e.Info.ID),
			Chat:     chat.String(),
			From:     recipient.Recipient(e.Info.Sender.User),
			FromSelf: e.Info.IsFromMe,
			IsGroup:  e.Info.IsGroup,
			Text:     text,
			ReplyFunc: func(ctx context.Context, text string) error {
				_, err := cli.SendMessage(ctx, chat, &waE2E.Message{Conversation: proto.String(text)})
				return err
			},
		}
		if !transport.Emit(out, transport.Event{Kind: transport.EventMessage, Message: msg}) {
			c.log.Warn("inbound message dropped (channel full)", logx.String("chat", msg.Chat))
		}
	}
}

func (c *Client) authenticated(ctx context.Context, out chan<- transport.Event) {
	c.mu.Lock()
	first := !c.authSent
	c.authSent = true
	c.mu.Unlock()
	if first {
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthenticated})
	}
}

func (c *Client) Send(ctx context.Context, to recipient.Recipient, text string) error {
	c.mu.Lock()
	cli, ready := c.cli, c.ready
	c.mu.Unlock()
	if cli == nil || !ready {
		return transport.ErrNotReady
	}
	_, err := cli.SendMessage(ctx, JID(to), &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *Client) Self() (recipient.Recipient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil || c.cli.Store == nil || c.cli.Store.ID == nil {
		return "", false
	}
	return recipient.Recipient(c.cli.Store.ID.User), true
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup, cli, db := c.sup, c.cli, c.db
	c.sup, c.cli, c.db, c.out = nil, nil, nil, nil
	c.ready = false
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	if cli != nil {
		cli.Disconnect()
	}
	var errs []error
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Info("whatsapp stopped")
	return errors.Join(errs...)
}

// JID addresses a recipient's personal chat.
func JID(r recipient.Recipient) waTypes.JID {
	return waTypes.NewJID(string(r), waTypes.DefaultUserServer)
}

// TextOf extracts the plain text of a chat message.
func TextOf(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if s := m.GetConversation(); s != "" {
		return s
	}
	return m.GetExtendedTextMessage().GetText()
}
