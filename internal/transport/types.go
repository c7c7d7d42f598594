package transport

import (
	"context"
	"errors"
	"time"

	"schedbot/internal/recipient"
)

var (
	ErrNotReady   = errors.New("transport not ready")
	ErrBadAddress = errors.New("recipient not addressable on this transport")
)

type EventKind string

const (
	EventQR            EventKind = "qr_issued"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailed    EventKind = "auth_failed"
	EventReady         EventKind = "ready"
	EventMessage       EventKind = "message"
	EventDisconnected  EventKind = "disconnected"
)

// Event is what a Client reports on its out channel.
type Event struct {
	Kind    EventKind
	At      time.Time
	Payload string // EventQR: pairing code
	Reason  string // EventAuthFailed, EventDisconnected
	Message *Message
}

// Message is an inbound chat message.
type Message struct {
	ID       string
	Chat     string
	From     recipient.Recipient
	FromSelf bool
	IsGroup  bool
	Text     string

	// ReplyFunc answers in the originating chat.
	ReplyFunc func(ctx context.Context, text string) error
}

func (m *Message) Reply(ctx context.Context, text string) error {
	if m == nil || m.ReplyFunc == nil {
		return ErrNotReady
	}
	return m.ReplyFunc(ctx, text)
}

// Client is one tenant's messaging account.
//
// Start must not block on authentication: progress is reported on out until
// Stop or ctx cancellation. Send is safe for concurrent use once ready.
type Client interface {
	Start(ctx context.Context, out chan<- Event) error
	Send(ctx context.Context, to recipient.Recipient, text string) error
	Stop(ctx context.Context) error
	Self() (recipient.Recipient, bool)
}

// Factory builds a Client bound to tenant.
type Factory interface {
	New(tenant string) (Client, error)
}

type FactoryFunc func(tenant string) (Client, error)

func (f FactoryFunc) New(tenant string) (Client, error) { return f(tenant) }

// BotCommand is one entry of a transport command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by transports with a native command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Emit delivers ev without blocking; it reports whether ev was accepted.
func Emit(out chan<- Event, ev Event) bool {
	if out == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case out <- ev:
		return true
	default:
		return false
	}
}

// Deliver blocks until ev is accepted or ctx ends. Used for lifecycle events
// that must not be dropped.
func Deliver(ctx context.Context, out chan<- Event, ev Event) bool {
	if out == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
