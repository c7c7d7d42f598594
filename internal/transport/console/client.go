// Package console is a dry-run transport: sends are logged and recorded,
// authentication succeeds immediately. Used for local runs and tests.
package console

import (
	"context"
	"errors"
	"sync"

	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type Config struct {
	// Self is the account's own number; the ready notice goes here.
	Self recipient.Recipient
	// FailAuth makes Start report EventAuthFailed with this reason.
	FailAuth string
}

// Sent is one recorded outbound message.
type Sent struct {
	To   recipient.Recipient
	Text string
}

type Client struct {
	tenant string
	cfg    Config
	log    logx.Logger

	mu      sync.Mutex
	out     chan<- transport.Event
	started bool
	sent    []Sent
	sendErr map[recipient.Recipient]error
}

func New(tenant string, cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		tenant:  tenant,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "console"), logx.String("tenant", tenant)),
		sendErr: map[recipient.Recipient]error{},
	}
}

func (c *Client) Start(ctx context.Context, out chan<- transport.Event) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.out = out
	c.mu.Unlock()

	go func() {
		if c.cfg.FailAuth != "" {
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: c.cfg.FailAuth})
			return
		}
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventQR, Payload: "console:" + c.tenant})
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthenticated})
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventReady})
	}()
	return nil
}

func (c *Client) Send(ctx context.Context, to recipient.Recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return transport.ErrNotReady
	}
	if err := c.sendErr[to]; err != nil {
		return err
	}
	c.sent = append(c.sent, Sent{To: to, Text: text})
	c.log.Info("message sent (dry-run)", logx.String("to", string(to)), logx.Int("chars", len(text)))
	return nil
}

func (c *Client) Self() (recipient.Recipient, bool) {
	return c.cfg.Self, c.cfg.Self != ""
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.started = false
	c.out = nil
	c.mu.Unlock()
	return nil
}

// Inject simulates an inbound message from from. Replies are recorded as sends
// back to from.
func (c *Client) Inject(from recipient.Recipient, text string) error {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return transport.ErrNotReady
	}
	self, _ := c.Self()
	msg := &transport.Message{
		ID:       "console",
		Chat:     string(from),
		From:     from,
		FromSelf: from == self,
		Text:     text,
		ReplyFunc: func(ctx context.Context, text string) error {
			return c.Send(ctx, from, text)
		},
	}
	if !transport.Emit(out, transport.Event{Kind: transport.EventMessage, Message: msg}) {
		return errors.New("console: event channel full")
	}
	return nil
}

// FailSendsTo makes every send to r fail with err (nil clears it).
func (c *Client) FailSendsTo(r recipient.Recipient, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.sendErr, r)
		return
	}
	c.sendErr[r] = err
}

// Sent returns a copy of every recorded send.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}
