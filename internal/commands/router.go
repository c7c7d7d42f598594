// Package commands implements the "!"-prefixed chat commands a tenant uses to
// manage its scheduled jobs from the messaging account itself.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/jobs"
	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type Config struct {
	Prefix string
	// Allow lists senders besides the account itself that may issue commands.
	Allow []string
}

// AuditRecord describes one mutating command.
type AuditRecord struct {
	Tenant string
	Actor  string
	Action string
	Target string
	Err    error
	Took   time.Duration
}

type handlerFunc func(ctx context.Context, r *Router, msg *transport.Message, args string) string

type Command struct {
	Name        string
	Usage       string
	Description string
	Mutating    bool
	run         handlerFunc
}

// Router dispatches inbound messages of one session to commands.
type Router struct {
	tenant string
	mgr    *jobs.Manager
	self   func() (recipient.Recipient, bool)
	cfg    func() Config
	audit  func(ctx context.Context, rec AuditRecord)
	ask    func(ctx context.Context, prompt string) (string, error)
	log    logx.Logger
	cmds   []Command
}

type Option func(*Router)

// WithAudit receives a record for every mutating command.
func WithAudit(fn func(ctx context.Context, rec AuditRecord)) Option {
	return func(r *Router) { r.audit = fn }
}

// WithAsk enables the ask command, answering prompts through fn.
func WithAsk(fn func(ctx context.Context, prompt string) (string, error)) Option {
	return func(r *Router) { r.ask = fn }
}

// NewRouter binds the command set to mgr. cfg is read on every message so
// prefix and allow-list changes apply without rebuilding the router.
func NewRouter(tenant string, mgr *jobs.Manager, self func() (recipient.Recipient, bool), cfg func() Config, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if self == nil {
		self = func() (recipient.Recipient, bool) { return "", false }
	}
	if cfg == nil {
		cfg = func() Config { return Config{} }
	}
	r := &Router{
		tenant: tenant,
		mgr:    mgr,
		self:   self,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "commands"), logx.String("tenant", tenant)),
		cmds:   builtins(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.ask != nil {
		// right after ping, as in the help listing
		r.cmds = append(r.cmds[:2], append([]Command{askCommand}, r.cmds[2:]...)...)
	}
	return r
}

func (r *Router) prefix() string {
	if p := strings.TrimSpace(r.cfg().Prefix); p != "" {
		return p
	}
	return "!"
}

func (r *Router) Commands() []Command { return append([]Command(nil), r.cmds...) }

// Menu lists the commands for transports with a native command menu.
func (r *Router) Menu() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, transport.BotCommand{Command: strings.ToLower(c.Name), Description: c.Description})
	}
	return out
}

// Allowed reports whether msg's sender may run commands.
func (r *Router) Allowed(msg *transport.Message) bool {
	if msg.FromSelf {
		return true
	}
	if self, ok := r.self(); ok && msg.From == self {
		return true
	}
	for _, a := range r.cfg().Allow {
		if n, err := recipient.Normalize(a); err == nil && n == msg.From {
			return true
		}
		if a == string(msg.From) {
			return true
		}
	}
	return false
}

// Handle runs the command in msg and replies in the same chat. Messages
// without the prefix and messages from unauthorized senders are ignored.
func (r *Router) Handle(ctx context.Context, msg *transport.Message) {
	reply, ok := r.Execute(ctx, msg)
	if !ok {
		return
	}
	if err := msg.Reply(ctx, reply); err != nil {
		r.log.Warn("reply failed", logx.String("chat", msg.Chat), logx.Err(err))
	}
}

// Execute returns the reply for msg; ok is false when msg is not a command
// for this router.
func (r *Router) Execute(ctx context.Context, msg *transport.Message) (reply string, ok bool) {
	text := strings.TrimSpace(msg.Text)
	prefix := r.prefix()
	if !strings.HasPrefix(text, prefix) {
		return "", false
	}
	if !r.Allowed(msg) {
		r.log.Debug("command from unauthorized sender ignored", logx.String("from", string(msg.From)))
		return "", false
	}
	name, args, _ := strings.Cut(text, " ")
	name = strings.TrimPrefix(name, prefix)
	args = strings.TrimSpace(args)

	cmd, found := r.lookup(name)
	if !found {
		return fmt.Sprintf("Command not found: %s%s", prefix, name), true
	}
	start := time.Now()
	out := cmd.run(ctx, r, msg, args)
	r.log.Info("command handled", logx.String("cmd", cmd.Name), logx.String("from", string(msg.From)), logx.Duration("took", time.Since(start)))
	return out, true
}

func (r *Router) lookup(name string) (Command, bool) {
	for _, c := range r.cmds {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Command{}, false
}

func (r *Router) record(ctx context.Context, msg *transport.Message, action, target string, err error, start time.Time) {
	if r.audit == nil {
		return
	}
	r.audit(ctx, AuditRecord{
		Tenant: r.tenant,
		Actor:  string(msg.From),
		Action: "command." + action,
		Target: target,
		Err:    err,
		Took:   time.Since(start),
	})
}
