// Package telegram is a transport.Client backed by a Telegram bot account.
// Recipients are numeric chat ids.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"schedbot/internal/recipient"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string
}

type Client struct {
	tenant string
	cfg    Config
	log    logx.Logger

	mu       sync.Mutex
	bot      *tele.Bot
	sup      *supervisor.Supervisor
	out      chan<- transport.Event
	menuHash uint64
}

func New(tenant string, cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		tenant: tenant,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "telegram"), logx.String("tenant", tenant)),
	}, nil
}

// Start connects in the background. A rejected token is reported as
// EventAuthFailed; success yields EventAuthenticated followed by EventReady.
func (c *Client) Start(ctx context.Context, out chan<- transport.Event) error {
	c.mu.Lock()
	if c.sup != nil {
		c.mu.Unlock()
		return nil
	}
	c.out = out
	c.sup = supervisor.New(ctx, supervisor.WithLogger(c.log))
	sup := c.sup
	c.mu.Unlock()

	sup.Go0("telegram.connect", func(ctx context.Context) {
		b, err := tele.NewBot(tele.Settings{
			Token:  c.cfg.Token,
			URL:    c.cfg.APIURL,
			Poller: &tele.LongPoller{Timeout: c.cfg.PollTimeout},
			OnError: func(err error, _ tele.Context) {
				c.log.Warn("bot handler error", logx.Err(err))
			},
		})
		if err != nil {
			c.log.Warn("telegram login failed", logx.Err(err))
			transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthFailed, Reason: err.Error()})
			return
		}
		b.Handle(tele.OnText, c.onText)

		c.mu.Lock()
		c.bot = b
		c.mu.Unlock()
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventAuthenticated})

		sup.Go0("telegram.stop_on_cancel", func(ctx context.Context) {
			<-ctx.Done()
			b.Stop()
		})
		// telebot's Start blocks until Stop; restart it if it returns early.
		sup.GoRestart0("telegram.poll", func(ctx context.Context) {
			c.log.Info("polling started", logx.String("bot", b.Me.Username))
			b.Start()
			c.log.Info("polling stopped")
		},
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithStopOnCleanExit(false),
		)
		transport.Deliver(ctx, out, transport.Event{Kind: transport.EventReady})
	})
	return nil
}

func (c *Client) onText(tc tele.Context) error {
	m := tc.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	c.mu.Lock()
	out, b := c.out, c.bot
	c.mu.Unlock()
	chat := m.Chat
	msg := &transport.Message{
		ID:      strconv.Itoa(m.ID),
		Chat:    strconv.FormatInt(chat.ID, 10),
		From:    recipient.Recipient(strconv.FormatInt(m.Sender.ID, 10)),
		IsGroup: chat.Type != tele.ChatPrivate,
		Text:    m.Text,
		ReplyFunc: func(ctx context.Context, text string) error {
			return sendChunks(ctx, b, chat, text)
		},
	}
	if !transport.Emit(out, transport.Event{Kind: transport.EventMessage, Message: msg}) {
		c.log.Warn("inbound message dropped (channel full)", logx.String("chat", msg.Chat))
	}
	return nil
}

func (c *Client) Send(ctx context.Context, to recipient.Recipient, text string) error {
	c.mu.Lock()
	b := c.bot
	c.mu.Unlock()
	if b == nil {
		return transport.ErrNotReady
	}
	id, err := ChatID(to)
	if err != nil {
		return err
	}
	return sendChunks(ctx, b, &tele.Chat{ID: id}, text)
}

func (c *Client) Self() (recipient.Recipient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil || c.bot.Me == nil {
		return "", false
	}
	return recipient.Recipient(strconv.FormatInt(c.bot.Me.ID, 10)), true
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup, b := c.sup, c.bot
	c.sup, c.bot, c.out = nil, nil, nil
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if b != nil {
		go b.Stop()
	}

	// long polling may still be waiting on getUpdates
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		c.log.Debug("telegram stopped with error", logx.Err(err))
	}
	c.log.Info("telegram stopped")
	return nil
}

// UpdateMenuCommands publishes the bot command menu, skipping the call when
// the list is unchanged.
func (c *Client) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return transport.ErrNotReady
	}
	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, cmd := range cmds {
		name := strings.TrimPrefix(strings.ToLower(cmd.Command), "!")
		if name == "" || len(list) >= 100 {
			continue
		}
		desc := cmd.Description
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(desc))
		list = append(list, tele.Command{Text: name, Description: desc})
	}
	sum := h.Sum64()
	if sum == c.menuHash {
		return nil
	}
	if err := c.bot.SetCommands(list); err != nil {
		return fmt.Errorf("telegram set commands: %w", err)
	}
	c.menuHash = sum
	c.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

// ChatID converts a digits-only recipient into a Telegram chat id.
func ChatID(r recipient.Recipient) (int64, error) {
	id, err := strconv.ParseInt(string(r), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", transport.ErrBadAddress, string(r))
	}
	return id, nil
}

func sendChunks(ctx context.Context, b *tele.Bot, chat *tele.Chat, text string) error {
	if b == nil {
		return transport.ErrNotReady
	}
	for _, chunk := range SplitText(text, TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

const TextLimit = 4000

// SplitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that keep chunks above a third of the limit.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
