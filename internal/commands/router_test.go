package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/jobs"
	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

const owner = recipient.Recipient("573009998877")

type auditLog struct {
	mu   sync.Mutex
	recs []AuditRecord
}

func (a *auditLog) add(_ context.Context, r AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, r)
}

func newRouter(t *testing.T, cfg Config, opts ...Option) (*Router, *jobs.Manager, *auditLog) {
	t.Helper()
	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)
	now := time.Date(2025, 1, 10, 10, 0, 0, 0, loc)
	sender := jobs.SenderFunc(func(context.Context, recipient.Recipient, string) error { return nil })
	mgr := jobs.NewManager("acme", jobs.ManagerConfig{Location: loc, Now: func() time.Time { return now }}, sender, logx.Nop())
	audit := &auditLog{}
	r := NewRouter("acme", mgr,
		func() (recipient.Recipient, bool) { return owner, true },
		func() Config { return cfg },
		logx.Nop(), append([]Option{WithAudit(audit.add)}, opts...)...)
	return r, mgr, audit
}

func fromOwner(text string) *transport.Message {
	return &transport.Message{Chat: "chat", From: owner, FromSelf: true, Text: text}
}

func TestGating(t *testing.T) {
	t.Parallel()
	r, _, _ := newRouter(t, Config{Allow: []string{"+57 300 111 2233"}})

	tests := []struct {
		name string
		msg  *transport.Message
		ok   bool
	}{
		{"self", fromOwner("!ping"), true},
		{"allowed", &transport.Message{From: "573001112233", Text: "!ping"}, true},
		{"stranger", &transport.Message{From: "573005554433", Text: "!ping"}, false},
		{"no prefix", fromOwner("ping"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := r.Execute(context.Background(), tt.msg)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, "pong", reply)
			}
		})
	}
}

func TestCustomPrefixAndUnknown(t *testing.T) {
	t.Parallel()
	r, _, _ := newRouter(t, Config{Prefix: "/"})

	_, ok := r.Execute(context.Background(), fromOwner("!ping"))
	assert.False(t, ok)

	reply, ok := r.Execute(context.Background(), fromOwner("/nope"))
	require.True(t, ok)
	assert.Equal(t, "Command not found: /nope", reply)

	reply, _ = r.Execute(context.Background(), fromOwner("/PING"))
	assert.Equal(t, "pong", reply)
}

func TestCreateOneTime(t *testing.T) {
	t.Parallel()
	r, mgr, audit := newRouter(t, Config{})

	reply, ok := r.Execute(context.Background(),
		fromOwner(`!createOneTime rent 573001112233,573004445566 15/01/2025 09:30:00 "Pay the rent"`))
	require.True(t, ok)
	assert.Contains(t, reply, "Job rent created for 2 recipient(s).")
	assert.Contains(t, reply, "15/01/2025 09:30:00")

	snap, found := mgr.Get("rent")
	require.True(t, found)
	assert.Equal(t, jobs.KindOneTime, snap.Kind)
	assert.Equal(t, "Pay the rent", snap.Message)

	require.Len(t, audit.recs, 1)
	assert.Equal(t, "command.createOneTime", audit.recs[0].Action)
	assert.NoError(t, audit.recs[0].Err)
}

func TestCreateRecurring(t *testing.T) {
	t.Parallel()
	r, mgr, _ := newRouter(t, Config{})

	reply, _ := r.Execute(context.Background(),
		fromOwner(`!createRecurring standup 573001112233 [0 9 * * 1-5] "Standup in 5"`))
	assert.Contains(t, reply, "Job standup created")

	snap, found := mgr.Get("standup")
	require.True(t, found)
	assert.Equal(t, "0 9 * * 1-5", snap.Expression)
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()
	r, _, audit := newRouter(t, Config{})

	tests := []struct {
		name, text, want string
	}{
		{"no message", `!createRecurring a 573001112233 [0 9 * * *]`, "Usage: !createRecurring"},
		{"no cron", `!createRecurring a 573001112233 "hi"`, "Usage: !createRecurring"},
		{"no date", `!createOneTime a 573001112233 "hi"`, "Usage: !createOneTime"},
		{"bad cron", `!createRecurring a 573001112233 [61 * * * *] "hi"`, "Could not create job a"},
		{"past", `!createOneTime a 573001112233 01/01/2025 09:00:00 "hi"`, "Could not create job a"},
		{"bad number", `!createOneTime a 12 15/01/2025 09:00:00 "hi"`, "invalid recipient"},
	}
	for _, tt := range tests {
		reply, ok := r.Execute(context.Background(), fromOwner(tt.text))
		require.True(t, ok, tt.name)
		assert.Contains(t, reply, tt.want, tt.name)
	}
	assert.Len(t, audit.recs, 3)
}

func TestJobLifecycleCommands(t *testing.T) {
	t.Parallel()
	r, mgr, audit := newRouter(t, Config{})
	ctx := context.Background()

	_, err := mgr.CreateAndSchedule("news", jobs.Config{
		Kind: "recurring", Recipients: []string{"573001112233"}, Message: "headlines", Expression: "0 7 * * *",
	})
	require.NoError(t, err)

	reply, _ := r.Execute(ctx, fromOwner("!stopJob news"))
	assert.Contains(t, reply, "Job news stopped at 2025-01-10 10:00:00")
	snap, _ := mgr.Get("news")
	assert.False(t, snap.Active)

	reply, _ = r.Execute(ctx, fromOwner("!jobs"))
	assert.Contains(t, reply, "Jobs: 1 total | 0 active | 1 paused")
	assert.Contains(t, reply, "57 300 111 2233")

	reply, _ = r.Execute(ctx, fromOwner("!startJob news"))
	assert.Contains(t, reply, "Job news started at")

	reply, _ = r.Execute(ctx, fromOwner("!runJob news"))
	assert.Equal(t, "Job news sent: 1 delivered, 0 failed.", reply)

	reply, _ = r.Execute(ctx, fromOwner("!jobInfo news"))
	assert.Contains(t, reply, "Last run:")

	reply, _ = r.Execute(ctx, fromOwner("!deleteJob news"))
	assert.Contains(t, reply, "Job news deleted at")

	reply, _ = r.Execute(ctx, fromOwner("!deleteJob news"))
	assert.Contains(t, reply, "Job news not found")

	reply, _ = r.Execute(ctx, fromOwner("!jobs"))
	assert.Equal(t, "No scheduled jobs.", reply)

	reply, _ = r.Execute(ctx, fromOwner("!stopJob"))
	assert.Equal(t, "Usage: !stopJob <id>", reply)

	require.Len(t, audit.recs, 5)
	assert.ErrorIs(t, audit.recs[4].Err, jobs.ErrNotFound)
}

func TestHelpMenuAndCronHelp(t *testing.T) {
	t.Parallel()
	r, _, _ := newRouter(t, Config{})

	reply, _ := r.Execute(context.Background(), fromOwner("!help"))
	for _, c := range r.Commands() {
		assert.Contains(t, reply, "!"+c.Name)
	}

	reply, _ = r.Execute(context.Background(), fromOwner("!cronHelp"))
	assert.Contains(t, reply, "Timezone: America/Bogota")

	menu := r.Menu()
	require.Len(t, menu, len(r.Commands()))
	assert.Equal(t, "createonetime", menu[8].Command)
}

func TestHandleReplies(t *testing.T) {
	t.Parallel()
	r, _, _ := newRouter(t, Config{})

	var got string
	msg := fromOwner("!ping")
	msg.ReplyFunc = func(_ context.Context, text string) error {
		got = text
		return nil
	}
	r.Handle(context.Background(), msg)
	assert.Equal(t, "pong", got)
}

func TestAsk(t *testing.T) {
	t.Parallel()
	var prompts []string
	ask := func(_ context.Context, prompt string) (string, error) {
		if prompt == "fail" {
			return "", errors.New("model offline")
		}
		prompts = append(prompts, prompt)
		return "the sea is wide", nil
	}
	r, _, _ := newRouter(t, Config{}, WithAsk(ask))
	assert.Equal(t, "ask", r.Commands()[2].Name)

	var replies []string
	msg := fromOwner("!ask Write a poem about the sea")
	msg.ReplyFunc = func(_ context.Context, text string) error {
		replies = append(replies, text)
		return nil
	}
	r.Handle(context.Background(), msg)
	assert.Equal(t, []string{"Generating a reply...", "the sea is wide"}, replies)
	assert.Equal(t, []string{"Write a poem about the sea"}, prompts)

	reply, _ := r.Execute(context.Background(), fromOwner("!ask"))
	assert.Contains(t, reply, "Usage: !ask <text>")

	reply, _ = r.Execute(context.Background(), fromOwner("!ask fail"))
	assert.Equal(t, "Could not generate a reply: model offline", reply)

	plain, _, _ := newRouter(t, Config{})
	reply, _ = plain.Execute(context.Background(), fromOwner("!ask hi"))
	assert.Equal(t, "Command not found: !ask", reply)
}
