package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"schedbot/internal/jobs"
	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

var (
	quotedRe  = regexp.MustCompile(`(?s)"(.*?)"`)
	bracketRe = regexp.MustCompile(`\[(.*?)\]`)
)

const listLayout = "02/01/2006 15:04:05"

func builtins() []Command {
	return []Command{
		{Name: "help", Description: "List available commands", run: cmdHelp},
		{Name: "ping", Description: "Check that the bot is alive", run: cmdPing},
		{Name: "jobs", Description: "List scheduled jobs", run: cmdJobs},
		{Name: "jobInfo", Usage: "<id>", Description: "Show one job", run: cmdJobInfo},
		{Name: "stopJob", Usage: "<id>", Description: "Pause a job", Mutating: true, run: cmdStop},
		{Name: "startJob", Usage: "<id>", Description: "Resume a paused job", Mutating: true, run: cmdStart},
		{Name: "deleteJob", Usage: "<id>", Description: "Delete a job", Mutating: true, run: cmdDelete},
		{Name: "runJob", Usage: "<id>", Description: "Send a job's message now", Mutating: true, run: cmdRun},
		{
			Name:        "createOneTime",
			Usage:       `<id> <number1,number2> <dd/mm/yyyy> <hh:mm:ss> "message"`,
			Description: "Schedule a message for a date and time",
			Mutating:    true,
			run:         cmdCreateOneTime,
		},
		{
			Name:        "createRecurring",
			Usage:       `<id> <number1,number2> [cron expression] "message"`,
			Description: "Schedule a repeating message",
			Mutating:    true,
			run:         cmdCreateRecurring,
		},
		{Name: "cronHelp", Description: "Explain cron expressions", run: cmdCronHelp},
	}
}

func cmdHelp(_ context.Context, r *Router, _ *transport.Message, _ string) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range r.cmds {
		b.WriteString("\n" + r.prefix() + c.Name)
		if c.Usage != "" {
			b.WriteString(" " + c.Usage)
		}
		b.WriteString("\n  " + c.Description)
	}
	return b.String()
}

func cmdPing(context.Context, *Router, *transport.Message, string) string { return "pong" }

var askCommand = Command{Name: "ask", Usage: "<text>", Description: "Generate a reply with the AI model", run: cmdAsk}

func cmdAsk(ctx context.Context, r *Router, msg *transport.Message, args string) string {
	if args == "" {
		return usage(r, "ask") + "\nExample: " + r.prefix() + "ask Write a poem about the sea"
	}
	if err := msg.Reply(ctx, "Generating a reply..."); err != nil {
		r.log.Debug("progress reply failed", logx.Err(err))
	}
	answer, err := r.ask(ctx, args)
	if err != nil {
		r.log.Warn("ask failed", logx.Err(err))
		return fmt.Sprintf("Could not generate a reply: %v", err)
	}
	return answer
}

func cmdJobs(_ context.Context, r *Router, _ *transport.Message, _ string) string {
	list := r.mgr.List()
	if len(list) == 0 {
		return "No scheduled jobs."
	}
	sum := r.mgr.Summary()
	var b strings.Builder
	fmt.Fprintf(&b, "Jobs: %d total | %d active | %d paused\n", sum.Total, sum.Active, sum.Paused)
	for _, j := range list {
		b.WriteString("\n" + describe(j))
	}
	return b.String()
}

func cmdJobInfo(_ context.Context, r *Router, _ *transport.Message, args string) string {
	id := firstField(args)
	if id == "" {
		return usage(r, "jobInfo")
	}
	snap, ok := r.mgr.Get(id)
	if !ok {
		return fmt.Sprintf("Job %s not found.", id)
	}
	s := describe(snap)
	if snap.LastRun != nil {
		s += fmt.Sprintf("\nLast run: %s (%d delivered, %d failed)",
			snap.LastRun.At.In(r.mgr.Location()).Format(listLayout), snap.LastRun.Delivered, snap.LastRun.Failed)
	}
	return s
}

func describe(j jobs.Snapshot) string {
	state := "active"
	if !j.Active {
		state = "paused"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "• %s [%s] %s\n", j.ID, j.Kind, state)
	if j.At != nil {
		fmt.Fprintf(&b, "  at: %s\n", j.At.Format(listLayout))
	} else {
		fmt.Fprintf(&b, "  cron: %s\n", j.Expression)
	}
	if j.Next != nil {
		fmt.Fprintf(&b, "  next: %s\n", j.Next.Format(listLayout))
	}
	pretty := make([]string, 0, len(j.Recipients))
	for _, r := range j.Recipients {
		pretty = append(pretty, recipient.Pretty(recipient.Recipient(r)))
	}
	fmt.Fprintf(&b, "  to: %s\n", strings.Join(pretty, ", "))
	fmt.Fprintf(&b, "  message: %s", j.Message)
	return b.String()
}

func idCommand(action string, fn func(m *jobs.Manager, id string) (string, bool)) handlerFunc {
	return func(ctx context.Context, r *Router, msg *transport.Message, args string) string {
		id := firstField(args)
		if id == "" {
			return usage(r, action)
		}
		start := time.Now()
		status, ok := fn(r.mgr, id)
		var err error
		if !ok {
			err = jobs.ErrNotFound
		}
		r.record(ctx, msg, action, id, err, start)
		return status
	}
}

var (
	cmdStop   = idCommand("stopJob", (*jobs.Manager).Stop)
	cmdStart  = idCommand("startJob", (*jobs.Manager).Start)
	cmdDelete = idCommand("deleteJob", (*jobs.Manager).Delete)
)

func cmdRun(ctx context.Context, r *Router, msg *transport.Message, args string) string {
	id := firstField(args)
	if id == "" {
		return usage(r, "runJob")
	}
	start := time.Now()
	rep, err := r.mgr.RunNow(ctx, id)
	r.record(ctx, msg, "runJob", id, err, start)
	if err != nil {
		return fmt.Sprintf("Job %s not found.", id)
	}
	if rep.ContentErr != "" {
		return fmt.Sprintf("Job %s not sent: %s", id, rep.ContentErr)
	}
	return fmt.Sprintf("Job %s sent: %d delivered, %d failed.", id, rep.Delivered(), rep.Failed())
}

var errUsage = errors.New("usage")

// parseCreate splits `<id> <numbers> <rest...> "message"` and returns the
// text between the id/numbers and the quoted message.
func parseCreate(args string) (id string, rcpts []string, middle, message string, err error) {
	loc := quotedRe.FindStringSubmatchIndex(args)
	if loc == nil {
		return "", nil, "", "", errUsage
	}
	message = args[loc[2]:loc[3]]
	head := strings.Fields(args[:loc[0]])
	if len(head) < 2 || strings.TrimSpace(message) == "" {
		return "", nil, "", "", errUsage
	}
	return head[0], recipient.Split(head[1]), strings.Join(head[2:], " "), message, nil
}

func cmdCreateOneTime(ctx context.Context, r *Router, msg *transport.Message, args string) string {
	id, rcpts, at, text, err := parseCreate(args)
	if err != nil || at == "" {
		return usage(r, "createOneTime")
	}
	return r.create(ctx, msg, "createOneTime", id, jobs.Config{
		Kind:       string(jobs.KindOneTime),
		Recipients: rcpts,
		Message:    text,
		At:         at,
	})
}

func cmdCreateRecurring(ctx context.Context, r *Router, msg *transport.Message, args string) string {
	id, rcpts, middle, text, err := parseCreate(args)
	if err != nil {
		return usage(r, "createRecurring")
	}
	m := bracketRe.FindStringSubmatch(middle)
	if m == nil {
		return usage(r, "createRecurring")
	}
	return r.create(ctx, msg, "createRecurring", id, jobs.Config{
		Kind:       string(jobs.KindRecurring),
		Recipients: rcpts,
		Message:    text,
		Expression: m[1],
	})
}

func (r *Router) create(ctx context.Context, msg *transport.Message, action, id string, cfg jobs.Config) string {
	start := time.Now()
	snap, err := r.mgr.CreateAndSchedule(id, cfg)
	r.record(ctx, msg, action, id, err, start)
	if err != nil {
		return fmt.Sprintf("Could not create job %s: %v", id, err)
	}
	s := fmt.Sprintf("Job %s created for %d recipient(s).", id, len(snap.Recipients))
	if snap.Next != nil {
		s += "\nNext run: " + snap.Next.Format(listLayout)
	}
	return s
}

func cmdCronHelp(_ context.Context, r *Router, _ *transport.Message, _ string) string {
	return strings.Join([]string{
		"Cron format: minute hour day-of-month month day-of-week",
		"",
		"Examples:",
		"  [0 9 * * *]      every day at 09:00",
		"  [*/15 * * * *]   every 15 minutes",
		"  [0 8 * * 1-5]    weekdays at 08:00",
		"  [30 18 1 * *]    the 1st of every month at 18:30",
		"  [@daily]         every day at midnight",
		"",
		"Fields accept *, lists (1,15), ranges (1-5) and steps (*/2).",
		"Descriptors: @yearly @monthly @weekly @daily @hourly.",
		"Timezone: " + r.mgr.Location().String(),
	}, "\n")
}

func usage(r *Router, name string) string {
	c, _ := r.lookup(name)
	return fmt.Sprintf("Usage: %s%s %s", r.prefix(), c.Name, c.Usage)
}

func firstField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
