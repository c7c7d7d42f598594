package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"schedbot/internal/recipient"
	"schedbot/pkg/logx"
)

// Sender delivers one text to one recipient over the tenant's transport.
type Sender interface {
	Send(ctx context.Context, to recipient.Recipient, text string) error
}

type SenderFunc func(ctx context.Context, to recipient.Recipient, text string) error

func (f SenderFunc) Send(ctx context.Context, to recipient.Recipient, text string) error {
	return f(ctx, to, text)
}

type DispatchConfig struct {
	// RatePerSec <= 0 disables throttling.
	RatePerSec  int
	SendTimeout time.Duration
}

// Outcome is the result for one recipient of one execution.
type Outcome struct {
	Recipient recipient.Recipient `json:"recipient"`
	Delivered bool                `json:"delivered"`
	Err       string              `json:"error,omitempty"`
	Took      time.Duration       `json:"took"`
}

// DispatchReport is the per-execution record of a job firing.
type DispatchReport struct {
	RunID      string    `json:"run_id"`
	Tenant     string    `json:"tenant"`
	JobID      string    `json:"job_id"`
	Kind       Kind      `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Content    string    `json:"content,omitempty"`
	ContentErr string    `json:"content_error,omitempty"`
	Outcomes   []Outcome `json:"outcomes,omitempty"`
}

func (r DispatchReport) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r DispatchReport) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Delivered {
			n++
		}
	}
	return n
}

func (r DispatchReport) Failed() int { return len(r.Outcomes) - r.Delivered() }

func (r DispatchReport) summary() *RunSummary {
	return &RunSummary{
		RunID:      r.RunID,
		At:         r.StartedAt,
		Delivered:  r.Delivered(),
		Failed:     r.Failed(),
		ContentErr: r.ContentErr,
	}
}

// Dispatcher resolves a job's message and sends it to each recipient in
// order. A failed recipient never aborts the rest of the list.
type Dispatcher struct {
	tenant string
	log    logx.Logger

	mu      sync.Mutex
	cfg     DispatchConfig
	sender  Sender
	limiter *rate.Limiter
	hooks   []func(DispatchReport)
}

func NewDispatcher(tenant string, cfg DispatchConfig, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{tenant: tenant, sender: sender, log: log.With(logx.String("comp", "dispatch"))}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg DispatchConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		d.limiter = nil
	}
}

// SetSender swaps the transport used for future executions.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// OnReport registers fn to receive every DispatchReport (metrics, audit).
func (d *Dispatcher) OnReport(fn func(DispatchReport)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.hooks = append(d.hooks, fn)
	d.mu.Unlock()
}

// Run executes j once under id and returns the report.
func (d *Dispatcher) Run(ctx context.Context, id string, j *Job) DispatchReport {
	d.mu.Lock()
	lim := d.limiter
	sender := d.sender
	timeout := d.cfg.SendTimeout
	hooks := append([]func(DispatchReport){}, d.hooks...)
	d.mu.Unlock()

	rep := DispatchReport{
		RunID:     uuid.NewString(),
		Tenant:    d.tenant,
		JobID:     id,
		Kind:      j.Kind(),
		StartedAt: time.Now(),
	}
	log := d.log.With(logx.String("tenant", d.tenant), logx.String("job", id), logx.String("run", rep.RunID))

	text, err := j.Message().Resolve(ctx)
	if err != nil {
		rep.ContentErr = err.Error()
		rep.FinishedAt = time.Now()
		log.Warn("job skipped, content unavailable", logx.Err(err))
		emit(hooks, rep)
		return rep
	}

	rep.Content = text

	for _, to := range j.recipients {
		start := time.Now()
		err := d.sendOne(ctx, lim, sender, timeout, to, text)
		o := Outcome{Recipient: to, Delivered: err == nil, Took: time.Since(start)}
		if err != nil {
			o.Err = err.Error()
			log.Warn("send failed", logx.String("to", string(to)), logx.Err(err))
		} else {
			log.Debug("message sent", logx.String("to", string(to)), logx.Duration("took", o.Took))
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	rep.FinishedAt = time.Now()

	fields := []logx.Field{
		logx.Int("total", len(rep.Outcomes)),
		logx.Int("failed", rep.Failed()),
		logx.Duration("dur", rep.Took()),
	}
	if rep.Failed() > 0 {
		log.Warn("job fired with failures", fields...)
	} else {
		log.Info("job fired", fields...)
	}
	emit(hooks, rep)
	return rep
}

var errNoSender = errors.New("no transport attached")

func (d *Dispatcher) sendOne(ctx context.Context, lim *rate.Limiter, sender Sender, timeout time.Duration, to recipient.Recipient, text string) error {
	if sender == nil {
		return errNoSender
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sender.Send(sctx, to, text)
}

func emit(hooks []func(DispatchReport), rep DispatchReport) {
	for _, h := range hooks {
		h(rep)
	}
}
