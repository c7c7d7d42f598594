package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/pkg/logx"
)

type OneTimePolicy string

const (
	// PolicyRearm keeps a fired OneTime job registered; its yearly cron
	// expression matches again on the same date next year.
	PolicyRearm OneTimePolicy = "rearm"
	// PolicyDeleteAfterFire removes a OneTime job after its first execution.
	PolicyDeleteAfterFire OneTimePolicy = "delete_after_fire"
)

func ParseOneTimePolicy(s string) (OneTimePolicy, error) {
	switch OneTimePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyRearm:
		return PolicyRearm, nil
	case PolicyDeleteAfterFire:
		return PolicyDeleteAfterFire, nil
	default:
		return "", fmt.Errorf("unknown one-time policy %q", s)
	}
}

// LoadLocation resolves tz, falling back to Local when it is empty or unknown.
func LoadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

type SchedulerConfig struct {
	Location      *time.Location
	OneTimePolicy OneTimePolicy
	// Now previews next fire times of timers cron has not armed yet.
	Now func() time.Time
}

// timer is the cron-side handle of a registry entry. Pausing flips a flag
// instead of removing the cron entry, so stop/start never re-registers.
type timer struct {
	id     string
	paused atomic.Bool
	fire   func(t *timer)
}

func (t *timer) Run() {
	if t.paused.Load() {
		return
	}
	t.fire(t)
}

type entry struct {
	job     *Job
	timer   *timer
	entryID cron.EntryID
	runs    atomic.Uint64
	last    atomic.Pointer[RunSummary]
}

// Scheduler is the per-tenant registry of jobs and their cron timers.
type Scheduler struct {
	log      logx.Logger
	loc      *time.Location
	now      func() time.Time
	policy   OneTimePolicy
	dispatch *Dispatcher

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry
	order   []string
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
}

func NewScheduler(cfg SchedulerConfig, d *Dispatcher, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	policy := cfg.OneTimePolicy
	if policy == "" {
		policy = PolicyRearm
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log = log.With(logx.String("comp", "scheduler"))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:      log,
		loc:      loc,
		now:      now,
		policy:   policy,
		dispatch: d,
		entries:  map[string]*entry{},
		runCtx:   ctx,
		cancel:   cancel,
	}
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }
func (s *Scheduler) Policy() OneTimePolicy     { return s.policy }

// Open begins firing timers. Jobs may be scheduled before or after Open.
func (s *Scheduler) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)), logx.String("one_time_policy", string(s.policy)))
}

// Running reports whether timers fire: Open was called and Close was not.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Schedule registers job under id and arms its timer.
func (s *Scheduler) Schedule(id string, job *Job) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler closed")
	}
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	t := &timer{id: id, fire: s.fire}
	eid, err := s.c.AddJob(job.Expression(), t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	s.entries[id] = &entry{job: job, timer: t, entryID: eid}
	s.order = append(s.order, id)
	s.log.Info("job scheduled",
		logx.String("job", id),
		logx.String("kind", string(job.Kind())),
		logx.String("spec", job.Expression()),
		logx.Int("recipients", len(job.recipients)),
		logx.Time("next", s.c.Entry(eid).Next),
	)
	return nil
}

// fire runs on cron's goroutine. It re-reads the registry so a deleted or
// replaced entry never dispatches through a stale timer.
func (s *Scheduler) fire(t *timer) {
	s.mu.Lock()
	e := s.entries[t.id]
	ctx := s.runCtx
	s.mu.Unlock()
	if e == nil || e.timer != t {
		return
	}
	if !e.job.IsActive() {
		s.log.Debug("job inactive, tick skipped", logx.String("job", t.id))
		return
	}
	rep := e.job.Execute(ctx, t.id, s.dispatch)
	e.runs.Add(1)
	e.last.Store(rep.summary())

	if e.job.Kind() == KindOneTime && s.policy == PolicyDeleteAfterFire {
		s.removeIf(t.id, t)
	}
}

// RunNow dispatches id immediately, outside its schedule. Inactive jobs run too.
func (s *Scheduler) RunNow(ctx context.Context, id string) (DispatchReport, bool) {
	s.mu.Lock()
	e := s.entries[id]
	s.mu.Unlock()
	if e == nil {
		return DispatchReport{}, false
	}
	rep := e.job.Execute(ctx, id, s.dispatch)
	e.runs.Add(1)
	e.last.Store(rep.summary())
	return rep, true
}

// Stop deactivates id and pauses its timer; Start reverses it. Neither
// touches the cron entry, and in-flight executions are not interrupted.
func (s *Scheduler) Stop(id string) bool  { return s.setActive(id, false) }
func (s *Scheduler) Start(id string) bool { return s.setActive(id, true) }

func (s *Scheduler) setActive(id string, v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	if e == nil {
		return false
	}
	e.timer.paused.Store(!v)
	e.job.SetActive(v)
	return true
}

// Delete cancels the timer and drops id from the registry; id becomes reusable.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeIf(id string, t *timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[id]; e != nil && e.timer == t {
		s.removeLocked(id)
		s.log.Info("one-time job removed after firing", logx.String("job", id))
	}
}

func (s *Scheduler) removeLocked(id string) bool {
	e := s.entries[id]
	if e == nil {
		return false
	}
	e.timer.paused.Store(true)
	s.c.Remove(e.entryID)
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// DeleteAll drops every job. Used by explicit purge only.
func (s *Scheduler) DeleteAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	for _, id := range append([]string(nil), s.order...) {
		s.removeLocked(id)
	}
	return n
}

func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns the view of id.
func (s *Scheduler) Get(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	if e == nil {
		return Snapshot{}, false
	}
	return s.snapshotLocked(id, e), true
}

// List returns snapshots in insertion order.
func (s *Scheduler) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshotLocked(id, s.entries[id]))
	}
	return out
}

func (s *Scheduler) snapshotLocked(id string, e *entry) Snapshot {
	snap := e.job.Info()
	snap.ID = id
	snap.Active = e.job.IsActive() && !e.timer.paused.Load()
	snap.Runs = e.runs.Load()
	snap.LastRun = e.last.Load()
	if ce := s.c.Entry(e.entryID); ce.Valid() {
		if !ce.Next.IsZero() {
			next := ce.Next.In(s.loc)
			snap.Next = &next
		}
		if !ce.Prev.IsZero() {
			prev := ce.Prev.In(s.loc)
			snap.Prev = &prev
		}
	}
	if snap.Next == nil {
		// cron fills Next only once running
		if sched, err := cronParser.Parse(snap.Expression); err == nil {
			next := sched.Next(s.now().In(s.loc))
			snap.Next = &next
		}
	}
	return snap
}

// Close stops every timer and waits for running dispatches, bounded by ctx.
// The registry is kept so snapshots stay readable.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		cancel()
		return nil
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
		cancel()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
