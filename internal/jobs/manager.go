package jobs

import (
	"context"
	"fmt"
	"time"

	"schedbot/pkg/logx"
)

// StatusLayout renders the timestamp included in status strings.
const StatusLayout = "2006-01-02 15:04:05 MST"

type ManagerConfig struct {
	Location      *time.Location
	OneTimePolicy OneTimePolicy
	Dispatch      DispatchConfig
	// Now overrides the clock used for validation and status strings.
	Now func() time.Time
}

// Manager is the per-tenant job facade: create, stop, start, delete, inspect.
type Manager struct {
	tenant   string
	log      logx.Logger
	now      func() time.Time
	factory  *Factory
	dispatch *Dispatcher
	sched    *Scheduler
}

func NewManager(tenant string, cfg ManagerConfig, sender Sender, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log = log.With(logx.String("tenant", tenant))
	d := NewDispatcher(tenant, cfg.Dispatch, sender, log)
	sched := NewScheduler(SchedulerConfig{Location: cfg.Location, OneTimePolicy: cfg.OneTimePolicy, Now: now}, d, log)
	return &Manager{
		tenant:   tenant,
		log:      log.With(logx.String("comp", "jobs")),
		now:      now,
		factory:  NewFactory(sched.Location(), now),
		dispatch: d,
		sched:    sched,
	}
}

func (m *Manager) Tenant() string                  { return m.tenant }
func (m *Manager) Location() *time.Location        { return m.sched.Location() }
func (m *Manager) Dispatcher() *Dispatcher         { return m.dispatch }
func (m *Manager) Policy() OneTimePolicy           { return m.sched.Policy() }
func (m *Manager) Open()                           { m.sched.Open() }
func (m *Manager) Running() bool                   { return m.sched.Running() }
func (m *Manager) Close(ctx context.Context) error { return m.sched.Close(ctx) }

// CreateAndSchedule validates cfg, builds the job and registers it under id.
// On error nothing is registered.
func (m *Manager) CreateAndSchedule(id string, cfg Config) (Snapshot, error) {
	job, err := m.factory.Create(cfg)
	if err != nil {
		m.log.Debug("job rejected", logx.String("job", id), logx.Err(err))
		return Snapshot{}, err
	}
	if err := m.sched.Schedule(id, job); err != nil {
		return Snapshot{}, err
	}
	snap, _ := m.sched.Get(id)
	return snap, nil
}

// Stop pauses id. The returned status is human readable either way.
func (m *Manager) Stop(id string) (string, bool) {
	if !m.sched.Stop(id) {
		return m.notFound(id), false
	}
	m.log.Info("job stopped", logx.String("job", id))
	return fmt.Sprintf("Job %s stopped at %s", id, m.stamp()), true
}

// Start resumes a stopped id. Starting an active job is a no-op success.
func (m *Manager) Start(id string) (string, bool) {
	if !m.sched.Start(id) {
		return m.notFound(id), false
	}
	m.log.Info("job started", logx.String("job", id))
	return fmt.Sprintf("Job %s started at %s", id, m.stamp()), true
}

func (m *Manager) Delete(id string) (string, bool) {
	if !m.sched.Delete(id) {
		return m.notFound(id), false
	}
	m.log.Info("job deleted", logx.String("job", id))
	return fmt.Sprintf("Job %s deleted at %s", id, m.stamp()), true
}

// RunNow fires id immediately and reports the outcome.
func (m *Manager) RunNow(ctx context.Context, id string) (DispatchReport, error) {
	rep, ok := m.sched.RunNow(ctx, id)
	if !ok {
		return DispatchReport{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rep, nil
}

// PurgeAll deletes every job of the tenant and returns how many were removed.
func (m *Manager) PurgeAll() int {
	n := m.sched.DeleteAll()
	if n > 0 {
		m.log.Info("jobs purged", logx.Int("count", n))
	}
	return n
}

func (m *Manager) Get(id string) (Snapshot, bool) { return m.sched.Get(id) }
func (m *Manager) List() []Snapshot               { return m.sched.List() }
func (m *Manager) Summary() Summary               { return summarize(m.sched.List()) }
func (m *Manager) Len() int                       { return m.sched.Len() }

func (m *Manager) notFound(id string) string {
	return fmt.Sprintf("Job %s not found (%s)", id, m.stamp())
}

func (m *Manager) stamp() string {
	return m.now().In(m.sched.Location()).Format(StatusLayout)
}
