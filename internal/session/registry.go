package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"schedbot/internal/eventbus"
	"schedbot/internal/jobs"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

// Event types published on the bus, one per transport lifecycle step.
const (
	TypeQRIssued      = "session.qr_issued"
	TypeAuthenticated = "session.authenticated"
	TypeAuthFailed    = "session.auth_failed"
	TypeReady         = "session.ready"
	TypeDisconnected  = "session.disconnected"
	TypeDestroyed     = "session.destroyed"
)

// Lifecycle is the Data of session.* events.
type Lifecycle struct {
	Payload string `json:"payload,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SeedJob is created on a session's first ready.
type SeedJob struct {
	ID       string
	Job      jobs.Config
	Producer string
}

type Config struct {
	Jobs        jobs.ManagerConfig
	SeedJobs    map[string][]SeedJob
	ReadyNotice bool
	EventBuffer int
}

// ProducerBinder resolves a named producer into cfg.
type ProducerBinder func(cfg *jobs.Config, name string) error

type Option func(*Registry)

func WithHandlerFactory(f HandlerFactory) Option { return func(r *Registry) { r.handlers = f } }
func WithProducerBinder(b ProducerBinder) Option { return func(r *Registry) { r.bind = b } }

// WithManagerHook is called for every new job manager (metrics, audit).
func WithManagerHook(fn func(tenant string, m *jobs.Manager)) Option {
	return func(r *Registry) { r.onManager = fn }
}

// Registry owns every live session. Destroyed sessions leave their job
// manager running (detached) until Teardown.
type Registry struct {
	base    context.Context
	factory transport.Factory
	bus     eventbus.Bus
	log     logx.Logger

	handlers  HandlerFactory
	bind      ProducerBinder
	onManager func(tenant string, m *jobs.Manager)

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	detached []*jobs.Manager
	closed   bool
}

// NewRegistry builds a registry whose sessions live until base is cancelled
// or they are destroyed.
func NewRegistry(base context.Context, cfg Config, factory transport.Factory, bus eventbus.Bus, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	r := &Registry{
		base:     base,
		factory:  factory,
		bus:      bus,
		log:      log.With(logx.String("comp", "sessions")),
		cfg:      cfg,
		sessions: map[string]*Session{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply updates settings used by future sessions and live-applies the
// dispatch settings to existing managers.
func (r *Registry) Apply(cfg Config) {
	r.mu.Lock()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = r.cfg.EventBuffer
	}
	r.cfg = cfg
	mgrs := r.managersLocked()
	r.mu.Unlock()
	for _, m := range mgrs {
		m.Dispatcher().Apply(cfg.Jobs.Dispatch)
	}
}

func (r *Registry) Bus() eventbus.Bus { return r.bus }

// Create registers tenant and starts its transport. It returns once the
// transport accepted Start; authentication continues in the background.
func (r *Registry) Create(ctx context.Context, tenant string) (*Session, error) {
	if !ValidTenant(tenant) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("registry closed")
	}
	if _, ok := r.sessions[tenant]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, tenant)
	}
	cfg := r.cfg
	client, err := r.factory.New(tenant)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("transport for %s: %w", tenant, err)
	}
	mgr := jobs.NewManager(tenant, cfg.Jobs, client, r.log)
	sctx, cancel := context.WithCancel(r.base)
	s := &Session{
		tenant:    tenant,
		client:    client,
		mgr:       mgr,
		createdAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateCreated,
	}
	r.sessions[tenant] = s
	r.mu.Unlock()

	if r.onManager != nil {
		r.onManager(tenant, mgr)
	}

	events := make(chan transport.Event, cfg.EventBuffer)
	go r.loop(sctx, s, events)

	s.setState(StateAuthenticating, "")
	if err := client.Start(sctx, events); err != nil {
		r.mu.Lock()
		delete(r.sessions, tenant)
		r.mu.Unlock()
		cancel()
		_ = mgr.Close(ctx)
		s.setState(StateDestroyed, err.Error())
		return nil, fmt.Errorf("start transport for %s: %w", tenant, err)
	}
	r.log.Info("session created", logx.String("tenant", tenant))
	return s, nil
}

func (r *Registry) loop(ctx context.Context, s *Session, events <-chan transport.Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.handle(ctx, s, ev)
		}
	}
}

func (r *Registry) handle(ctx context.Context, s *Session, ev transport.Event) {
	log := r.log.With(logx.String("tenant", s.tenant))
	if st := s.State(); st.Terminal() {
		log.Debug("event ignored", logx.String("kind", string(ev.Kind)), logx.String("state", string(st)))
		return
	}
	switch ev.Kind {
	case transport.EventQR:
		s.mu.Lock()
		s.qr = ev.Payload
		s.mu.Unlock()
		log.Info("pairing code issued")
		r.publish(s, TypeQRIssued, ev, Lifecycle{Payload: ev.Payload})
	case transport.EventAuthenticated:
		log.Info("session authenticated")
		r.publish(s, TypeAuthenticated, ev, Lifecycle{})
	case transport.EventAuthFailed:
		if !s.setState(StateAuthFailed, ev.Reason) {
			return
		}
		log.Warn("session authentication failed", logx.String("reason", ev.Reason))
		r.publish(s, TypeAuthFailed, ev, Lifecycle{Reason: ev.Reason})
	case transport.EventReady:
		if r.onReady(ctx, s) {
			r.publish(s, TypeReady, ev, Lifecycle{})
		}
	case transport.EventDisconnected:
		log.Warn("session disconnected", logx.String("reason", ev.Reason))
		r.publish(s, TypeDisconnected, ev, Lifecycle{Reason: ev.Reason})
	case transport.EventMessage:
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil && ev.Message != nil {
			h.Handle(ctx, ev.Message)
		}
	}
}

// onReady arms the session's scheduler; jobs never fire before the first
// ready, nor at all once authentication failed.
func (r *Registry) onReady(ctx context.Context, s *Session) bool {
	if !s.setState(StateReady, "") {
		return false
	}
	s.mgr.Open()
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	s.mu.Lock()
	if s.handler == nil && r.handlers != nil {
		s.handler = r.handlers(s)
	}
	seed := !s.seeded
	s.seeded = true
	s.mu.Unlock()

	log := r.log.With(logx.String("tenant", s.tenant))
	log.Info("session ready")
	if seed {
		r.seed(s, cfg.SeedJobs[s.tenant])
	}
	if cfg.ReadyNotice {
		if self, ok := s.client.Self(); ok {
			text := fmt.Sprintf("[%s] client ready", time.Now().In(s.mgr.Location()).Format("2006-01-02 15:04:05"))
			if err := s.client.Send(ctx, self, text); err != nil {
				log.Warn("ready notice failed", logx.Err(err))
			}
		}
	}
	return true
}

func (r *Registry) seed(s *Session, seeds []SeedJob) {
	log := r.log.With(logx.String("tenant", s.tenant))
	for _, sj := range seeds {
		cfg := sj.Job
		if sj.Producer != "" {
			if r.bind == nil {
				log.Warn("seed job skipped: no producer catalog", logx.String("job", sj.ID))
				continue
			}
			if err := r.bind(&cfg, sj.Producer); err != nil {
				log.Warn("seed job skipped", logx.String("job", sj.ID), logx.Err(err))
				continue
			}
		}
		if _, err := s.mgr.CreateAndSchedule(sj.ID, cfg); err != nil {
			log.Warn("seed job rejected", logx.String("job", sj.ID), logx.Err(err))
		}
	}
}

func (r *Registry) publish(s *Session, typ string, ev transport.Event, data Lifecycle) {
	r.bus.Publish(eventbus.Event{Type: typ, Tenant: s.tenant, Time: ev.At, Data: data})
}

func (r *Registry) Get(tenant string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenant]
	return s, ok
}

func (r *Registry) IsReady(tenant string) bool {
	s, ok := r.Get(tenant)
	return ok && s.IsReady()
}

// List returns tenant names, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Infos() []Info {
	names := r.List()
	out := make([]Info, 0, len(names))
	for _, n := range names {
		if s, ok := r.Get(n); ok {
			out = append(out, s.Info())
		}
	}
	return out
}

// CountByState counts live sessions per state.
func (r *Registry) CountByState() map[State]int {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	out := map[State]int{}
	for _, s := range list {
		out[s.State()]++
	}
	return out
}

// Observe streams the session.* events of tenant.
func (r *Registry) Observe(tenant string, buffer int) (<-chan eventbus.Event, func()) {
	return r.bus.Subscribe(buffer, eventbus.ForTenant(tenant), eventbus.WithPrefix("session."))
}

// Destroy stops tenant's transport and forgets the session. Its jobs keep
// firing on the detached manager; they are not cancelled.
func (r *Registry) Destroy(ctx context.Context, tenant string) bool {
	r.mu.Lock()
	s, ok := r.sessions[tenant]
	if ok {
		delete(r.sessions, tenant)
		r.detached = append(r.detached, s.mgr)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	if err := s.client.Stop(ctx); err != nil {
		r.log.Warn("transport stop failed", logx.String("tenant", tenant), logx.Err(err))
	}
	s.setState(StateDestroyed, "")
	r.bus.Publish(eventbus.Event{Type: TypeDestroyed, Tenant: tenant})
	r.log.Info("session destroyed", logx.String("tenant", tenant), logx.Int("detached_jobs", s.mgr.Len()))
	return true
}

func (r *Registry) managersLocked() []*jobs.Manager {
	out := make([]*jobs.Manager, 0, len(r.sessions)+len(r.detached))
	for _, s := range r.sessions {
		out = append(out, s.mgr)
	}
	return append(out, r.detached...)
}

// Teardown stops every transport and every scheduler in parallel, bounded by ctx.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	mgrs := r.managersLocked()
	r.sessions = map[string]*Session{}
	r.detached = nil
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			s.cancel()
			if err := s.client.Stop(gctx); err != nil {
				return fmt.Errorf("stop %s transport: %w", s.tenant, err)
			}
			s.setState(StateDestroyed, "")
			return nil
		})
	}
	for _, m := range mgrs {
		g.Go(func() error {
			if err := m.Close(gctx); err != nil {
				return fmt.Errorf("close %s scheduler: %w", m.Tenant(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	r.log.Info("sessions torn down", logx.Int("sessions", len(sessions)), logx.Int("schedulers", len(mgrs)), logx.Bool("clean", err == nil))
	return err
}
