// Package app wires configuration, logging, sessions, storage, metrics and
// the HTTP API into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/content"
	"schedbot/internal/eventbus"
	"schedbot/internal/httpapi"
	"schedbot/internal/jobs"
	"schedbot/internal/metrics"
	"schedbot/internal/recipient"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/session"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

type App struct {
	version string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics
	catalog *content.Catalog
	factory transport.Factory

	sessions *session.Registry
	http     *httpapi.Server

	cmdCfg  atomic.Pointer[commands.Config]
	cmdOff  atomic.Bool
	started time.Time
}

// New loads cfgPath and builds every service without starting anything.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log)

	factory, err := transportFactory(cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(mapStorage(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	catalog := content.NewCatalog()
	m := metrics.New()
	catalog.OnFailure(m.ContentFailure)
	catalog.Apply(mapProducers(cfg), &http.Client{}, log)

	a := &App{
		version: version,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		metrics: m,
		catalog: catalog,
		factory: factory,
	}
	cc := mapCommands(cfg)
	a.cmdCfg.Store(&cc)
	a.cmdOff.Store(cfg.Sessions.Commands.Disabled)
	logSvc.SetAlertSender(logx.AlertSenderFunc(a.sendAlert))
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	scfg, err := mapSessions(cfg, a.log)
	if err != nil {
		return err
	}
	a.sessions = session.NewRegistry(a.sup.Context(), scfg, a.factory, a.bus, a.log,
		session.WithHandlerFactory(a.newHandler),
		session.WithProducerBinder(a.catalog.Bind),
		session.WithManagerHook(a.observeManager),
	)

	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if next.Transport.Driver != cfg.Transport.Driver {
			a.log.Warn("transport.driver changed; restart required", logx.String("driver", next.Transport.Driver))
		}
		_, err := jobs.ParseOneTimePolicy(next.Scheduler.OneTimePolicy)
		return err
	})

	a.http = httpapi.NewServer(httpapi.Deps{
		Sessions:  a.sessions,
		Producers: a.catalog,
		Store:     a.store,
		Metrics:   a.metrics,
		Health:    a.health,
		Audit:     a.audit,
		Log:       a.log,
	}, a.log)
	a.http.Reconfigure(a.sup.Context(), mapHTTP(cfg))

	a.sup.Go0("sessions.observe", a.observeSessions)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	for _, tenant := range cfg.Sessions.Autostart {
		if _, err := a.sessions.Create(a.sup.Context(), tenant); err != nil {
			a.log.Error("autostart failed", logx.String("tenant", tenant), logx.Err(err))
		}
	}

	notifyReady(a.log)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })
	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("transport", cfg.Transport.Driver),
		logx.String("timezone", timezone(cfg)),
		logx.Int("autostart", len(cfg.Sessions.Autostart)),
	)
	return nil
}

// newHandler builds the chat command router of a ready session and pushes
// its command menu to transports that have one.
func (a *App) newHandler(s *session.Session) session.MessageHandler {
	router := commands.NewRouter(s.Tenant(), s.Jobs(), s.Client().Self,
		func() commands.Config { return *a.cmdCfg.Load() },
		a.log,
		commands.WithAudit(func(ctx context.Context, rec commands.AuditRecord) {
			e := storage.AuditEntry{
				Tenant: rec.Tenant,
				Actor:  rec.Actor,
				Action: rec.Action,
				Target: rec.Target,
				TookMS: rec.Took.Milliseconds(),
			}
			if rec.Err != nil {
				e.Fail, e.Error = 1, rec.Err.Error()
			} else {
				e.OK = 1
			}
			a.audit(ctx, e)
			a.metrics.Action(rec.Action, rec.Err)
			a.metrics.SetJobs(rec.Tenant, s.Jobs().Summary())
		}),
		commands.WithAsk(func(ctx context.Context, prompt string) (string, error) {
			return a.catalog.Ask(ctx, a.cfgm.Get().Sessions.Commands.AskProducer, prompt)
		}),
	)
	if mu, ok := s.Client().(transport.CommandMenuUpdater); ok {
		ctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
		if err := mu.UpdateMenuCommands(ctx, router.Menu()); err != nil {
			a.log.Warn("command menu update failed", logx.String("tenant", s.Tenant()), logx.Err(err))
		}
		cancel()
	}
	return session.MessageHandlerFunc(func(ctx context.Context, msg *transport.Message) {
		if a.cmdOff.Load() {
			return
		}
		router.Handle(ctx, msg)
	})
}

func (a *App) observeManager(tenant string, m *jobs.Manager) {
	m.Dispatcher().OnReport(func(rep jobs.DispatchReport) {
		a.metrics.ObserveDispatch(rep)
		a.metrics.SetJobs(tenant, m.Summary())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.audit(ctx, storage.DispatchEntry(rep))
		cancel()
	})
}

func (a *App) audit(ctx context.Context, e storage.AuditEntry) {
	if a.store == nil {
		return
	}
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// observeSessions keeps the sessions gauge current and logs lifecycle events.
func (a *App) observeSessions(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128, eventbus.WithPrefix("session."))
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.String("tenant", e.Tenant), logx.Time("time", e.Time))
			if e.Type == session.TypeQRIssued {
				if lc, ok := e.Data.(session.Lifecycle); ok {
					a.log.Info("scan QR to pair", logx.String("tenant", e.Tenant), logx.String("qr", lc.Payload))
				}
			}
			counts := map[string]int{}
			for st, n := range a.sessions.CountByState() {
				counts[string(st)] = n
			}
			a.metrics.SetSessions(counts)
		}
	}
}

// sendAlert delivers log alerts through the configured tenant's session.
func (a *App) sendAlert(ctx context.Context, text string) error {
	cfg := a.cfgm.Get()
	if cfg == nil || a.sessions == nil {
		return transport.ErrNotReady
	}
	al := cfg.Logging.Alert
	s, ok := a.sessions.Get(al.Tenant)
	if !ok || !s.IsReady() {
		return transport.ErrNotReady
	}
	to, err := recipient.Normalize(al.To)
	if err != nil {
		return err
	}
	return s.Client().Send(ctx, to, text)
}

func (a *App) health() map[string]any {
	tasks := map[string]string{}
	for _, t := range a.sup.Snapshot() {
		state := "running"
		if t.Active == 0 {
			state = "stopped"
		}
		tasks[t.Name] = state
	}
	return map[string]any{
		"version": a.version,
		"uptime":  time.Since(a.started).Round(time.Second).String(),
		"tasks":   tasks,
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(next))
	cc := mapCommands(next)
	a.cmdCfg.Store(&cc)
	a.cmdOff.Store(next.Sessions.Commands.Disabled)
	a.catalog.Apply(mapProducers(next), &http.Client{}, a.log)
	a.http.Reconfigure(ctx, mapHTTP(next))

	// timezone and policy stay as built; only dispatch settings are live
	if scfg, err := mapSessions(next, a.log); err == nil {
		cur, _ := mapSessions(prev, a.log)
		scfg.Jobs.Location = cur.Jobs.Location
		scfg.Jobs.OneTimePolicy = cur.Jobs.OneTimePolicy
		a.sessions.Apply(scfg)
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts services down in order, each step bounded so one stuck
// component cannot block the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.http != nil {
		step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	}
	if a.sessions != nil {
		step("sessions", 5*time.Second, a.sessions.Teardown)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
