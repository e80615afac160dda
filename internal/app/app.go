// Package app assembles the client: one connection, one dispatcher, one
// inbox and one settings store per process, all owned by App.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"maintwatch/internal/config"
	"maintwatch/internal/eventbus"
	"maintwatch/internal/inbox"
	"maintwatch/internal/ingest"
	"maintwatch/internal/observability/debug"
	"maintwatch/internal/priority"
	"maintwatch/internal/runtime/supervisor"
	"maintwatch/internal/settings"
	"maintwatch/internal/transport/ws"
	"maintwatch/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	// levelOverride pins the log level given on the command line.
	levelOverride string

	stores  *Stores
	reg     *eventbus.Registry
	sig     *eventbus.Signals
	conn    *ws.Manager
	ingest  *ingest.Service
	bell    *ingest.BellAlerter
	janitor *inbox.Janitor
	dbg     *debug.Server

	self atomic.Pointer[ingest.Self]

	sup *supervisor.Supervisor
}

type Option func(*App)

// WithLogLevel overrides logging.level from the config file.
func WithLogLevel(level string) Option {
	return func(a *App) { a.levelOverride = strings.TrimSpace(level) }
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath, cfgm: config.NewManager(cfgPath)}
	for _, o := range opts {
		o(a)
	}

	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(a.logConfig(cfg))
	a.log = a.log.With(logx.String("comp", "app"))

	wsCfg, err := mapWSConfig(cfg)
	if err != nil {
		return nil, err
	}
	retention, err := mapRetention(cfg)
	if err != nil {
		return nil, err
	}
	alerts, err := mapAlerts(cfg)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.stores = stores

	a.sig = eventbus.NewSignals()
	a.reg = eventbus.NewRegistry(a.log.With(logx.String("comp", "dispatch")))
	a.reg.OnPanic(func(p eventbus.PanicInfo) { a.sig.Emit(eventbus.SignalSubscriberFault, p) })

	self := mapSelf(cfg)
	a.self.Store(&self)

	a.bell = ingest.NewBellAlerter(logx.Stdout(), alerts.RatePerSec, alerts.Burst, a.log)
	a.ingest = ingest.New(a.reg, stores.Inbox, stores.Settings, a.sig, a.log, ingest.Options{
		Self:     func() ingest.Self { return *a.self.Load() },
		AlertMin: alerts.Min,
	})
	a.applyAlerts(alerts)

	a.janitor = inbox.NewJanitor(stores.Inbox, retention, a.log)
	a.conn = ws.New(wsCfg, a.reg, a.sig, a.log)
	a.dbg = debug.New(a.Status, a.log)
	return a, nil
}

func (a *App) logConfig(cfg *config.Config) logx.Config {
	lc := mapLogging(cfg)
	if a.levelOverride != "" {
		lc.Level = a.levelOverride
	}
	return lc
}

func (a *App) applyAlerts(s alertSettings) {
	if !s.Enabled {
		a.ingest.SetAlerting(nil, s.Min)
		return
	}
	a.bell.SetRate(s.RatePerSec, s.Burst)
	a.ingest.SetAlerting(a.bell, s.Min)
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Inbox() *inbox.Store { return a.stores.Inbox }

func (a *App) Settings() *settings.Store { return a.stores.Settings }

func (a *App) Registry() *eventbus.Registry { return a.reg }

func (a *App) Signals() *eventbus.Signals { return a.sig }

func (a *App) Conn() *ws.Manager { return a.conn }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.ingest.Start()
	if err := a.janitor.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}

	a.sup.Go("ws.connection", a.conn.Run)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	sigs, unsub := a.sig.Subscribe(128)
	a.sup.Loop("signals.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case s, ok := <-sigs:
				if !ok {
					return
				}
				a.logSignal(s)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Loop("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, last, next)
				last = next
			}
		}
	})

	a.dbg.Apply(a.sup.Context(), mapDebug(a.cfgm.Get()))

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) logSignal(s eventbus.Signal) {
	switch s.Type {
	case eventbus.SignalSubscriberFault:
		if p, ok := s.Data.(eventbus.PanicInfo); ok {
			a.log.Warn("subscriber fault", logx.Err(p))
			return
		}
	case eventbus.SignalReconnectScheduled:
		if r, ok := s.Data.(eventbus.ReconnectInfo); ok {
			a.log.Debug("signal", logx.String("type", s.Type), logx.Int("attempt", r.Attempt), logx.Duration("delay", r.Delay))
			return
		}
	}
	a.log.Debug("signal", logx.String("type", s.Type), logx.Time("time", s.Time))
}

// reload applies the hot-reloadable sections and warns about the rest.
func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(a.logConfig(next))

	self := mapSelf(next)
	a.self.Store(&self)
	a.conn.SetIdentity(mapIdentity(next))

	if alerts, err := mapAlerts(next); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		a.applyAlerts(alerts)
	}

	if r, err := mapRetention(next); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else if err := a.janitor.Apply(ctx, r); err != nil {
		a.log.Warn("retention reschedule failed", logx.Err(err))
	} else if r.Enabled {
		// Apply only reschedules a running janitor.
		_ = a.janitor.Start(ctx)
	}

	a.dbg.Apply(ctx, mapDebug(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop tears components down in reverse start order. Each step is bounded
// so one stuck component cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.stores.Close()
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	step("ingest", time.Second, func(context.Context) error { a.ingest.Stop(); return nil })
	step("janitor", 2*time.Second, func(c context.Context) error { a.janitor.Stop(c); return nil })
	step("ws", 2*time.Second, func(context.Context) error { return a.conn.Close() })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.stores.Close() })

	a.log.Info("stopped",
		logx.Int("notifications", a.stores.Inbox.Len()),
		logx.Int("unread", a.stores.Inbox.UnreadCount()),
		logx.Uint64("signals_dropped", a.sig.Dropped()),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Status is a point-in-time view of the running client.
type Status struct {
	Connection      string                `json:"connection"`
	FailedAttempts  int                   `json:"failed_attempts"`
	Notifications   int                   `json:"notifications"`
	Unread          int                   `json:"unread"`
	Urgent          int                   `json:"urgent"`
	ByPriority      map[priority.Tier]int `json:"by_priority"`
	SignalsDropped  uint64                `json:"signals_dropped"`
	MinimumPriority priority.Tier         `json:"minimum_priority"`
	Tasks           []supervisor.TaskInfo `json:"tasks,omitempty"`
}

func (a *App) Status() any {
	in := a.stores.Inbox
	var tasks []supervisor.TaskInfo
	if a.sup != nil {
		tasks = a.sup.Tasks()
	}
	return Status{
		Connection:      a.conn.State().String(),
		FailedAttempts:  a.conn.Attempts(),
		Notifications:   in.Len(),
		Unread:          in.UnreadCount(),
		Urgent:          in.UrgentCount(),
		ByPriority:      in.CountByPriority(),
		SignalsDropped:  a.sig.Dropped(),
		MinimumPriority: a.stores.Settings.Get().MinimumPriority,
		Tasks:           tasks,
	}
}
