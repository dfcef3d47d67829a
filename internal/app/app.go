package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ticktock/internal/action"
	"ticktock/internal/config"
	"ticktock/internal/eventbus"
	"ticktock/internal/runtime/supervisor"
	"ticktock/internal/storage"
	"ticktock/internal/task/looper"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

const defaultFailureLogEvery = 5 * time.Second

// ErrUnknownTask is returned by StartTask for a tag the config does not declare.
var ErrUnknownTask = errors.New("task not declared")

type Option func(*App)

// WithClock drives the loop from c instead of the wall clock.
func WithClock(c looper.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithNotifier replaces the systemd notification hook.
func WithNotifier(fn func(state string) (bool, error)) Option {
	return func(a *App) {
		if fn != nil {
			a.notify = fn
		}
	}
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	clock   looper.Clock
	loop    *looper.Looper
	sched   *timer.Scheduler
	actions *action.Factory
	notify  func(state string) (bool, error)

	mu    sync.Mutex
	plans map[string]config.TaskPlan
	loc   *time.Location
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	plans, err := cfg.Plan()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.Component("app")),
		logs:   logs,
		bus:    eventbus.New(),
		notify: sdNotify,
		loc:    loc,
		plans:  indexPlans(plans),
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	a.store, err = OpenStore(cfg, log.With(logx.Component("storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a.loop = looper.New(
		looper.WithClock(a.clock),
		looper.WithLogger(log.With(logx.Component("looper"))),
	)
	a.sched = timer.New(a.loop,
		timer.WithLogger(log.With(logx.Component("timer"))),
		timer.WithBus(a.bus),
		timer.WithFailureLogEvery(cfg.FailureLogEvery(defaultFailureLogEvery)),
	)
	a.actions = &action.Factory{
		Log:   log.With(logx.Component("action")),
		Sched: a.sched,
		Start: a.StartTask,
		Now:   a.loop.Now,
	}
	cfgm.SetLogger(log.With(logx.Component("config")))
	return a, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func indexPlans(plans []config.TaskPlan) map[string]config.TaskPlan {
	m := make(map[string]config.TaskPlan, len(plans))
	for _, p := range plans {
		m[p.Tag] = p
	}
	return m
}

func (a *App) Scheduler() *timer.Scheduler { return a.sched }
func (a *App) Bus() eventbus.Bus            { return a.bus }
func (a *App) Store() storage.Store         { return a.store }
func (a *App) Logger() logx.Logger          { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.Component("supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.actions.Sup = a.sup

	a.sup.Go("looper", a.loop.Run)
	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.Component("journal")))
		a.sup.Go("journal", rec.Run)
	}
	a.sup.Go("events", a.logEvents)

	started := 0
	for _, tag := range a.declaredTags() {
		p := a.plan(tag)
		if p.Manual {
			continue
		}
		if err := a.StartTask(tag); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("start task %q: %w", tag, err)
		}
		started++
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", 250*time.Millisecond, 5*time.Second, a.cfgm.Watch)

	a.startWatchdog(a.cfgm.Get())
	a.notifyReady(started)

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Int("declared", len(a.declaredTags())),
		logx.Int("started", started),
		logx.Bool("journal", a.store != nil),
	)
	return nil
}

// StartTask (re)starts the declared task tag from its first firing.
// A task already running under tag is replaced.
func (a *App) StartTask(tag string) error {
	a.mu.Lock()
	p, ok := a.plans[tag]
	loc := a.loc
	tags := make([]string, 0, len(a.plans))
	for t := range a.plans {
		tags = append(tags, t)
	}
	a.mu.Unlock()
	if !ok {
		if s := config.Suggest(tag, tags); s != "" {
			return fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownTask, tag, s)
		}
		return fmt.Errorf("%w: %q", ErrUnknownTask, tag)
	}

	b := a.sched.NewTask().
		Tag(p.Tag).
		Policy(p.Kind).
		PeriodDelay(p.Period, p.FirstDelay(a.loop.Now().In(loc))).
		TakeWhile(p.TakeWhile)
	if p.OnTick != nil {
		fn, err := a.actions.Consumer(p.Tag, p.OnTick)
		if err != nil {
			return fmt.Errorf("on_tick: %w", err)
		}
		b.OnTick(fn)
	}
	if p.OnComplete != nil {
		fn, err := a.actions.Action(p.Tag, p.OnComplete)
		if err != nil {
			return fmt.Errorf("on_complete: %w", err)
		}
		b.OnComplete(fn)
	}
	spec, err := b.Build()
	if err != nil {
		return err
	}
	a.sched.Schedule(spec)
	return nil
}

func (a *App) plan(tag string) config.TaskPlan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plans[tag]
}

// declaredTags returns the declared tags in config file order.
func (a *App) declaredTags() []string {
	if cfg := a.cfgm.Get(); cfg != nil {
		return cfg.Tags()
	}
	return nil
}

// logEvents mirrors task lifecycle events to the debug log.
func (a *App) logEvents(ctx context.Context) error {
	events, unsubscribe := a.bus.Subscribe(256, "task.")
	defer unsubscribe()
	log := a.log.With(logx.Component("events"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			te, ok := ev.Data.(timer.TaskEvent)
			if !ok {
				continue
			}
			fields := []logx.Field{
				logx.String("event", ev.Type),
				logx.Tag(te.Tag),
				logx.Uint64("fires", te.Fires),
			}
			if te.Kind == timer.KindCountDown {
				fields = append(fields, logx.Int64("remaining", te.Remaining))
			}
			if te.Error != nil {
				fields = append(fields, logx.Err(te.Error))
			}
			log.Debug("task event", fields...)
		}
	}
}

// LogStatus writes the state of every task and supervised goroutine to the log.
func (a *App) LogStatus(ctx context.Context) error {
	tasks, err := a.sched.Snapshot(ctx)
	if err != nil {
		return err
	}
	a.log.Info("status", logx.Int("tasks", len(tasks)), logx.Uint64("events_dropped", a.bus.Dropped()))
	for _, t := range tasks {
		fields := []logx.Field{
			logx.Tag(t.Tag),
			logx.String("policy", t.Kind.String()),
			logx.Bool("paused", t.Paused),
			logx.Uint64("fires", t.Fires),
			logx.Uint64("failures", t.Failures),
		}
		if t.Pending {
			fields = append(fields, logx.Time("next", t.Next))
		}
		if t.Kind == timer.KindCountDown {
			fields = append(fields, logx.Int64("remaining", t.Remaining))
		}
		if t.Skipped > 0 {
			fields = append(fields, logx.Uint64("skipped", t.Skipped))
		}
		a.log.Info("task", fields...)
	}
	if a.sup != nil {
		stats := a.sup.Snapshot()
		sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
		for _, s := range stats {
			fields := []logx.Field{
				logx.String("name", s.Name),
				logx.Int64("active", s.Active),
				logx.Uint64("runs", s.Runs),
				logx.Uint64("restarts", s.Restarts),
			}
			if s.LastErr != "" {
				fields = append(fields, logx.String("last_err", s.LastErr))
			}
			a.log.Debug("goroutine", fields...)
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Cancel tasks while the loop and the journal still run, so the
	// cancellations are published and recorded.
	step("tasks", 2*time.Second, func(c context.Context) error {
		if !a.loop.Alive() {
			return nil
		}
		a.sched.CancelAll()
		return a.sched.Sync(c)
	})

	a.sup.Cancel()
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// History returns the newest journal entries (see storage.Query).
func (a *App) History(ctx context.Context, q storage.Query) ([]storage.Entry, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, q)
}

func joinSections(s []string) string { return strings.Join(s, ",") }
