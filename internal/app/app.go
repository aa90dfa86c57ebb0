package app

import (
	"context"
	"fmt"
	"reflect"

	"conveyor/internal/bus"
	"conveyor/internal/config"
	"conveyor/internal/executor"
	"conveyor/internal/notifier"
	"conveyor/internal/output"
	"conveyor/internal/pipeline"
	"conveyor/internal/registry"
	"conveyor/internal/scheduler"
	"conveyor/internal/storage"
	logx "conveyor/pkg/logx"
)

// App owns the orchestrator's wiring and lifecycle. Boundary callers (a
// CLI, an embedding program, a transport layer) talk to the core through
// its methods only.
type App struct {
	cfgPath string
	cfgm    *config.Manager
	cfg     *config.Config

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	events  *bus.Bus
	pipes   *pipeline.Registry
	runs    *registry.Registry
	outputs *output.Store
	exec    *executor.Executor
	sched   *scheduler.Scheduler
	notif   *notifier.Service

	stopWatch func()
}

// New builds an app from a config file. Pipelines are registered afterwards
// with Register; Start arms the scheduler.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	var store storage.Store
	if cfg.Storage != nil {
		bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: bt,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
	}

	events := bus.New(log.With(logx.String("comp", "bus")))

	var state pipeline.StatePersister
	if store != nil {
		state = store
	}
	pipes := pipeline.NewRegistry(log.With(logx.String("comp", "pipelines")), state)
	runs := registry.New(log.With(logx.String("comp", "runs")), store)

	var outputs *output.Store
	if cfg.Outputs != nil && cfg.Outputs.Dir != "" {
		outputs, err = output.NewStore(cfg.Outputs.Dir, log.With(logx.String("comp", "outputs")))
		if err != nil {
			return nil, err
		}
	}

	var outw executor.OutputWriter
	if outputs != nil {
		outw = outputs
	}
	exec := executor.New(log.With(logx.String("comp", "executor")), runs, events, outw, store)

	clock, err := scheduler.NewClock(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		store:   store,
		events:  events,
		pipes:   pipes,
		runs:    runs,
		outputs: outputs,
		exec:    exec,
	}

	a.sched = scheduler.New(log.With(logx.String("comp", "scheduler")), pipes, clock, a.fireTrigger)
	pipes.OnScheduleToggle(a.sched.Recompute)

	if nc := cfg.Notifier; nc != nil {
		window, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
		if err != nil {
			return nil, err
		}
		a.notif = notifier.New(notifier.Config{
			Enabled:     nc.Enabled,
			Statuses:    nc.Statuses,
			RatePerMin:  nc.RatePerMin,
			DedupWindow: window,
		}, nil, events, log.With(logx.String("comp", "notifier")))
	}

	return a, nil
}

// Register adds a pipeline definition. Call before Start.
func (a *App) Register(p *pipeline.Pipeline) error {
	return a.pipes.Register(p)
}

// Start restores persisted state, launches the notifier and config watcher,
// and arms the scheduler when enabled.
func (a *App) Start(ctx context.Context) error {
	if err := a.pipes.LoadState(ctx); err != nil {
		return fmt.Errorf("load schedule state: %w", err)
	}
	a.applyPipelineOverrides(ctx)

	if err := a.runs.Load(ctx); err != nil {
		return fmt.Errorf("load run history: %w", err)
	}

	if a.notif != nil {
		a.notif.Start(ctx)
	}
	if a.cfg.Scheduler.Enabled {
		a.sched.Start(ctx)
	} else {
		a.log.Info("scheduler disabled by config")
	}

	wctx, cancel := context.WithCancel(ctx)
	updates := a.cfgm.Subscribe(4)
	a.stopWatch = func() {
		cancel()
		a.cfgm.Unsubscribe(updates)
	}
	go func() { _ = a.cfgm.Watch(wctx) }()
	go a.consumeReloads(updates)

	a.log.Info("app started", logx.Int("pipelines", len(a.pipes.List())))
	return nil
}

// Stop halts triggering, waits for in-flight runs, and closes resources.
func (a *App) Stop(ctx context.Context) {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.cfg.Scheduler.Enabled {
		a.sched.Stop(ctx)
	}
	a.exec.Wait(ctx)
	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// consumeReloads applies committed config reloads. Logging is the only hot
// section; anything else that changed is reported so an edited file does
// not look applied when it is not.
func (a *App) consumeReloads(updates chan *config.Config) {
	for next := range updates {
		a.logs.Apply(logx.Config{
			Level:   next.Logging.Level,
			Console: next.Logging.Console,
			File: logx.FileConfig{
				Enabled: next.Logging.File.Enabled,
				Path:    next.Logging.File.Path,
			},
		})
		a.log.Info("logging reconfigured", logx.String("level", next.Logging.Level))
		if cold := coldSections(a.cfg, next); len(cold) > 0 {
			a.log.Warn("config changes need a restart to take effect",
				logx.Any("sections", cold))
		}
	}
}

// coldSections lists the changed config sections that only apply at boot.
func coldSections(prev, next *config.Config) []string {
	var out []string
	if !reflect.DeepEqual(prev.Scheduler, next.Scheduler) {
		out = append(out, "scheduler")
	}
	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(prev.Outputs, next.Outputs) {
		out = append(out, "outputs")
	}
	if !reflect.DeepEqual(prev.Notifier, next.Notifier) {
		out = append(out, "notifier")
	}
	if !reflect.DeepEqual(prev.Pipelines, next.Pipelines) {
		out = append(out, "pipelines")
	}
	return out
}

// applyPipelineOverrides applies per-pipeline config at startup, after
// persisted state so the file is the operator's explicit word.
func (a *App) applyPipelineOverrides(ctx context.Context) {
	for id, pc := range a.cfg.Pipelines {
		if pc.ScheduleEnabled == nil {
			continue
		}
		if _, err := a.pipes.SetScheduleEnabled(ctx, id, *pc.ScheduleEnabled); err != nil {
			a.log.Warn("pipeline override ignored", logx.String("pipeline", id), logx.Err(err))
		}
	}
}

// fireTrigger is the scheduler's FireFunc.
func (a *App) fireTrigger(pipelineID, triggerID string) error {
	p := a.pipes.Get(pipelineID)
	if p == nil {
		return fmt.Errorf("%w: pipeline %q", registry.ErrNotFound, pipelineID)
	}
	tr := p.Trigger(triggerID)
	if tr == nil {
		return fmt.Errorf("%w: trigger %q of pipeline %q", registry.ErrNotFound, triggerID, pipelineID)
	}
	_, err := a.exec.Submit(context.Background(), p, tr, nil)
	return err
}
