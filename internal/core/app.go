// Package core wires the host together: config, logging, storage, machine,
// devices and jobs, with hot reload fanned out from the config manager.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pixos/internal/config"
	"pixos/internal/device"
	"pixos/internal/machine"
	"pixos/internal/observability/pprof"
	"pixos/internal/runtime/supervisor"
	"pixos/internal/services/jobs"
	"pixos/internal/storage"
	logx "pixos/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	mach  *machine.Machine

	devices   *device.Registry
	cartwatch *device.Cartwatch

	jobs  *jobs.Service
	pprof *pprof.Service
	sup   *supervisor.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	// Storage (optional)
	var store storage.Store
	if sc, enabled := mapStorage(cfg.Storage); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	mach := machine.New(mapMachine(cfg.Machine), store, logs,
		log.With(logx.String("comp", "machine")))

	jobsSvc := jobs.New(mapJobs(cfg.Jobs), store, mach.StatsFields,
		log.With(logx.String("comp", "jobs")))

	app := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		mach:    mach,
		jobs:    jobsSvc,
		pprof: pprof.New(mapPprof(cfg.Pprof),
			log.With(logx.String("comp", "pprof"))),
	}

	// Devices push straight into the machine; the registry reconciles
	// against config flags on start and on every reload.
	reg := device.NewRegistry(log.With(logx.String("comp", "devices")))
	term := device.NewTerminal()
	term.SetRaw(cfg.Devices.Terminal.Raw)
	reg.Register(term)
	cw := device.NewCartwatch(cfg.Machine.Cartridge)
	cw.OnChange = app.onCartridgeChange
	reg.Register(cw)
	app.devices = reg
	app.cartwatch = cw

	return app, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		// Parse already ran Validate; this hook keeps reload rejections
		// explicit should validation grow app-level checks.
		return cfg.Validate()
	})

	runCtx := a.sup.Context()

	if err := a.mach.Start(runCtx); err != nil {
		return err
	}

	deps := device.Deps{
		Push: a.mach.Push,
		Log:  a.log.With(logx.String("comp", "devices")),
	}
	if err := a.devices.Init(runCtx, deps); err != nil {
		return err
	}
	a.devices.Reconcile(runCtx, deviceFlags(a.cfgm.Get()))

	a.jobs.Start(runCtx)
	a.pprof.Start(runCtx)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Interrupt forwards the host interrupt (first Ctrl-C) to the cartridge.
func (a *App) Interrupt() { a.mach.Interrupt() }

// Machine exposes the machine for operational surfaces (state, stats).
func (a *App) Machine() *machine.Machine { return a.mach }

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	a.pprof.Stop(ctx)
	a.jobs.Stop(ctx)
	a.devices.StopAll(ctx)
	if err := a.mach.Stop(ctx); err != nil {
		a.log.Warn("machine stop", logx.Err(err))
	}
	if err := a.sup.Wait(ctx); err != nil && err != ctx.Err() {
		a.log.Warn("supervisor wait", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) onCartridgeChange() {
	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Machine.RestartOnChange {
		return
	}
	if a.sup == nil {
		return
	}
	a.sup.Go0("machine.restart", func(c context.Context) {
		a.log.Info("cartridge changed; rebooting machine")
		if err := a.mach.Restart(c); err != nil {
			a.log.Error("machine restart failed", logx.Err(err))
		}
	})
}

// reloadLoop applies committed config updates to the running components.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			prevCart := strings.TrimSpace(lastApplied.Machine.Cartridge)
			lastApplied = newCfg

			a.logs.Apply(mapLogging(newCfg.Logging))

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
					break
				}
			}

			// Machine settings take effect on the next boot; a cartridge
			// path change warrants one now.
			a.mach.Apply(mapMachine(newCfg.Machine))
			if strings.TrimSpace(newCfg.Machine.Cartridge) != prevCart && prevCart != "" {
				a.sup.Go0("machine.restart", func(c context.Context) {
					a.log.Info("cartridge path changed; rebooting machine")
					if err := a.mach.Restart(c); err != nil {
						a.log.Error("machine restart failed", logx.Err(err))
					}
				})
			}

			a.jobs.Apply(ctx, mapJobs(newCfg.Jobs))
			a.pprof.Apply(ctx, mapPprof(newCfg.Pprof))
			a.devices.Reconcile(ctx, deviceFlags(newCfg))

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// ---- config mapping ----

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Screen: logx.ScreenConfig{
			Enabled:    c.Screen.Enabled,
			Lines:      c.Screen.Lines,
			MinLevel:   c.Screen.MinLevel,
			RatePerSec: c.Screen.RatePerSec,
		},
	}
}

func mapMachine(c config.MachineConfig) machine.Config {
	return machine.Config{
		Cartridge: c.Cartridge,
		TickHz:    c.TickHz,
		QueueCap:  c.QueueCap,
	}
}

func mapStorage(c *config.StorageConfig) (storage.Config, bool) {
	if c == nil || !c.Enabled {
		return storage.Config{}, false
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	driver := strings.TrimSpace(c.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	return storage.Config{
		Driver:      driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, true
}

func mapJobs(c *config.JobsConfig) jobs.Config {
	if c == nil || !c.Enabled {
		return jobs.Config{}
	}
	prune, _ := config.ParseDurationOrDefault("jobs.prune_every", c.PruneEvery, 10*time.Minute)
	snap, _ := config.ParseDurationOrDefault("jobs.snapshot_every", c.SnapshotEvery, time.Minute)
	return jobs.Config{
		Enabled:       true,
		PruneEvery:    prune,
		SnapshotEvery: snap,
		HistorySize:   c.HistorySize,
	}
}

func mapPprof(c *config.PprofConfig) pprof.Config {
	if c == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled: c.Enabled,
		Addr:    c.Addr,
		Token:   c.Token,
	}
}

func deviceFlags(cfg *config.Config) map[string]bool {
	if cfg == nil {
		return nil
	}
	return map[string]bool{
		"terminal":  cfg.Devices.Terminal.Enabled,
		"cartwatch": cfg.Devices.Cartwatch.Enabled,
	}
}
