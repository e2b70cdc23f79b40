// Package app wires the notifyd process together: config, logging, storage,
// the decision engine, sinks and maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/engine"
	"notifyd/internal/eventbus"
	"notifyd/internal/maintenance"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store
	eng   *engine.Engine
	maint *maintenance.Service

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateConfig(c)
	})

	bus := eventbus.New()

	store, err := storage.Open(storageConfig(cfg), logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	engCfg, err := buildEngineConfig(cfg.Engine)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	snk, err := buildSink(cfg.Sink, logs.Logger())
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	scr, err := buildScorer(cfg.Scorer)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	eng := engine.New(engCfg, snk, logs.Logger().With(logx.String("comp", "engine")),
		engine.WithScorer(scr),
		engine.WithBus(bus),
	)

	if err := applyRouting(eng, cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}

	// Warm history from the last snapshot, if any.
	if store != nil {
		snap, err := store.LoadSnapshot(context.Background())
		if err != nil {
			log.Warn("history snapshot load failed", logx.Err(err))
		} else if snap != nil {
			eng.History().Restore(snap.Entries, snap.Counters)
			log.Info("history restored",
				logx.Int("entries", len(snap.Entries)), logx.Time("saved_at", snap.SavedAt))
		}
	}

	maint := maintenance.New(maintenanceConfig(cfg), eng, store,
		logs.Logger().With(logx.String("comp", "maintenance")))

	return &App{
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		bus:   bus,
		store: store,
		eng:   eng,
		maint: maint,
	}, nil
}

// Engine exposes the orchestrator to producers and inspection surfaces.
func (a *App) Engine() *engine.Engine { return a.eng }

// Bus exposes the event bus for inspection subscribers.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.eng.Start(ctx)
	if err := a.maint.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	// Config watch + apply loop.
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	updates := a.cfgm.Subscribe(1)

	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.watchWG.Done()
		for {
			select {
			case <-wctx.Done():
				a.cfgm.Unsubscribe(updates)
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyUpdate(cfg)
			}
		}
	}()

	a.log.Info("notifyd started")
	return nil
}

// applyUpdate hot-swaps everything that can be swapped: log levels, rules and
// the DND schedule. Engine timings, sinks and storage need a restart; the
// validator has already accepted the file, so a partial apply is fine.
func (a *App) applyUpdate(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err := applyRouting(a.eng, cfg); err != nil {
		a.log.Warn("config apply failed", logx.Err(err))
		return
	}
	a.log.Info("config applied",
		logx.Int("rules", len(cfg.Rules)), logx.Int("dnd_entries", len(cfg.DND.Schedule)))
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchWG.Wait()
	}

	a.maint.Stop()

	// Flush pending bundles before the final snapshot so the entries land in it.
	a.eng.Close()

	if a.store != nil {
		if err := a.maint.Snapshot(ctx); err != nil {
			a.log.Warn("final snapshot failed", logx.Err(err))
		}
		_ = a.store.Close()
	}

	a.log.Info("notifyd stopped")
	return a.logs.Close()
}

// applyRouting rebuilds rules and the DND schedule from config.
func applyRouting(eng *engine.Engine, cfg *config.Config) error {
	rs, err := buildRules(cfg.Rules)
	if err != nil {
		return err
	}
	schedule, err := buildDNDSchedule(cfg.DND)
	if err != nil {
		return err
	}
	if err := eng.SetRules(rs); err != nil {
		return err
	}
	eng.SetDNDSchedule(schedule)
	return nil
}

// validateConfig is the reload gate: everything parseable must parse, without
// touching the network (so no sink construction here).
func validateConfig(cfg *config.Config) error {
	if _, err := buildEngineConfig(cfg.Engine); err != nil {
		return err
	}
	if _, err := buildRules(cfg.Rules); err != nil {
		return err
	}
	if _, err := buildDNDSchedule(cfg.DND); err != nil {
		return err
	}
	if _, err := buildScorer(cfg.Scorer); err != nil {
		return err
	}
	if !cfg.Sink.Console.Enabled && (cfg.Sink.Telegram == nil || !cfg.Sink.Telegram.Enabled) {
		return errors.New("no sink enabled; enable sink.console or sink.telegram")
	}
	if tg := cfg.Sink.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" || tg.ChatID == 0 {
			return errors.New("sink.telegram requires token and chat_id")
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

const defaultBusyTimeout = 2 * time.Second

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	// Malformed values are caught by validateConfig; fall back to the default.
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		busy = defaultBusyTimeout
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func maintenanceConfig(cfg *config.Config) maintenance.Config {
	if cfg.Maintenance == nil {
		return maintenance.Config{}
	}
	return maintenance.Config{
		Enabled:      cfg.Maintenance.Enabled,
		SnapshotSpec: cfg.Maintenance.SnapshotSpec,
		StatsSpec:    cfg.Maintenance.StatsSpec,
		Timezone:     cfg.Maintenance.Timezone,
	}
}
