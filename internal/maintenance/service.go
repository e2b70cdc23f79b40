// Package maintenance runs the engine's periodic housekeeping: history
// snapshots to storage and a daily stats log line. Schedules are cron specs.
package maintenance

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/engine"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
)

// Config controls the maintenance schedules.
//
// Specs accept standard 5-field cron, optional leading seconds field, and
// descriptors like "@every 5m" or "@daily".
type Config struct {
	Enabled      bool
	SnapshotSpec string // default "@every 5m"
	StatsSpec    string // default "@daily"
	Timezone     string // default local
}

type Service struct {
	cfg   Config
	log   logx.Logger
	eng   *engine.Engine
	store storage.Store

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, eng *engine.Engine, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		eng:   eng,
		store: store,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid maintenance timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	snapSpec := s.cfg.SnapshotSpec
	if strings.TrimSpace(snapSpec) == "" {
		snapSpec = "@every 5m"
	}
	if s.store != nil {
		if _, err := s.c.AddFunc(snapSpec, s.snapshot); err != nil {
			return err
		}
	}

	statsSpec := s.cfg.StatsSpec
	if strings.TrimSpace(statsSpec) == "" {
		statsSpec = "@daily"
	}
	if _, err := s.c.AddFunc(statsSpec, s.logStats); err != nil {
		return err
	}

	s.c.Start()
	s.log.Info("maintenance started",
		logx.String("snapshot", snapSpec), logx.String("stats", statsSpec))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	ctx := s.c.Stop()
	<-ctx.Done()
	s.c = nil
}

// Snapshot persists the current history state. Also called once on shutdown.
func (s *Service) Snapshot(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	entries, counters := s.eng.History().Snapshot()
	return s.store.SaveSnapshot(ctx, storage.Snapshot{
		SavedAt:  time.Now(),
		Entries:  entries,
		Counters: counters,
	})
}

func (s *Service) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Snapshot(ctx); err != nil {
		s.log.Warn("history snapshot failed", logx.Err(err))
		return
	}
	s.log.Debug("history snapshot saved")
}

func (s *Service) logStats() {
	c := s.eng.Stats()
	s.log.Info("engine stats",
		logx.Uint64("submitted", c.Submitted),
		logx.Uint64("delivered", c.Delivered),
		logx.Uint64("bundled", c.Bundled),
		logx.Uint64("silenced", c.Silenced),
		logx.Uint64("failed", c.Failed),
		logx.Int("pending_bundled", s.eng.PendingBundled()))
}
