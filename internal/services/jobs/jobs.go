package jobs

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pixos/internal/storage"
	logx "pixos/pkg/logx"
)

// Config controls the housekeeping schedules.
//
// Durations become "@every d" cron descriptors. Zero disables the job.
type Config struct {
	Enabled       bool
	PruneEvery    time.Duration
	SnapshotEvery time.Duration
	HistorySize   int // crash rows kept by prune (default 50)
}

// StatsFunc returns loggable fields describing the machine right now.
// Called on the cron goroutine, so it must be cheap and thread-safe.
type StatsFunc func() []logx.Field

type Service struct {
	log   logx.Logger
	store storage.Store
	stats StatsFunc

	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, store storage.Store, stats StatsFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		store: store,
		stats: stats,
		cfg:   cfg,
		// Descriptor enables "@every 10m" style specs.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) {
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	c := cron.New(cron.WithParser(s.parser))

	if s.store != nil && s.cfg.PruneEvery > 0 {
		keep := s.cfg.HistorySize
		if keep <= 0 {
			keep = 50
		}
		s.addEvery(c, "prune", s.cfg.PruneEvery, func() {
			pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			removed, err := s.store.PruneCrashes(pctx, keep)
			if err != nil {
				s.log.Warn("crash prune failed", logx.Err(err))
				return
			}
			if removed > 0 {
				s.log.Debug("crash rows pruned", logx.Int64("removed", removed), logx.Int("keep", keep))
			}
		})
	}

	if s.stats != nil && s.cfg.SnapshotEvery > 0 {
		s.addEvery(c, "snapshot", s.cfg.SnapshotEvery, func() {
			s.log.Info("machine snapshot", s.stats()...)
		})
	}

	c.Start()
	s.c = c
	s.log.Debug("jobs started",
		logx.Duration("prune_every", s.cfg.PruneEvery),
		logx.Duration("snapshot_every", s.cfg.SnapshotEvery),
	)
}

func (s *Service) addEvery(c *cron.Cron, name string, every time.Duration, fn func()) {
	_, err := c.AddFunc("@every "+every.String(), func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in job", logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		fn()
	})
	if err != nil {
		s.log.Warn("job not scheduled", logx.String("job", name), logx.Err(err))
	}
}

// Apply updates config at runtime; a changed schedule restarts the cron.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	s.stopLocked()
	s.startLocked(ctx)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ctx
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	// Give in-flight jobs a moment; they carry their own timeouts.
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("jobs stop timed out waiting for running jobs")
	}
	s.c = nil
	s.log.Debug("jobs stopped")
}
