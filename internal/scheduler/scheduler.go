// Package scheduler triggers schedule executions from their crontabs and
// prunes old execution logs.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/report"
)

// Config holds scheduler configuration.
type Config struct {
	Enabled bool
	// MaxWorkers bounds concurrent executions. Triggers arriving while all
	// workers are busy are skipped.
	MaxWorkers int64
	// SoftTimeout is the deadline of one execution.
	SoftTimeout time.Duration
	// SyncInterval is how often active schedules are re-read.
	SyncInterval time.Duration
	// PruneCron is the crontab of the log retention job.
	PruneCron string
	// ConcurrencyPolicy is "skip" or "delay" for a schedule whose previous
	// trigger is still running.
	ConcurrencyPolicy string
}

// Runner executes one schedule.
type Runner interface {
	Run(ctx context.Context, req report.Request) error
}

// ScheduleSource lists schedules.
type ScheduleSource interface {
	List(ctx context.Context) ([]*models.Schedule, error)
	ListActive(ctx context.Context) ([]*models.Schedule, error)
}

// LogPruner deletes old execution log entries.
type LogPruner interface {
	DeleteBefore(ctx context.Context, scheduleID int64, cutoff time.Time) (int64, error)
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler registers every active schedule with cron and runs it through
// Runner when it fires.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	schedules ScheduleSource
	logs      LogPruner
	sem       *semaphore.Weighted
	config    Config
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
	jobs    []cron.EntryID
	baseCtx context.Context

	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a new Scheduler.
func New(cfg Config, runner Runner, schedules ScheduleSource, logs LogPruner, logger *zap.SugaredLogger) *Scheduler {
	logger = logging.OrNop(logger).With(logging.FieldComponent, "scheduler")
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = 10 * time.Minute
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}
	if cfg.PruneCron == "" {
		cfg.PruneCron = "0 0 * * *"
	}

	return &Scheduler{
		cron:      newCron(cfg, logger),
		runner:    runner,
		schedules: schedules,
		logs:      logs,
		sem:       semaphore.NewWeighted(cfg.MaxWorkers),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[int64]entry),
		baseCtx:   context.Background(),
		stopped:   make(chan struct{}),
	}
}

func newCron(cfg Config, logger *zap.SugaredLogger) *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger}
	var wrapper cron.JobWrapper
	switch policy := strings.ToLower(strings.TrimSpace(cfg.ConcurrencyPolicy)); policy {
	case "delay":
		wrapper = cron.DelayIfStillRunning(cl)
	case "skip", "":
		wrapper = cron.SkipIfStillRunning(cl)
	default:
		logger.Warnw("unknown concurrency policy, defaulting to skip", "policy", policy)
		wrapper = cron.SkipIfStillRunning(cl)
	}
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), wrapper),
	)
}

// Spec returns the cron spec of s, pinned to its timezone.
func Spec(s *models.Schedule) string {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return s.Crontab
	}
	return "CRON_TZ=" + tz + " " + s.Crontab
}

// Start registers all active schedules, the sync job and the prune job, and
// starts cron. The scheduler stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("scheduler disabled by config")
		return nil
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}

	syncID, err := s.cron.AddFunc("@every "+s.config.SyncInterval.String(), func() {
		if err := s.Sync(ctx); err != nil {
			s.logger.Warnw("schedule sync failed", logging.FieldError, err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "register sync job")
	}
	pruneID, err := s.cron.AddFunc(s.config.PruneCron, func() {
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Warnw("log prune failed", logging.FieldError, err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "register prune job %q", s.config.PruneCron)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, syncID, pruneID)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Infow("scheduler started", "schedules", s.Registered(), "max_workers", s.config.MaxWorkers)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs and stops cron. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("scheduler stopping")
		<-s.cron.Stop().Done()
		close(s.stopped)
		s.logger.Info("scheduler stopped")
	})
}

// Done returns a channel that is closed when the scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// Sync registers new and changed active schedules and drops the ones that
// are gone or inactive. A schedule with an invalid crontab is logged and
// skipped.
func (s *Scheduler) Sync(ctx context.Context) error {
	active, err := s.schedules.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list active schedules")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(active))
	for _, sched := range active {
		seen[sched.ID] = true
		spec := Spec(sched)
		if e, ok := s.entries[sched.ID]; ok {
			if e.spec == spec {
				continue
			}
			s.cron.Remove(e.id)
			delete(s.entries, sched.ID)
		}

		id := sched.ID
		entryID, err := s.cron.AddFunc(spec, func() { s.trigger(id) })
		if err != nil {
			s.logger.Warnw("invalid crontab, schedule not registered",
				logging.FieldScheduleID, id, "spec", spec, logging.FieldError, err)
			continue
		}
		s.entries[id] = entry{id: entryID, spec: spec}
		s.logger.Debugw("schedule registered", logging.FieldScheduleID, id, "spec", spec)
	}

	for id, e := range s.entries {
		if !seen[id] {
			s.cron.Remove(e.id)
			delete(s.entries, id)
			s.logger.Debugw("schedule unregistered", logging.FieldScheduleID, id)
		}
	}
	metrics.SchedulerRegistered.Set(float64(len(s.entries)))
	return nil
}

// Registered returns the number of schedules registered with cron.
func (s *Scheduler) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// trigger runs one execution if a worker is free.
func (s *Scheduler) trigger(scheduleID int64) {
	if !s.sem.TryAcquire(1) {
		metrics.SchedulerSkippedTotal.Inc()
		s.logger.Warnw("all workers busy, skipping run", logging.FieldScheduleID, scheduleID)
		return
	}
	defer s.sem.Release(1)

	metrics.SchedulerWorkersActive.Inc()
	defer metrics.SchedulerWorkersActive.Dec()

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.config.SoftTimeout)
	defer cancel()

	// Failures are logged and recorded by the runner.
	_ = s.runner.Run(ctx, report.Request{
		ScheduleID:  scheduleID,
		ScheduledAt: s.now().UTC().Truncate(time.Minute),
	})
}

// Prune deletes log entries older than each schedule's retention and
// returns how many were removed.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	all, err := s.schedules.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list schedules")
	}

	var (
		total int64
		errs  error
	)
	now := s.now().UTC()
	for _, sched := range all {
		if sched.LogRetention <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -sched.LogRetention)
		n, err := s.logs.DeleteBefore(ctx, sched.ID, cutoff)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "prune schedule %d", sched.ID))
			continue
		}
		total += n
	}
	metrics.LogsPrunedTotal.Add(float64(total))
	s.logger.Infow("execution logs pruned", "deleted", total)
	return total, errs
}
