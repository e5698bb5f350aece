package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/report"
)

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []report.Request
	block chan struct{}
	errs  []error
}

func (r *fakeRunner) Run(ctx context.Context, req report.Request) error {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.block == nil {
		return nil
	}
	select {
	case <-r.block:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		r.errs = append(r.errs, ctx.Err())
		r.mu.Unlock()
		return ctx.Err()
	}
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type fakeSource struct {
	schedules []*models.Schedule
	err       error
}

func (f *fakeSource) List(context.Context) ([]*models.Schedule, error) {
	return f.schedules, f.err
}

func (f *fakeSource) ListActive(context.Context) ([]*models.Schedule, error) {
	var out []*models.Schedule
	for _, s := range f.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, f.err
}

type fakePruner struct {
	cutoffs map[int64]time.Time
	err     error
}

func (f *fakePruner) DeleteBefore(_ context.Context, scheduleID int64, cutoff time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cutoffs[scheduleID] = cutoff
	return 2, nil
}

func TestSpec(t *testing.T) {
	assert.Equal(t, "0 9 * * *", Spec(&models.Schedule{Crontab: "0 9 * * *"}))
	assert.Equal(t, "0 9 * * *", Spec(&models.Schedule{Crontab: "0 9 * * *", Timezone: "UTC"}))
	assert.Equal(t, "CRON_TZ=Europe/Berlin 0 9 * * *",
		Spec(&models.Schedule{Crontab: "0 9 * * *", Timezone: "Europe/Berlin"}))
}

func TestSync(t *testing.T) {
	src := &fakeSource{schedules: []*models.Schedule{
		{ID: 1, Active: true, Crontab: "0 9 * * *"},
		{ID: 2, Active: true, Crontab: "*/5 * * * *", Timezone: "America/New_York"},
		{ID: 3, Active: false, Crontab: "0 9 * * *"},
		{ID: 4, Active: true, Crontab: "not a crontab"},
	}}
	s := New(Config{Enabled: true}, &fakeRunner{}, src, &fakePruner{}, nil)
	ctx := context.Background()

	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 2, s.Registered())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SchedulerRegistered))
	first := s.entries[1].id

	// A changed crontab is re-registered; a deactivated schedule is dropped.
	src.schedules[0].Crontab = "0 10 * * *"
	src.schedules[1].Active = false
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.Registered())
	assert.NotEqual(t, first, s.entries[1].id)
	assert.Equal(t, "0 10 * * *", s.entries[1].spec)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSync_ListError(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, &fakeSource{err: errors.New("db gone")}, &fakePruner{}, nil)
	require.Error(t, s.Sync(context.Background()))
}

func TestTrigger_SkipsWhenWorkersBusy(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(Config{MaxWorkers: 1, SoftTimeout: time.Minute}, runner, &fakeSource{}, &fakePruner{}, nil)

	done := make(chan struct{})
	go func() {
		s.trigger(1)
		close(done)
	}()
	require.Eventually(t, func() bool { return runner.calls() == 1 }, time.Second, 5*time.Millisecond)

	before := testutil.ToFloat64(metrics.SchedulerSkippedTotal)
	s.trigger(2)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SchedulerSkippedTotal))
	assert.Equal(t, 1, runner.calls())

	close(runner.block)
	<-done
	s.trigger(3)
	assert.Equal(t, 2, runner.calls())
}

func TestTrigger_SoftTimeout(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(Config{SoftTimeout: 20 * time.Millisecond}, runner, &fakeSource{}, &fakePruner{}, nil)
	fixed := time.Date(2026, 3, 2, 9, 0, 42, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.trigger(7)

	require.Len(t, runner.errs, 1)
	assert.ErrorIs(t, runner.errs[0], context.DeadlineExceeded)
	assert.Equal(t, int64(7), runner.reqs[0].ScheduleID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), runner.reqs[0].ScheduledAt)
}

func TestPrune(t *testing.T) {
	src := &fakeSource{schedules: []*models.Schedule{
		{ID: 1, LogRetention: 90},
		{ID: 2, LogRetention: 0},
		{ID: 3, LogRetention: 1, Active: true},
	}}
	pruner := &fakePruner{cutoffs: map[int64]time.Time{}}
	s := New(Config{}, &fakeRunner{}, src, pruner, nil)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, now.AddDate(0, 0, -90), pruner.cutoffs[1])
	assert.Equal(t, now.AddDate(0, 0, -1), pruner.cutoffs[3])
	assert.NotContains(t, pruner.cutoffs, int64(2))
}

func TestStart_Disabled(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeRunner{}, &fakeSource{}, &fakePruner{}, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 0, s.Registered())
}

func TestStart_StopsWithContext(t *testing.T) {
	src := &fakeSource{schedules: []*models.Schedule{{ID: 1, Active: true, Crontab: "0 9 * * *"}}}
	s := New(Config{Enabled: true}, &fakeRunner{}, src, &fakePruner{cutoffs: map[int64]time.Time{}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 1, s.Registered())
	assert.Len(t, s.cron.Entries(), 3)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
