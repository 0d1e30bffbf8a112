package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uptimewatch/uptimewatch/internal/metrics"
	"github.com/uptimewatch/uptimewatch/internal/model"
	"github.com/uptimewatch/uptimewatch/internal/service/alert"
	"github.com/uptimewatch/uptimewatch/internal/service/notify"
)

var ErrCheckInFlight = errors.New("a check for this monitor is already in progress")

// ErrNotReady is returned while alert state has not been restored from
// storage, since evaluating against empty state would emit false alerts or
// recoveries.
var ErrNotReady = errors.New("alert state not restored")

const notifyTimeout = 30 * time.Second

type monitorDirectory interface {
	ListDue(ctx context.Context, now time.Time) ([]model.Monitor, error)
	MarkChecked(ctx context.Context, id int64, at time.Time) error
}

type checker interface {
	Check(ctx context.Context, m model.Monitor) (*model.Observation, error)
}

type evaluator interface {
	Evaluate(monitorID int64, threshold int, status model.Status) alert.Transition
	Restore(histories []model.StatusHistory)
}

type alertStore interface {
	Append(ctx context.Context, a *model.Alert) error
}

type historyStore interface {
	RecentStatuses(ctx context.Context) ([]model.StatusHistory, error)
}

type publisher interface {
	PublishObservation(m model.Monitor, o *model.Observation)
	PublishAlert(m model.Monitor, a *model.Alert, failures int)
	PublishRecovery(m model.Monitor, o *model.Observation)
}

type Config struct {
	Interval               time.Duration
	PoolSize               int
	DefaultThreshold       int
	DefaultIntervalMinutes int
}

// SweepResult summarizes one tick.
type SweepResult struct {
	Skipped   bool          `json:"skipped"`
	Due       int           `json:"due"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

type Status struct {
	Running   bool         `json:"running"`
	Sweeping  bool         `json:"sweeping"`
	InFlight  int          `json:"in_flight"`
	LastSweep *SweepResult `json:"last_sweep"`
}

// Scheduler drives sweeps over due monitors. At most one sweep runs at a
// time and a monitor is never checked by two goroutines at once.
type Scheduler struct {
	monitors  monitorDirectory
	checker   checker
	evaluator evaluator
	alerts    alertStore
	history   historyStore
	publisher publisher
	notifier  notify.Notifier
	cfg       Config
	now       func() time.Time

	running  atomic.Bool
	sweeping atomic.Bool
	restored atomic.Bool

	restoreMu sync.Mutex

	mu       sync.Mutex
	inFlight map[int64]struct{}
	last     *SweepResult

	// ticks is drained by Run itself. notifications is guarded by notifyMu
	// so Add never races a concurrent Wait.
	ticks         sync.WaitGroup
	notifyMu      sync.Mutex
	notifications sync.WaitGroup
}

func New(
	monitors monitorDirectory,
	chk checker,
	eval evaluator,
	alerts alertStore,
	history historyStore,
	pub publisher,
	notifier notify.Notifier,
	cfg Config,
) *Scheduler {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.DefaultThreshold < 1 {
		cfg.DefaultThreshold = 3
	}
	if cfg.DefaultIntervalMinutes < 1 {
		cfg.DefaultIntervalMinutes = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		monitors:  monitors,
		checker:   chk,
		evaluator: eval,
		alerts:    alerts,
		history:   history,
		publisher: pub,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		inFlight:  make(map[int64]struct{}),
	}
}

// RestoreState seeds the alert evaluator from persisted observations.
func (s *Scheduler) RestoreState(ctx context.Context) error {
	histories, err := s.history.RecentStatuses(ctx)
	if err != nil {
		return fmt.Errorf("load recent statuses: %w", err)
	}
	s.evaluator.Restore(histories)
	s.restored.Store(true)
	slog.Info("alert state restored", "monitors", len(histories))
	return nil
}

func (s *Scheduler) ensureRestored(ctx context.Context) error {
	if s.restored.Load() {
		return nil
	}
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if s.restored.Load() {
		return nil
	}
	if err := s.RestoreState(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// Run ticks immediately and then on every interval until ctx is canceled.
// Each tick runs on its own goroutine so a long sweep makes later ticks
// skip rather than queue. Run returns after in-flight work has drained.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	slog.Info("scheduler started", "interval", s.cfg.Interval, "pool_size", s.cfg.PoolSize)

	s.spawnTick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.ticks.Wait()
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.spawnTick(ctx)
		}
	}
}

func (s *Scheduler) spawnTick(ctx context.Context) {
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("scheduler tick panicked", "error", r, "stack", string(debug.Stack()))
			}
		}()
		s.Tick(ctx)
	}()
}

// Tick performs one sweep, or reports Skipped if another sweep is running.
func (s *Scheduler) Tick(ctx context.Context) (res SweepResult) {
	started := s.now()
	if !s.sweeping.CompareAndSwap(false, true) {
		metrics.RecordSweep("skipped")
		slog.Warn("previous sweep still running, skipping tick")
		return SweepResult{Skipped: true, StartedAt: started}
	}
	metrics.SetSweepInProgress(true)
	defer func() {
		s.sweeping.Store(false)
		metrics.SetSweepInProgress(false)
	}()

	res = SweepResult{StartedAt: started}
	defer func() {
		res.Duration = s.now().Sub(started)
		s.mu.Lock()
		last := res
		s.last = &last
		s.mu.Unlock()
	}()

	if err := s.ensureRestored(ctx); err != nil {
		metrics.RecordSweep("failed")
		slog.Error("sweep skipped, alert state unavailable", "error", err)
		res.Error = err.Error()
		return res
	}

	candidates, err := s.monitors.ListDue(ctx, started)
	if err != nil {
		metrics.RecordSweep("failed")
		slog.Error("failed to list due monitors", "error", err)
		res.Error = err.Error()
		return res
	}

	due := make([]model.Monitor, 0, len(candidates))
	for _, m := range candidates {
		m = s.withDefaults(m)
		if m.IsDue(started) {
			due = append(due, m)
		}
	}
	res.Due = len(due)

	var completed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.PoolSize)
	for _, m := range due {
		g.Go(func() error {
			if _, err := s.checkMonitor(ctx, m); err != nil {
				failed.Add(1)
			} else {
				completed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Completed = int(completed.Load())
	res.Failed = int(failed.Load())
	metrics.RecordSweep("completed")
	slog.Info("sweep finished",
		"due", res.Due, "completed", res.Completed, "failed", res.Failed,
		"duration", s.now().Sub(started))
	return res
}

// CheckNow runs the pipeline for one monitor outside the sweep cadence.
func (s *Scheduler) CheckNow(ctx context.Context, m model.Monitor) (*model.Observation, error) {
	if err := s.ensureRestored(ctx); err != nil {
		return nil, err
	}
	return s.checkMonitor(ctx, s.withDefaults(m))
}

func (s *Scheduler) checkMonitor(ctx context.Context, m model.Monitor) (obs *model.Observation, err error) {
	if !s.claim(m.ID) {
		slog.Warn("check already in flight", "monitor_id", m.ID)
		return nil, ErrCheckInFlight
	}
	defer s.release(m.ID)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor check panicked", "monitor_id", m.ID, "error", r, "stack", string(debug.Stack()))
			obs, err = nil, fmt.Errorf("monitor %d: panic: %v", m.ID, r)
		}
	}()

	return s.runPipeline(ctx, m)
}

// runPipeline probes one monitor and applies the consequences in order:
// observation, checkpoint, evaluation, alert row, events, notification.
func (s *Scheduler) runPipeline(ctx context.Context, m model.Monitor) (*model.Observation, error) {
	obs, err := s.checker.Check(ctx, m)
	if err != nil {
		slog.Error("observation not recorded, skipping monitor", "monitor_id", m.ID, "error", err)
		return nil, err
	}

	if err := s.monitors.MarkChecked(ctx, m.ID, obs.CheckedAt); err != nil {
		slog.Warn("failed to mark monitor checked", "monitor_id", m.ID, "error", err)
	}

	tr := s.evaluator.Evaluate(m.ID, m.AlertThreshold, obs.Status)

	var a *model.Alert
	if tr.Kind == alert.Alert {
		a = &model.Alert{
			MonitorID:   m.ID,
			Reason:      fmt.Sprintf("%d consecutive failed checks", tr.Counter),
			Error:       obs.Error,
			TriggeredAt: obs.CheckedAt,
		}
		if err := s.alerts.Append(ctx, a); err != nil {
			slog.Error("failed to persist alert", "monitor_id", m.ID, "error", err)
		}
	}

	s.publisher.PublishObservation(m, obs)

	switch tr.Kind {
	case alert.Alert:
		metrics.RecordAlert(tr.Kind.String())
		slog.Warn("monitor alerted", "monitor_id", m.ID, "url", m.URL, "failures", tr.Counter)
		s.publisher.PublishAlert(m, a, tr.Counter)
		alertCopy := *a
		s.notifyAsync(m.ID, func(ctx context.Context) error {
			return s.notifier.NotifyAlert(ctx, m, alertCopy)
		})
	case alert.Recovery:
		metrics.RecordAlert(tr.Kind.String())
		slog.Info("monitor recovered", "monitor_id", m.ID, "url", m.URL)
		s.publisher.PublishRecovery(m, obs)
		obsCopy := *obs
		s.notifyAsync(m.ID, func(ctx context.Context) error {
			return s.notifier.NotifyRecovery(ctx, m, obsCopy)
		})
	}

	return obs, nil
}

// notifyAsync delivers a notification off the probe path. It uses its own
// context so a finished sweep does not cancel delivery.
func (s *Scheduler) notifyAsync(monitorID int64, send func(ctx context.Context) error) {
	s.notifyMu.Lock()
	s.notifications.Add(1)
	s.notifyMu.Unlock()
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil && !errors.Is(err, notify.ErrNoRecipient) {
			slog.Error("failed to send notification", "monitor_id", monitorID, "error", err)
		}
	}()
}

func (s *Scheduler) withDefaults(m model.Monitor) model.Monitor {
	if m.AlertThreshold < 1 {
		m.AlertThreshold = s.cfg.DefaultThreshold
	}
	if m.IntervalMinutes < 1 {
		m.IntervalMinutes = s.cfg.DefaultIntervalMinutes
	}
	return m
}

func (s *Scheduler) claim(monitorID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[monitorID]; ok {
		return false
	}
	s.inFlight[monitorID] = struct{}{}
	return true
}

func (s *Scheduler) release(monitorID int64) {
	s.mu.Lock()
	delete(s.inFlight, monitorID)
	s.mu.Unlock()
}

// Running reports whether the Run loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Sweeping reports whether a sweep is in progress.
func (s *Scheduler) Sweeping() bool {
	return s.sweeping.Load()
}

// LastSweep returns the most recent non-skipped sweep.
func (s *Scheduler) LastSweep() (SweepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SweepResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{InFlight: len(s.inFlight)}
	if s.last != nil {
		last := *s.last
		st.LastSweep = &last
	}
	s.mu.Unlock()

	st.Running = s.Running()
	st.Sweeping = s.Sweeping()
	return st
}

// Wait blocks until pending notifications have been delivered. Notifications
// queued while Wait runs are held back until it returns.
func (s *Scheduler) Wait() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifications.Wait()
}
