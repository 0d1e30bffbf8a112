package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/model"
	"github.com/uptimewatch/uptimewatch/internal/service/alert"
)

// --- mocks ---

type mockDirectory struct {
	listDueCalls  atomic.Int32
	listDueFn     func(ctx context.Context, now time.Time) ([]model.Monitor, error)
	markCheckedFn func(ctx context.Context, id int64, at time.Time) error
}

func (m *mockDirectory) ListDue(ctx context.Context, now time.Time) ([]model.Monitor, error) {
	m.listDueCalls.Add(1)
	return m.listDueFn(ctx, now)
}
func (m *mockDirectory) MarkChecked(ctx context.Context, id int64, at time.Time) error {
	if m.markCheckedFn != nil {
		return m.markCheckedFn(ctx, id, at)
	}
	return nil
}

type mockChecker struct {
	checkFn func(ctx context.Context, m model.Monitor) (*model.Observation, error)
}

func (m *mockChecker) Check(ctx context.Context, mon model.Monitor) (*model.Observation, error) {
	return m.checkFn(ctx, mon)
}

type mockAlerts struct {
	mu       sync.Mutex
	appended []model.Alert
	appendFn func(ctx context.Context, a *model.Alert) error
}

func (m *mockAlerts) Append(ctx context.Context, a *model.Alert) error {
	if m.appendFn != nil {
		if err := m.appendFn(ctx, a); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.appended) + 1)
	m.appended = append(m.appended, *a)
	return nil
}

type mockHistory struct {
	recentFn func(ctx context.Context) ([]model.StatusHistory, error)
}

func (m *mockHistory) RecentStatuses(ctx context.Context) ([]model.StatusHistory, error) {
	if m.recentFn == nil {
		return nil, nil
	}
	return m.recentFn(ctx)
}

// recorder captures published events and notifications in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) PublishObservation(m model.Monitor, o *model.Observation) {
	r.add("observation:" + string(o.Status))
}
func (r *recorder) PublishAlert(m model.Monitor, a *model.Alert, failures int) { r.add("alert") }
func (r *recorder) PublishRecovery(m model.Monitor, o *model.Observation)      { r.add("recovery") }

type mockNotifier struct {
	alerts     chan model.Alert
	recoveries chan model.Observation
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{alerts: make(chan model.Alert, 10), recoveries: make(chan model.Observation, 10)}
}

func (m *mockNotifier) NotifyAlert(ctx context.Context, mon model.Monitor, a model.Alert) error {
	m.alerts <- a
	return nil
}
func (m *mockNotifier) NotifyRecovery(ctx context.Context, mon model.Monitor, o model.Observation) error {
	m.recoveries <- o
	return nil
}

// --- helpers ---

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func monitor(id int64) model.Monitor {
	return model.Monitor{ID: id, OwnerID: 1, URL: "https://example.com", IntervalMinutes: 5, AlertThreshold: 3, IsActive: true}
}

func observation(id int64, status model.Status) *model.Observation {
	return &model.Observation{MonitorID: id, Status: status, CheckedAt: testNow}
}

func staticDue(monitors ...model.Monitor) *mockDirectory {
	return &mockDirectory{listDueFn: func(ctx context.Context, now time.Time) ([]model.Monitor, error) {
		return monitors, nil
	}}
}

type deps struct {
	dir      *mockDirectory
	checker  *mockChecker
	alerts   *mockAlerts
	rec      *recorder
	notifier *mockNotifier
	eval     *alert.Evaluator
}

func newTestScheduler(d *deps, cfg Config) *Scheduler {
	if d.alerts == nil {
		d.alerts = &mockAlerts{}
	}
	if d.rec == nil {
		d.rec = &recorder{}
	}
	if d.notifier == nil {
		d.notifier = newMockNotifier()
	}
	if d.eval == nil {
		d.eval = alert.NewEvaluator()
	}
	s := New(d.dir, d.checker, d.eval, d.alerts, &mockHistory{}, d.rec, d.notifier, cfg)
	s.now = func() time.Time { return testNow }
	return s
}

func waitChan[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel")
	}
	var zero T
	return zero
}

// --- Tick ---

func TestTick_SkipsWhileSweepRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d := &deps{
		dir: staticDue(monitor(1)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			close(entered)
			<-release
			return observation(m.ID, model.StatusUp), nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 2})

	done := make(chan SweepResult)
	go func() { done <- s.Tick(context.Background()) }()
	waitChan(t, entered)

	second := s.Tick(context.Background())
	if !second.Skipped {
		t.Fatalf("second tick = %+v, want skipped", second)
	}
	if !s.Sweeping() {
		t.Error("Sweeping() = false during first sweep")
	}

	close(release)
	first := waitChan(t, done)
	if first.Skipped || first.Completed != 1 {
		t.Errorf("first tick = %+v, want 1 completed", first)
	}
	if n := d.dir.listDueCalls.Load(); n != 1 {
		t.Errorf("ListDue called %d times, want 1", n)
	}

	if third := s.Tick(context.Background()); third.Skipped {
		t.Error("tick after completion was skipped; flag not cleared")
	}
}

func TestTick_HangingProbeDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	marked := make(chan int64, 2)
	d := &deps{
		dir: staticDue(monitor(1), monitor(2)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			if m.ID == 1 {
				<-release
			}
			return observation(m.ID, model.StatusUp), nil
		}},
	}
	d.dir.markCheckedFn = func(ctx context.Context, id int64, at time.Time) error {
		marked <- id
		return nil
	}
	s := newTestScheduler(d, Config{PoolSize: 2})

	done := make(chan SweepResult)
	go func() { done <- s.Tick(context.Background()) }()

	if id := waitChan(t, marked); id != 2 {
		t.Fatalf("first completed monitor = %d, want 2", id)
	}
	select {
	case <-done:
		t.Fatal("sweep finished while monitor 1 was still hanging")
	default:
	}

	close(release)
	res := waitChan(t, done)
	if res.Completed != 2 {
		t.Errorf("Completed = %d, want 2", res.Completed)
	}
}

func TestTick_AppendFailureSkipsMonitor(t *testing.T) {
	var marked []int64
	var mu sync.Mutex
	d := &deps{
		dir: staticDue(monitor(1), monitor(2)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			if m.ID == 1 {
				return nil, errors.New("insert failed")
			}
			return observation(m.ID, model.StatusDown), nil
		}},
	}
	d.dir.markCheckedFn = func(ctx context.Context, id int64, at time.Time) error {
		mu.Lock()
		marked = append(marked, id)
		mu.Unlock()
		return nil
	}
	s := newTestScheduler(d, Config{PoolSize: 2})

	res := s.Tick(context.Background())
	if res.Completed != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 completed 1 failed", res)
	}
	if len(marked) != 1 || marked[0] != 2 {
		t.Errorf("marked = %v, want [2]", marked)
	}
	if st, c := d.eval.State(1); st != alert.Healthy || c != 0 {
		t.Errorf("monitor 1 evaluated despite failed append: %s/%d", st, c)
	}
	if s.Sweeping() {
		t.Error("sweep flag not cleared")
	}
}

func TestTick_ListDueError(t *testing.T) {
	d := &deps{
		dir: &mockDirectory{listDueFn: func(ctx context.Context, now time.Time) ([]model.Monitor, error) {
			return nil, errors.New("connection refused")
		}},
		checker: &mockChecker{},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})

	res := s.Tick(context.Background())
	if res.Error == "" {
		t.Error("expected error in sweep result")
	}
	if s.Sweeping() {
		t.Error("sweep flag not cleared after error")
	}
	last, ok := s.LastSweep()
	if !ok || last.Error == "" {
		t.Errorf("LastSweep() = %+v, %v", last, ok)
	}
}

func TestTick_BoundedPool(t *testing.T) {
	var current, peak atomic.Int32
	monitors := make([]model.Monitor, 6)
	for i := range monitors {
		monitors[i] = monitor(int64(i + 1))
	}
	d := &deps{
		dir: staticDue(monitors...),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return observation(m.ID, model.StatusUp), nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 2})

	res := s.Tick(context.Background())
	if res.Completed != 6 {
		t.Errorf("Completed = %d, want 6", res.Completed)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestTick_AppliesDefaults(t *testing.T) {
	recent := testNow.Add(-time.Minute)
	zeroInterval := monitor(1)
	zeroInterval.IntervalMinutes = 0
	zeroInterval.LastCheckedAt = &recent

	zeroThreshold := monitor(2)
	zeroThreshold.AlertThreshold = 0

	var checked []int64
	d := &deps{
		dir: staticDue(zeroInterval, zeroThreshold),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			checked = append(checked, m.ID)
			return observation(m.ID, model.StatusDown), nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1, DefaultThreshold: 2, DefaultIntervalMinutes: 5})

	s.Tick(context.Background())
	if len(checked) != 1 || checked[0] != 2 {
		t.Fatalf("checked = %v, want only monitor 2", checked)
	}
	if len(d.alerts.appended) != 0 {
		t.Fatal("alert after one DOWN with default threshold 2")
	}

	s.Tick(context.Background())
	if len(d.alerts.appended) != 1 {
		t.Errorf("alerts = %d, want 1 after second DOWN", len(d.alerts.appended))
	}
}

// --- pipeline ---

func TestPipeline_ThresholdScenario(t *testing.T) {
	statuses := []model.Status{
		model.StatusDown, model.StatusDown, model.StatusDown,
		model.StatusUp,
		model.StatusDown, model.StatusDown,
	}
	var i int
	d := &deps{
		dir: staticDue(monitor(1)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			o := observation(m.ID, statuses[i])
			i++
			return o, nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})

	for range statuses {
		s.Tick(context.Background())
	}
	s.Wait()

	if len(d.alerts.appended) != 1 {
		t.Errorf("alerts persisted = %d, want 1", len(d.alerts.appended))
	}

	want := []string{
		"observation:DOWN", "observation:DOWN", "observation:DOWN", "alert",
		"observation:UP", "recovery",
		"observation:DOWN", "observation:DOWN",
	}
	got := d.rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	waitChan(t, d.notifier.alerts)
	waitChan(t, d.notifier.recoveries)
}

func TestPipeline_AlertRowCarriesProbeError(t *testing.T) {
	reason := "503 Service Unavailable"
	d := &deps{
		dir: staticDue(),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			o := observation(m.ID, model.StatusDown)
			o.Error = &reason
			return o, nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})

	m := monitor(5)
	m.AlertThreshold = 1
	if _, err := s.CheckNow(context.Background(), m); err != nil {
		t.Fatalf("CheckNow: %v", err)
	}
	s.Wait()

	if len(d.alerts.appended) != 1 {
		t.Fatalf("alerts = %d, want 1", len(d.alerts.appended))
	}
	a := d.alerts.appended[0]
	if a.Error == nil || *a.Error != reason || !a.TriggeredAt.Equal(testNow) {
		t.Errorf("alert = %+v", a)
	}
	if a.Reason != "1 consecutive failed checks" {
		t.Errorf("Reason = %q", a.Reason)
	}
}

func TestCheckNow_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d := &deps{
		dir: staticDue(monitor(1)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			close(entered)
			<-release
			return observation(m.ID, model.StatusUp), nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})

	done := make(chan SweepResult)
	go func() { done <- s.Tick(context.Background()) }()
	waitChan(t, entered)

	if _, err := s.CheckNow(context.Background(), monitor(1)); !errors.Is(err, ErrCheckInFlight) {
		t.Errorf("CheckNow err = %v, want ErrCheckInFlight", err)
	}
	if st := s.Status(); st.InFlight != 1 || !st.Sweeping {
		t.Errorf("Status() = %+v", st)
	}

	close(release)
	waitChan(t, done)
	if st := s.Status(); st.InFlight != 0 || st.LastSweep == nil {
		t.Errorf("Status() after sweep = %+v", st)
	}
}

func TestCheckMonitor_PanicRecovered(t *testing.T) {
	d := &deps{
		dir: staticDue(monitor(1)),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			panic("boom")
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})

	res := s.Tick(context.Background())
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if st := s.Status(); st.InFlight != 0 {
		t.Error("claim not released after panic")
	}
}

// --- lifecycle ---

func TestRun_InitialTickAndStop(t *testing.T) {
	d := &deps{
		dir:     staticDue(),
		checker: &mockChecker{},
	}
	s := newTestScheduler(d, Config{PoolSize: 1, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(time.Second)
	for d.dir.listDueCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.dir.listDueCalls.Load() == 0 {
		t.Fatal("Run did not tick immediately")
	}
	if !s.Running() {
		t.Error("Running() = false while Run is active")
	}

	cancel()
	waitChan(t, stopped)
	if s.Running() {
		t.Error("Running() = true after stop")
	}
}

func TestRestoreState(t *testing.T) {
	eval := alert.NewEvaluator()
	history := &mockHistory{recentFn: func(ctx context.Context) ([]model.StatusHistory, error) {
		return []model.StatusHistory{{
			MonitorID: 1, Threshold: 2,
			Statuses: []model.Status{model.StatusDown, model.StatusDown},
		}}, nil
	}}
	s := New(staticDue(), &mockChecker{}, eval, &mockAlerts{}, history, &recorder{}, nil, Config{})

	if err := s.RestoreState(context.Background()); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}
	if st, _ := eval.State(1); st != alert.Alerted {
		t.Errorf("state = %s, want alerted", st)
	}
}

func TestRestoreState_Error(t *testing.T) {
	history := &mockHistory{recentFn: func(ctx context.Context) ([]model.StatusHistory, error) {
		return nil, errors.New("db down")
	}}
	s := New(staticDue(), &mockChecker{}, alert.NewEvaluator(), &mockAlerts{}, history, &recorder{}, nil, Config{})

	if err := s.RestoreState(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckNow_RestoresStateFirst(t *testing.T) {
	eval := alert.NewEvaluator()
	var loads int
	history := &mockHistory{recentFn: func(ctx context.Context) ([]model.StatusHistory, error) {
		loads++
		return []model.StatusHistory{{
			MonitorID: 1, Threshold: 3,
			Statuses: []model.Status{model.StatusDown, model.StatusDown, model.StatusDown},
		}}, nil
	}}
	rec := &recorder{}
	chk := &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
		return observation(m.ID, model.StatusDown), nil
	}}
	s := New(staticDue(), chk, eval, &mockAlerts{}, history, rec, newMockNotifier(), Config{})

	for range 2 {
		if _, err := s.CheckNow(context.Background(), monitor(1)); err != nil {
			t.Fatalf("CheckNow: %v", err)
		}
	}
	if loads != 1 {
		t.Errorf("history loaded %d times, want 1", loads)
	}
	// Already alerted before the checks, so no new alert is raised.
	for _, e := range rec.snapshot() {
		if e == "alert" {
			t.Errorf("events = %v, want no alert", rec.snapshot())
		}
	}
}

func TestCheckNow_NotReadyWhenHistoryUnavailable(t *testing.T) {
	history := &mockHistory{recentFn: func(ctx context.Context) ([]model.StatusHistory, error) {
		return nil, errors.New("db down")
	}}
	chk := &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
		t.Error("check should not run before alert state is restored")
		return nil, nil
	}}
	s := New(staticDue(monitor(1)), chk, alert.NewEvaluator(), &mockAlerts{}, history, &recorder{}, nil, Config{})

	if _, err := s.CheckNow(context.Background(), monitor(1)); !errors.Is(err, ErrNotReady) {
		t.Errorf("CheckNow err = %v, want ErrNotReady", err)
	}
	if res := s.Tick(context.Background()); res.Error == "" || res.Completed != 0 {
		t.Errorf("Tick() = %+v, want failed sweep", res)
	}
}

func TestWait_ConcurrentWithManualChecks(t *testing.T) {
	d := &deps{
		dir: staticDue(),
		checker: &mockChecker{checkFn: func(ctx context.Context, m model.Monitor) (*model.Observation, error) {
			return observation(m.ID, model.StatusDown), nil
		}},
	}
	s := newTestScheduler(d, Config{PoolSize: 1})
	go func() {
		for range d.notifier.alerts {
		}
	}()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m := monitor(int64(i + 1))
			m.AlertThreshold = 1
			s.CheckNow(context.Background(), m)
		}()
		go func() {
			defer wg.Done()
			s.Wait()
		}()
	}
	wg.Wait()
	s.Wait()

	if got := len(d.alerts.appended); got != 20 {
		t.Errorf("alerts = %d, want 20", got)
	}
}
