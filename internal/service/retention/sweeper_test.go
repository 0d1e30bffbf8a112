package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockPruner struct {
	deleteFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockPruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.deleteFn(ctx, cutoff)
}

var testNow = time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

func TestSweep_Cutoff(t *testing.T) {
	var got time.Time
	s := New(&mockPruner{deleteFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
		got = cutoff
		return 42, nil
	}}, 7*24*time.Hour)
	s.now = func() time.Time { return testNow }

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("deleted = %d, want 42", n)
	}
	want := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}

func TestSweep_Error(t *testing.T) {
	dbErr := errors.New("db down")
	s := New(&mockPruner{deleteFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
		return 0, dbErr
	}}, time.Hour)

	n, err := s.Sweep(context.Background())
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want %v", err, dbErr)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

func TestSweep_Serialized(t *testing.T) {
	var active, peak atomic.Int32
	s := New(&mockPruner{deleteFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return 0, nil
	}}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sweep(context.Background())
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent sweeps = %d, want 1", p)
	}
}

func TestRun_LogsErrors(t *testing.T) {
	called := false
	s := New(&mockPruner{deleteFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Run should bound the sweep with a deadline")
		}
		return 0, errors.New("boom")
	}}, time.Hour)

	s.Run()
	if !called {
		t.Error("Run did not sweep")
	}
}
