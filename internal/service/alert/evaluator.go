package alert

import (
	"sync"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

type State int

const (
	Healthy State = iota
	Degrading
	Alerted
)

func (s State) String() string {
	switch s {
	case Degrading:
		return "degrading"
	case Alerted:
		return "alerted"
	default:
		return "healthy"
	}
}

// Kind is the outward event a transition produces, if any.
type Kind int

const (
	None Kind = iota
	Alert
	Recovery
)

func (k Kind) String() string {
	switch k {
	case Alert:
		return "alert"
	case Recovery:
		return "recovery"
	default:
		return "none"
	}
}

type Transition struct {
	From    State
	To      State
	Counter int
	Kind    Kind
}

type entry struct {
	mu      sync.Mutex
	state   State
	counter int
}

// Evaluator owns the per-monitor consecutive-failure state. Calls for the
// same monitor are serialized on that monitor's entry; different monitors
// evaluate in parallel.
type Evaluator struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

func NewEvaluator() *Evaluator {
	return &Evaluator{entries: make(map[int64]*entry)}
}

func (e *Evaluator) entry(monitorID int64) *entry {
	e.mu.RLock()
	en, ok := e.entries[monitorID]
	e.mu.RUnlock()
	if ok {
		return en
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[monitorID]; ok {
		return en
	}
	en = &entry{}
	e.entries[monitorID] = en
	return en
}

// Evaluate feeds one observation status into the monitor's state machine.
// Thresholds below 1 are treated as 1.
func (e *Evaluator) Evaluate(monitorID int64, threshold int, status model.Status) Transition {
	if threshold < 1 {
		threshold = 1
	}

	en := e.entry(monitorID)
	en.mu.Lock()
	defer en.mu.Unlock()

	t := Transition{From: en.state}

	if status == model.StatusUp {
		if en.state == Alerted {
			t.Kind = Recovery
		}
		en.state = Healthy
		en.counter = 0
		t.To, t.Counter = en.state, en.counter
		return t
	}

	if en.state == Alerted {
		t.To, t.Counter = Alerted, en.counter
		return t
	}

	en.counter++
	if en.counter >= threshold {
		en.counter = threshold
		en.state = Alerted
		t.Kind = Alert
	} else {
		en.state = Degrading
	}
	t.To, t.Counter = en.state, en.counter
	return t
}

// Restore rebuilds state from each monitor's newest statuses by counting the
// leading run of DOWNs, capped at the threshold. It does not emit events.
func (e *Evaluator) Restore(histories []model.StatusHistory) {
	for _, h := range histories {
		threshold := h.Threshold
		if threshold < 1 {
			threshold = 1
		}

		downs := 0
		for _, s := range h.Statuses {
			if s != model.StatusDown || downs == threshold {
				break
			}
			downs++
		}

		en := e.entry(h.MonitorID)
		en.mu.Lock()
		en.counter = downs
		switch {
		case downs == 0:
			en.state = Healthy
		case downs >= threshold:
			en.state = Alerted
		default:
			en.state = Degrading
		}
		en.mu.Unlock()
	}
}

// State returns the monitor's current state and failure counter.
func (e *Evaluator) State(monitorID int64) (State, int) {
	e.mu.RLock()
	en, ok := e.entries[monitorID]
	e.mu.RUnlock()
	if !ok {
		return Healthy, 0
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.state, en.counter
}

// AlertedCount returns how many of ids are currently Alerted.
func (e *Evaluator) AlertedCount(ids []int64) int {
	n := 0
	for _, id := range ids {
		if s, _ := e.State(id); s == Alerted {
			n++
		}
	}
	return n
}

// Forget drops a monitor's state, e.g. after it is deactivated.
func (e *Evaluator) Forget(monitorID int64) {
	e.mu.Lock()
	delete(e.entries, monitorID)
	e.mu.Unlock()
}
