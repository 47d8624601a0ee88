// Package telemetry carries structured classification events to an
// injected observer. Nothing in the classifier logs through a global.
package telemetry

import (
	"sync"
)

type Stage string

const (
	StageL1      Stage = "l1_select"
	StageLeaf    Stage = "leaf_select"
	StageCombine Stage = "combine"
	StageFinal   Stage = "final_select"
	StageResolve Stage = "resolve_path"
	StageDone    Stage = "done"
)

type Kind string

const (
	Started       Kind = "started"
	Completed     Kind = "completed"
	Skipped       Kind = "skipped"
	Degraded      Kind = "degraded"
	Hallucination Kind = "hallucination"
	ParseFallback Kind = "parse_fallback"
	Failed        Kind = "failed"
)

// Event describes one step of a classification call. Unused fields are
// left at their zero value.
type Event struct {
	Stage    Stage
	Kind     Kind
	Product  string
	Branch   int
	Offered  int
	Accepted int
	Rejected int
	Label    string
	Detail   string
	Err      error
}

type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// Multi forwards each event to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.Observe(e)
		}
	})
}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// Recorder keeps every event it sees. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events match stage and kind. An empty
// stage matches any stage.
func (r *Recorder) Count(stage Stage, kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if (stage == "" || e.Stage == stage) && e.Kind == kind {
			n++
		}
	}
	return n
}

// Totals tallies events across many classification calls for a run summary.
type Totals struct {
	mu             sync.Mutex
	Hallucinations int
	Degraded       int
	ParseFallbacks int
	Failures       int
}

func (t *Totals) Observe(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Kind {
	case Hallucination:
		t.Hallucinations += e.Rejected
	case Degraded:
		t.Degraded++
	case ParseFallback:
		t.ParseFallbacks++
	case Failed:
		t.Failures++
	}
}

// Snapshot copies the counters.
func (t *Totals) Snapshot() (hallucinations, degraded, parseFallbacks, failures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Hallucinations, t.Degraded, t.ParseFallbacks, t.Failures
}
