// Package registry holds the set of monitored targets and computes their
// liveness transitions from probe results.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hazz-dev/pingmon/internal/probe"
)

// DefaultFailureThreshold is used when New is given a threshold below 1.
const DefaultFailureThreshold = 1

type record struct {
	mu      sync.Mutex
	rec     Record
	removed bool
}

// Registry owns every target record. The map is guarded by one RWMutex and
// each record by its own mutex, so updates for different targets proceed in
// parallel.
type Registry struct {
	mu               sync.RWMutex
	records          map[string]*record
	failureThreshold int
}

// New creates an empty Registry. failureThreshold is applied to targets
// registered without one.
func New(failureThreshold int) *Registry {
	if failureThreshold < 1 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Registry{
		records:          make(map[string]*record),
		failureThreshold: failureThreshold,
	}
}

// FailureThreshold returns the default applied to new targets.
func (r *Registry) FailureThreshold() int {
	return r.failureThreshold
}

// Register adds t in state unknown.
func (r *Registry) Register(t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.FailureThreshold == 0 {
		t.FailureThreshold = r.failureThreshold
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[t.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, t.ID)
	}
	r.records[t.ID] = &record{rec: Record{Target: t, State: StateUnknown}}
	return nil
}

// Deregister removes the target. Removing an absent id is a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()

	if ok {
		rec.mu.Lock()
		rec.removed = true
		rec.mu.Unlock()
	}
}

// Reconfigure changes the mutable fields of a target and returns the result.
func (r *Registry) Reconfigure(id string, u Update) (Target, error) {
	rec := r.lookup(id)
	if rec == nil {
		return Target{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return Target{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	t := rec.rec.Target
	if u.Interval != 0 {
		t.Interval = u.Interval
	}
	if u.Timeout != 0 {
		t.Timeout = u.Timeout
	}
	if u.FailureThreshold != 0 {
		t.FailureThreshold = u.FailureThreshold
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	rec.rec.Target = t
	return t, nil
}

// Apply folds a probe result into its target's record. It returns a
// Transition only when the state changed. Results for unknown or removed
// targets yield ErrNotFound and results older than the last applied one
// yield ErrStale; neither mutates anything.
func (r *Registry) Apply(res probe.Result) (*Transition, error) {
	rec := r.lookup(res.TargetID)
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, res.TargetID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, res.TargetID)
	}

	cur := &rec.rec
	if res.At.Before(cur.LastApplied) {
		return nil, fmt.Errorf("%w: %q at %s", ErrStale, res.TargetID, res.At)
	}

	cur.LastApplied = res.At
	cur.Probes++
	next := cur.State
	if res.Success {
		cur.Successes++
		cur.ConsecutiveFailures = 0
		cur.LastLatency = res.Latency
		cur.LastReason = probe.ReasonNone
		cur.LastError = ""
		next = StateUp
	} else {
		cur.ConsecutiveFailures++
		cur.LastLatency = 0
		cur.LastReason = res.Reason
		cur.LastError = res.Error
		if cur.ConsecutiveFailures >= cur.Target.FailureThreshold {
			next = StateDown
		}
	}

	if next == cur.State {
		return nil, nil
	}
	tr := &Transition{ID: res.TargetID, From: cur.State, To: next, At: res.At}
	cur.State = next
	cur.LastTransition = res.At
	return tr, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	rec := r.lookup(id)
	if rec == nil {
		return Record{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return Record{}, false
	}
	return rec.rec, true
}

// Snapshot returns copies of all records ordered by target id.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.removed {
			out = append(out, rec.rec)
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.ID < out[j].Target.ID })
	return out
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) lookup(id string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}
