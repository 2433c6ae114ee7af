// Package event defines the stream of probe results and liveness
// transitions that reporters consume.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

// Kind identifies what an Event carries.
type Kind string

const (
	KindProbeResult   Kind = "probe_result"
	KindTransition    Kind = "transition"
	KindOverrun       Kind = "probe_overrun"
	KindInternalError Kind = "probe_internal_error"
)

// Event is one item of the reporter stream. ID is unique per event so
// consumers can drop redeliveries.
type Event struct {
	ID         string
	Kind       Kind
	TargetID   string
	At         time.Time
	Result     *probe.Result
	Transition *registry.Transition
	Overruns   int64
	Error      string
}

// Reporter consumes events. Report is called from a single goroutine per
// reporter, in publication order.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

// ProbeResult wraps a completed probe.
func ProbeResult(r probe.Result) Event {
	return Event{ID: uuid.NewString(), Kind: KindProbeResult, TargetID: r.TargetID, At: r.At, Result: &r}
}

// Transition wraps a state change.
func Transition(tr registry.Transition) Event {
	return Event{ID: uuid.NewString(), Kind: KindTransition, TargetID: tr.ID, At: tr.At, Transition: &tr}
}

// Overrun reports a tick skipped because the target's previous probe was
// still pending. total is the running count for the target.
func Overrun(targetID string, at time.Time, total int64) Event {
	return Event{ID: uuid.NewString(), Kind: KindOverrun, TargetID: targetID, At: at, Overruns: total}
}

// InternalError reports a fault in the probing mechanism itself.
func InternalError(r probe.Result) Event {
	return Event{ID: uuid.NewString(), Kind: KindInternalError, TargetID: r.TargetID, At: r.At, Result: &r, Error: r.Error}
}
