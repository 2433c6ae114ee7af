package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazz-dev/pingmon/internal/probe"
)

// State is the liveness state of a target.
type State string

const (
	StateUnknown State = "unknown"
	StateUp      State = "up"
	StateDown    State = "down"
)

var (
	ErrDuplicateID   = errors.New("target id already registered")
	ErrNotFound      = errors.New("target not found")
	ErrInvalidTarget = errors.New("invalid target")
	ErrStale         = errors.New("probe result older than last applied")
)

// Code returns the result code reported to callers for a registry error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateID):
		return "DUPLICATE_ID"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTarget):
		return "INVALID_TARGET"
	case errors.Is(err, ErrStale):
		return "STALE"
	default:
		return "INTERNAL"
	}
}

// Target identifies one monitored endpoint.
type Target struct {
	ID               string
	Address          string
	Prober           string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// Validate reports the first field that makes t unschedulable. A zero
// FailureThreshold is accepted and means "registry default".
func (t Target) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTarget)
	case t.Address == "":
		return fmt.Errorf("%w: target %q: address is required", ErrInvalidTarget, t.ID)
	case t.Interval <= 0:
		return fmt.Errorf("%w: target %q: interval must be positive", ErrInvalidTarget, t.ID)
	case t.Timeout <= 0:
		return fmt.Errorf("%w: target %q: timeout must be positive", ErrInvalidTarget, t.ID)
	case t.Timeout > t.Interval:
		return fmt.Errorf("%w: target %q: timeout %s exceeds interval %s", ErrInvalidTarget, t.ID, t.Timeout, t.Interval)
	case t.FailureThreshold < 0:
		return fmt.Errorf("%w: target %q: failure_threshold must be at least 1", ErrInvalidTarget, t.ID)
	}
	return nil
}

// Update holds the mutable target fields. Zero values leave a field unchanged.
type Update struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// Record is a point-in-time copy of a target and its liveness.
type Record struct {
	Target              Target
	State               State
	LastTransition      time.Time
	ConsecutiveFailures int
	LastApplied         time.Time
	LastLatency         time.Duration
	LastReason          probe.Reason
	LastError           string
	Probes              int64
	Successes           int64
}

// Availability returns the percentage of successful probes since registration.
func (r Record) Availability() float64 {
	if r.Probes == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Probes) * 100
}

// Transition is a change of liveness state caused by one probe result.
type Transition struct {
	ID   string
	From State
	To   State
	At   time.Time
}
