// Package probe performs single reachability checks against an address and
// classifies their failures.
package probe

import (
	"context"
	"fmt"
	"time"
)

// Reason classifies why a probe failed.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonTimeout      Reason = "TIMEOUT"
	ReasonUnresolvable Reason = "UNRESOLVABLE"
	ReasonUnreachable  Reason = "UNREACHABLE"
	ReasonInternal     Reason = "INTERNAL"
)

// Prober kinds accepted by New.
const (
	KindPing = "ping"
	KindTCP  = "tcp"
	KindHTTP = "http"
	KindDNS  = "dns"
)

// Result is the outcome of a single probe attempt.
//
// Probers only fill Success, Latency, Reason and Error. Run stamps Address
// and At; the scheduler stamps ProbeID and TargetID.
type Result struct {
	ProbeID  string
	TargetID string
	Address  string
	At       time.Time
	Success  bool
	Latency  time.Duration
	Reason   Reason
	Error    string
}

// Prober performs one reachability check. Implementations must be safe for
// concurrent use and should return once ctx is done.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) Result
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, address string, timeout time.Duration) Result

func (f ProberFunc) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	return f(ctx, address, timeout)
}

// Success returns a successful Result with the given latency.
func Success(latency time.Duration) Result {
	if latency < 0 {
		latency = 0
	}
	return Result{Success: true, Latency: latency}
}

// Failure returns a failed Result with a formatted error detail.
func Failure(reason Reason, format string, args ...any) Result {
	return Result{Reason: reason, Error: fmt.Sprintf(format, args...)}
}

// ValidKind reports whether New knows how to build a prober of this kind.
func ValidKind(kind string) bool {
	switch kind {
	case KindPing, KindTCP, KindHTTP, KindDNS:
		return true
	}
	return false
}

// New returns the Prober for the given kind.
func New(kind string) (Prober, error) {
	switch kind {
	case KindPing:
		return NewPing(), nil
	case KindTCP:
		return NewTCP(), nil
	case KindHTTP:
		return NewHTTP(), nil
	case KindDNS:
		return NewDNS(), nil
	default:
		return nil, fmt.Errorf("unknown prober kind %q", kind)
	}
}
