package probe

import (
	"context"
	"errors"
	"time"
)

// ErrPanic marks a Result produced from a recovered prober panic.
var ErrPanic = errors.New("prober panicked")

// Run invokes p with a deadline of timeout and never blocks past it, even
// when p ignores its context. A panic inside p is recovered and reported as
// an INTERNAL failure.
func Run(ctx context.Context, p Prober, address string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- Failure(ReasonInternal, "%v: %v", ErrPanic, v)
			}
		}()
		done <- p.Probe(ctx, address, timeout)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = expired(ctx, timeout)
	}

	res.Address = address
	res.At = start
	if res.Success {
		if time.Since(start) > timeout || res.Latency > timeout {
			// Answered, but too late to count.
			return Result{Address: address, At: start, Reason: ReasonTimeout, Error: "no response within " + timeout.String()}
		}
		res.Reason = ReasonNone
		res.Error = ""
		if res.Latency < 0 {
			res.Latency = 0
		}
		return res
	}
	res.Latency = 0
	if res.Reason == ReasonNone {
		res.Reason = ReasonInternal
	}
	return res
}

func expired(ctx context.Context, timeout time.Duration) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failure(ReasonTimeout, "no response within %s", timeout)
	}
	return Failure(ReasonInternal, "probe cancelled: %v", ctx.Err())
}
