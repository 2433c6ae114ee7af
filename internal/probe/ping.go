package probe

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// CommandExecutor abstracts os/exec for testability.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type pingProber struct {
	executor CommandExecutor
	goos     string
}

// NewPing returns a Prober that shells out to the system ping binary.
func NewPing() Prober {
	return &pingProber{executor: &osExecutor{}, goos: runtime.GOOS}
}

// NewPingWithExecutor creates a ping prober with a custom executor (for testing).
func NewPingWithExecutor(exec CommandExecutor) Prober {
	return &pingProber{executor: exec, goos: "linux"}
}

var rttRegex = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

var unresolvableMarkers = []string{
	"unknown host",
	"cannot resolve",
	"name or service not known",
	"could not find host",
	"temporary failure in name resolution",
	"no address associated with hostname",
}

func pingArgs(goos, address string, timeout time.Duration) []string {
	switch goos {
	case "windows":
		ms := timeout.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		return []string{"-n", "1", "-w", strconv.FormatInt(ms, 10), address}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", "1", "-t", strconv.Itoa(timeoutSeconds(timeout)), address}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(timeoutSeconds(timeout)), address}
	}
}

func timeoutSeconds(timeout time.Duration) int {
	sec := int(math.Ceil(timeout.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (p *pingProber) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	stdout, stderr, err := p.executor.Run(ctx, "ping", pingArgs(p.goos, address, timeout)...)
	if err != nil {
		return classifyPing(ctx, address, stdout, stderr, err)
	}

	matches := rttRegex.FindSubmatch(stdout)
	if matches == nil {
		return Failure(ReasonInternal, "could not parse RTT from ping output")
	}

	ms, _ := strconv.ParseFloat(string(matches[1]), 64)
	return Success(time.Duration(ms * float64(time.Millisecond)))
}

func classifyPing(ctx context.Context, address string, stdout, stderr []byte, err error) Result {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Failure(ReasonTimeout, "no reply from %s", address)
		}
		return Failure(ReasonInternal, "ping %s: %v", address, ctx.Err())
	}
	if errors.Is(err, exec.ErrNotFound) {
		return Failure(ReasonInternal, "ping binary not available: %v", err)
	}

	out := strings.ToLower(string(stdout) + "\n" + string(stderr))
	for _, m := range unresolvableMarkers {
		if strings.Contains(out, m) {
			return Failure(ReasonUnresolvable, "ping %s: cannot resolve host", address)
		}
	}
	if strings.Contains(out, "unreachable") {
		return Failure(ReasonUnreachable, "ping %s: destination unreachable", address)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Failure(ReasonTimeout, "no reply from %s (%v)", address, err)
	}
	return Failure(ReasonInternal, "ping %s: %v", address, err)
}
