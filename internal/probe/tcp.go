package probe

import (
	"context"
	"net"
	"time"
)

type tcpProber struct{}

// NewTCP returns a Prober that opens a TCP connection to host:port.
func NewTCP() Prober {
	return &tcpProber{}
}

func (p *tcpProber) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	start := time.Now()
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	latency := time.Since(start)
	if err != nil {
		return Failure(Classify(err), "dial tcp %s: %v", address, err)
	}
	conn.Close()
	return Success(latency)
}
