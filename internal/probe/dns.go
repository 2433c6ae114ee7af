package probe

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

// Resolver is the subset of *net.Resolver the dns prober uses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type dnsProber struct {
	resolver Resolver
}

// NewDNS returns a Prober that succeeds when the name resolves to at least
// one address.
func NewDNS() Prober {
	return &dnsProber{resolver: net.DefaultResolver}
}

// NewDNSWithResolver creates a dns prober with a custom resolver (for testing).
func NewDNSWithResolver(r Resolver) Prober {
	return &dnsProber{resolver: r}
}

func (p *dnsProber) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	host := extractHost(address)
	if host == "" {
		return Failure(ReasonUnresolvable, "invalid name %q", address)
	}

	start := time.Now()
	addrs, err := p.resolver.LookupIPAddr(ctx, host)
	latency := time.Since(start)
	if err != nil {
		reason := Classify(err)
		if reason == ReasonInternal {
			reason = ReasonUnresolvable
		}
		return Failure(reason, "resolving %s: %v", host, err)
	}
	if len(addrs) == 0 {
		return Failure(ReasonUnresolvable, "%s has no A or AAAA records", host)
	}
	return Success(latency)
}

func extractHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return h
	}
	return raw
}
