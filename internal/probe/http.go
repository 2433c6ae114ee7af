package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

type httpProber struct {
	client *http.Client
}

// NewHTTP returns a Prober that issues a GET and expects a 2xx or 3xx status.
func NewHTTP() Prober {
	return &httpProber{client: &http.Client{}}
}

func (p *httpProber) Probe(ctx context.Context, address string, timeout time.Duration) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return Failure(ReasonInternal, "creating request: %v", err)
	}

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Failure(Classify(err), "%v", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Failure(ReasonUnreachable, "unexpected status %d", resp.StatusCode)
	}
	return Success(latency)
}
