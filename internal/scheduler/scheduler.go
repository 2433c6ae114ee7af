package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// ErrStopped is returned when registering on a scheduler whose context is done.
var ErrStopped = errors.New("scheduler stopped")

// ProberFactory resolves the Prober for a target's prober kind.
type ProberFactory func(kind string) (probe.Prober, error)

// Options tunes a Scheduler. MaxInflight <= 0 leaves concurrency unbounded.
type Options struct {
	MaxInflight     int
	DefaultInterval time.Duration
	DefaultTimeout  time.Duration
}

// control is the scheduler's per-target state.
type control struct {
	id       string
	prober   probe.Prober
	cancel   context.CancelFunc
	reset    chan struct{}
	pending  atomic.Bool
	overruns atomic.Int64
}

// Scheduler probes every registered target on its own timer.
type Scheduler struct {
	registry *registry.Registry
	factory  ProberFactory
	events   event.Publisher
	slots    *semaphore.Weighted
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	stopped  bool
	controls map[string]*control

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// New creates a Scheduler. Pass nil events to drop events and nil logger to
// use the default logger.
func New(reg *registry.Registry, factory ProberFactory, events event.Publisher, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = discard{}
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	s := &Scheduler{
		registry: reg,
		factory:  factory,
		events:   events,
		opts:     opts,
		logger:   logger,
		controls: make(map[string]*control),
	}
	if opts.MaxInflight > 0 {
		// Weighted hands out slots to waiters in FIFO order.
		s.slots = semaphore.NewWeighted(int64(opts.MaxInflight))
	}
	return s
}

type discard struct{}

func (discard) Publish(event.Event) {}

// Register fills in scheduler defaults, adds the target to the registry and,
// when the scheduler is running, starts probing it immediately.
func (s *Scheduler) Register(t registry.Target) error {
	if t.Prober == "" {
		t.Prober = probe.KindPing
	}
	if t.Interval == 0 {
		t.Interval = s.opts.DefaultInterval
	}
	if t.Timeout == 0 {
		t.Timeout = min(s.opts.DefaultTimeout, t.Interval)
	}

	p, err := s.factory(t.Prober)
	if err != nil {
		return fmt.Errorf("%w: target %q: %v", registry.ErrInvalidTarget, t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if err := s.registry.Register(t); err != nil {
		return err
	}
	c := &control{id: t.ID, prober: p, reset: make(chan struct{}, 1)}
	s.controls[t.ID] = c
	if s.ctx != nil {
		s.launch(c)
	}
	return nil
}

// Deregister stops probing id and discards any in-flight result for it.
// Unknown ids are ignored.
func (s *Scheduler) Deregister(id string) {
	s.mu.Lock()
	c := s.controls[id]
	delete(s.controls, id)
	s.registry.Deregister(id)
	s.mu.Unlock()

	if c != nil && c.cancel != nil {
		c.cancel()
	}
	if c != nil {
		s.logger.Info("target deregistered", "target", id)
	}
}

// Reconfigure updates a target's interval, timeout or failure threshold.
// The change applies from the next scheduled probe.
func (s *Scheduler) Reconfigure(id string, u registry.Update) (registry.Target, error) {
	t, err := s.registry.Reconfigure(id, u)
	if err != nil {
		return t, err
	}
	s.mu.Lock()
	c := s.controls[id]
	s.mu.Unlock()
	if c != nil {
		select {
		case c.reset <- struct{}{}:
		default:
		}
	}
	return t, nil
}

// Get returns the current record for id.
func (s *Scheduler) Get(id string) (registry.Record, bool) {
	return s.registry.Get(id)
}

// Snapshot returns every record ordered by target id.
func (s *Scheduler) Snapshot() []registry.Record {
	return s.registry.Snapshot()
}

// Overruns returns how many ticks were skipped for id.
func (s *Scheduler) Overruns(id string) int64 {
	s.mu.Lock()
	c := s.controls[id]
	s.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.overruns.Load()
}

// Inflight returns the number of probes currently executing.
func (s *Scheduler) Inflight() int64 {
	return s.inflight.Load()
}

// Start begins probing every registered target. It is non-blocking;
// cancelling ctx stops all tasks.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil || s.stopped {
		return
	}
	s.ctx = ctx
	for _, c := range s.controls {
		s.launch(c)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()
}

// Wait blocks until every target task and in-flight probe has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(c *control) {
	ctx, cancel := context.WithCancel(s.ctx)
	c.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx, c)
}

func (s *Scheduler) run(ctx context.Context, c *control) {
	defer s.wg.Done()

	// Probe immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.reset:
			rec, ok := s.registry.Get(c.id)
			if !ok {
				return
			}
			if !last.IsZero() {
				timer.Reset(max(time.Until(last.Add(rec.Target.Interval)), 0))
			}
			continue
		case <-timer.C:
		}

		rec, ok := s.registry.Get(c.id)
		if !ok {
			return
		}
		last = time.Now()
		s.tick(ctx, c, rec.Target)
		timer.Reset(rec.Target.Interval)
	}
}

func (s *Scheduler) tick(ctx context.Context, c *control, t registry.Target) {
	if !c.pending.CompareAndSwap(false, true) {
		n := c.overruns.Add(1)
		s.logger.Warn("probe overrun", "target", c.id, "overruns", n)
		s.events.Publish(event.Overrun(c.id, time.Now(), n))
		return
	}
	s.wg.Add(1)
	go s.probe(ctx, c, t)
}

func (s *Scheduler) probe(ctx context.Context, c *control, t registry.Target) {
	defer s.wg.Done()
	defer c.pending.Store(false)

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.slots.Release(1)
	}

	s.inflight.Add(1)
	res := probe.Run(ctx, c.prober, t.Address, t.Timeout)
	s.inflight.Add(-1)

	if ctx.Err() != nil {
		s.logger.Debug("discarding probe result", "target", c.id, "reason", ctx.Err())
		return
	}

	res.ProbeID = uuid.NewString()
	res.TargetID = c.id
	tr, err := s.registry.Apply(res)
	if err != nil {
		s.logger.Debug("probe result not applied", "target", c.id, "error", err)
		return
	}

	s.logger.Debug("probe result",
		"target", c.id,
		"address", t.Address,
		"success", res.Success,
		"latency", res.Latency,
		"reason", res.Reason,
		"error", res.Error,
	)
	s.events.Publish(event.ProbeResult(res))

	if res.Reason == probe.ReasonInternal {
		s.logger.Error("probe internal error", "target", c.id, "prober", t.Prober, "error", res.Error)
		s.events.Publish(event.InternalError(res))
	}
	if tr != nil {
		s.logger.Info("state changed", "target", c.id, "from", tr.From, "to", tr.To)
		s.events.Publish(event.Transition(*tr))
	}
}
