package event

import (
	"log/slog"
	"sync"
)

// Hub fans published events out to subscribers. Every subscriber has its
// own unbounded queue, so a slow consumer never blocks Publish or other
// consumers, and each sees events in publication order.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	pumps  sync.WaitGroup
	logger *slog.Logger
}

// NewHub creates a Hub. Pass nil logger to use the default logger.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Publish queues e for every current subscriber. It never blocks on them.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		s.push(e)
	}
}

// Subscribe returns a new subscription receiving every event published from
// now on. A subscription on a closed hub is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := newSubscription(h)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.finish()
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Attach delivers every event to r on a dedicated goroutine until the hub
// is closed. A panicking reporter is logged and keeps receiving.
func (h *Hub) Attach(name string, r Reporter) {
	s := h.Subscribe()
	h.pumps.Add(1)
	go func() {
		defer h.pumps.Done()
		for e := range s.C() {
			h.deliver(name, r, e)
		}
	}()
}

func (h *Hub) deliver(name string, r Reporter, e Event) {
	defer func() {
		if v := recover(); v != nil {
			h.logger.Error("reporter panicked", "reporter", name, "event", e.Kind, "target", e.TargetID, "panic", v)
		}
	}()
	r.Report(e)
}

// Close stops accepting events, lets every subscriber drain what is already
// queued and waits for attached reporters to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.finish()
	}
	h.pumps.Wait()
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is one consumer's ordered view of the stream.
type Subscription struct {
	hub     *Hub
	mu      sync.Mutex
	queue   []Event
	closing bool
	signal  chan struct{}
	abort   chan struct{}
	once    sync.Once
	out     chan Event
}

func newSubscription(h *Hub) *Subscription {
	s := &Subscription{
		hub:    h,
		signal: make(chan struct{}, 1),
		abort:  make(chan struct{}),
		out:    make(chan Event),
	}
	go s.run()
	return s
}

// C returns the delivery channel. It is closed once the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close unsubscribes and discards anything still queued.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.once.Do(func() { close(s.abort) })
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

// finish delivers what is queued, then closes C.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.signal:
			case <-s.abort:
				return
			}
			continue
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.abort:
			return
		}
	}
}
