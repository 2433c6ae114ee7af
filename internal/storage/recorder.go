package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

// Store is the subset of DB the Recorder writes to.
type Store interface {
	InsertProbe(ctx context.Context, r probe.Result) error
	InsertTransition(ctx context.Context, tr registry.Transition) error
}

// Recorder is an event.Reporter that persists probe results and transitions.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. Pass nil logger to use the default logger.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, timeout: 5 * time.Second, logger: logger}
}

// Report implements event.Reporter.
func (r *Recorder) Report(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch e.Kind {
	case event.KindProbeResult:
		if e.Result == nil {
			return
		}
		if err := r.store.InsertProbe(ctx, *e.Result); err != nil {
			r.logger.Error("storing probe result", "target", e.TargetID, "error", err)
		}
	case event.KindTransition:
		if e.Transition == nil {
			return
		}
		if err := r.store.InsertTransition(ctx, *e.Transition); err != nil {
			r.logger.Error("storing transition", "target", e.TargetID, "error", err)
		}
	}
}
