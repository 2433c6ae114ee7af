package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/pingmon/internal/config"
	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/logging"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/scheduler"
)

const defaultWatchHost = "google.com"

type watchOptions struct {
	host     string
	prober   string
	interval time.Duration
	timeout  time.Duration
	count    int
}

func watchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [host]",
		Short: "Probe one host every interval and print each result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.host = defaultWatchHost
			if len(args) == 1 {
				opts.host = args[0]
			}
			logger, _, err := logging.New(config.LogConfig{Level: "warn"}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), opts, probe.New, logger)
		},
	}
	cmd.Flags().StringVar(&opts.prober, "prober", probe.KindPing, "prober kind (ping, tcp, http, dns)")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "time between probes")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Second, "per-probe timeout")
	cmd.Flags().IntVar(&opts.count, "count", 0, "stop after this many probes (0 = until interrupted)")
	return cmd
}

// consoleReporter prints one line per probe result and state change.
type consoleReporter struct {
	out io.Writer
}

func (c consoleReporter) Report(e event.Event) {
	switch e.Kind {
	case event.KindProbeResult:
		r := e.Result
		if r.Success {
			fmt.Fprintf(c.out, "✅ %s reachable in %s\n", r.Address, r.Latency.Round(time.Microsecond))
		} else {
			fmt.Fprintf(c.out, "❌ %s: %s %s\n", r.Address, r.Reason, r.Error)
		}
	case event.KindTransition:
		if e.Transition.To == registry.StateUp {
			fmt.Fprintln(c.out, "status: online")
		} else {
			fmt.Fprintln(c.out, "status: offline, no response")
		}
	case event.KindOverrun:
		fmt.Fprintf(c.out, "⚠ previous probe still running, skipped (%d so far)\n", e.Overruns)
	}
}

func runWatch(ctx context.Context, out io.Writer, opts watchOptions, factory scheduler.ProberFactory, logger *slog.Logger) error {
	if opts.host == "" {
		return fmt.Errorf("a host is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := event.NewHub(logger)
	hub.Attach("console", consoleReporter{out: out})
	if opts.count > 0 {
		seen := 0
		hub.Attach("count", event.ReporterFunc(func(e event.Event) {
			if e.Kind != event.KindProbeResult {
				return
			}
			seen++
			if seen >= opts.count {
				cancel()
			}
		}))
	}

	reg := registry.New(1)
	sched := scheduler.New(reg, factory, hub, scheduler.Options{}, logger)
	if err := sched.Register(registry.Target{
		ID:       opts.host,
		Address:  opts.host,
		Prober:   opts.prober,
		Interval: opts.interval,
		Timeout:  opts.timeout,
	}); err != nil {
		hub.Close()
		return err
	}

	fmt.Fprintf(out, "watching %s every %s (ctrl-c to stop)\n", opts.host, opts.interval)
	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()
	hub.Close()

	rec, _ := reg.Get(opts.host)
	fmt.Fprintf(out, "stopped: %d probes, %.1f%% available\n", rec.Probes, rec.Availability())
	return nil
}
