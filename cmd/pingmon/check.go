package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazz-dev/pingmon/internal/config"
	"github.com/hazz-dev/pingmon/internal/probe"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	return runChecks(cmd.Context(), cmd.OutOrStdout(), cfg, probe.New)
}

func runChecks(ctx context.Context, out io.Writer, cfg *config.Config, newProber func(string) (probe.Prober, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	results := make([]probe.Result, len(cfg.Targets))
	var g errgroup.Group
	if cfg.Monitor.MaxInflightProbes > 0 {
		g.SetLimit(cfg.Monitor.MaxInflightProbes)
	}

	for i, tg := range cfg.Targets {
		g.Go(func() error {
			p, err := newProber(tg.Prober)
			if err != nil {
				results[i] = probe.Failure(probe.ReasonInternal, "creating prober: %v", err)
				return nil
			}
			results[i] = probe.Run(ctx, p, tg.Address, tg.Timeout.Duration)
			return nil
		})
	}
	_ = g.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tPROBER\tADDRESS\tSTATUS\tLATENCY\tREASON\tERROR")
	allUp := true
	for i, r := range results {
		tg := cfg.Targets[i]
		status := "up"
		latency := "—"
		if r.Success {
			latency = r.Latency.Round(time.Microsecond).String()
		} else {
			status = "down"
			allUp = false
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tg.ID,
			tg.Prober,
			tg.Address,
			status,
			latency,
			r.Reason,
			r.Error,
		)
	}
	w.Flush()

	if !allUp {
		return fmt.Errorf("one or more targets are down")
	}
	return nil
}
