package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/pingmon/internal/storage"
)

type statusStore interface {
	AllLatest(ctx context.Context) ([]storage.Probe, error)
	UptimePercent(ctx context.Context, target string, last int) (float64, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()
	probes, err := db.AllLatest(ctx)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(probes) == 0 {
		fmt.Fprintln(out, "No probe history. Run 'pingmon serve' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLATENCY\tUPTIME\tLAST PROBED\tERROR")
	for _, p := range probes {
		status := "up"
		latency := "—"
		if p.Success {
			latency = p.Latency.Round(time.Microsecond).String()
		} else {
			status = "down"
		}
		uptime := "—"
		if pct, err := db.UptimePercent(ctx, p.Target, 100); err == nil {
			uptime = fmt.Sprintf("%.1f%%", pct)
		}
		errText := p.Error
		if p.Reason != "" {
			errText = fmt.Sprintf("%s: %s", p.Reason, p.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Target,
			status,
			latency,
			uptime,
			p.ProbedAt.Local().Format("2006-01-02 15:04:05"),
			errText,
		)
	}
	w.Flush()
	return nil
}
