package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeResult(target string, success bool, latencyMs int64, at time.Time) probe.Result {
	r := probe.Result{
		ProbeID:  uuid.NewString(),
		TargetID: target,
		Address:  "10.0.0.1",
		At:       at,
		Success:  success,
	}
	if success {
		r.Latency = time.Duration(latencyMs) * time.Millisecond
	} else {
		r.Reason = probe.ReasonTimeout
		r.Error = "no response within 1s"
	}
	return r
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)
	// If we can insert, schema is correct.
	err := db.InsertProbe(context.Background(), makeResult("gw", true, 42, time.Now()))
	if err != nil {
		t.Fatalf("InsertProbe after Open: %v", err)
	}
}

func TestInsertProbe_And_LatestProbe(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := makeResult("gw", true, 42, time.Now())
	if err := db.InsertProbe(ctx, r); err != nil {
		t.Fatalf("InsertProbe: %v", err)
	}

	got, err := db.LatestProbe(ctx, "gw")
	if err != nil {
		t.Fatalf("LatestProbe: %v", err)
	}
	if got == nil {
		t.Fatal("expected probe, got nil")
	}
	if got.ProbeID != r.ProbeID || got.Target != "gw" || !got.Success {
		t.Errorf("unexpected probe: %+v", got)
	}
	if got.Latency != 42*time.Millisecond {
		t.Errorf("expected 42ms latency, got %s", got.Latency)
	}
	if !got.ProbedAt.Equal(r.At) {
		t.Errorf("expected probed_at %s, got %s", r.At, got.ProbedAt)
	}
}

func TestInsertProbe_IgnoresDuplicateProbeID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r := makeResult("gw", true, 1, time.Now())
	for i := 0; i < 3; i++ {
		if err := db.InsertProbe(ctx, r); err != nil {
			t.Fatalf("InsertProbe #%d: %v", i, err)
		}
	}
	_, total, err := db.History(ctx, "gw", 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 1 {
		t.Errorf("expected redelivered result stored once, got %d rows", total)
	}
}

func TestInsertProbe_StoresFailureReason(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertProbe(ctx, makeResult("gw", false, 0, time.Now())); err != nil {
		t.Fatalf("InsertProbe: %v", err)
	}
	got, err := db.LatestProbe(ctx, "gw")
	if err != nil {
		t.Fatalf("LatestProbe: %v", err)
	}
	if got.Success || got.Reason != probe.ReasonTimeout || got.Error == "" {
		t.Errorf("unexpected failure row: %+v", got)
	}
}

func TestLatestProbe_ReturnsNilWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	got, err := db.LatestProbe(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestLatestProbe_ReturnsMostRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Inserted out of order; latest is by probe time.
	if err := db.InsertProbe(ctx, makeResult("gw", true, 10, base.Add(2*time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertProbe(ctx, makeResult("gw", false, 0, base)); err != nil {
		t.Fatal(err)
	}

	got, err := db.LatestProbe(ctx, "gw")
	if err != nil {
		t.Fatalf("LatestProbe: %v", err)
	}
	if !got.Success {
		t.Errorf("expected the later successful probe, got %+v", got)
	}
}

func TestHistory_Pagination(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 10; i++ {
		if err := db.InsertProbe(ctx, makeResult("gw", true, int64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	page1, total, err := db.History(ctx, "gw", 3, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(page1) != 3 {
		t.Fatalf("expected 3 results, got %d", len(page1))
	}
	if page1[0].Latency != 9*time.Millisecond {
		t.Errorf("expected newest first, got latency %s", page1[0].Latency)
	}

	page2, _, err := db.History(ctx, "gw", 3, 3)
	if err != nil {
		t.Fatalf("History page 2: %v", err)
	}
	if len(page2) != 3 || page2[0].Latency != 6*time.Millisecond {
		t.Errorf("unexpected page 2: %+v", page2)
	}
}

func TestHistory_EmptyDB(t *testing.T) {
	db := openTestDB(t)
	probes, total, err := db.History(context.Background(), "gw", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(probes) != 0 {
		t.Errorf("expected empty history, got total=%d len=%d", total, len(probes))
	}
}

func TestAllLatest_ReturnsOnePerTarget(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, target := range []string{"gw", "gw", "db", "db", "dns"} {
		if err := db.InsertProbe(ctx, makeResult(target, i%2 == 0, 5, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := db.AllLatest(ctx)
	if err != nil {
		t.Fatalf("AllLatest: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(latest))
	}
	want := []string{"db", "dns", "gw"}
	for i, p := range latest {
		if p.Target != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], p.Target)
		}
	}
}

func TestAllLatest_EmptyDB(t *testing.T) {
	db := openTestDB(t)
	latest, err := db.AllLatest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("expected no rows, got %d", len(latest))
	}
}

func TestTransitions_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	trs := []registry.Transition{
		{ID: "gw", From: registry.StateUnknown, To: registry.StateUp, At: base},
		{ID: "gw", From: registry.StateUp, To: registry.StateDown, At: base.Add(time.Second)},
		{ID: "db", From: registry.StateUnknown, To: registry.StateDown, At: base},
	}
	for _, tr := range trs {
		if err := db.InsertTransition(ctx, tr); err != nil {
			t.Fatalf("InsertTransition: %v", err)
		}
	}

	got, err := db.Transitions(ctx, "gw", 10)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(got))
	}
	if got[0].To != registry.StateDown || got[1].From != registry.StateUnknown {
		t.Errorf("unexpected order: %+v", got)
	}

	limited, err := db.Transitions(ctx, "gw", 1)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestUptimePercent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		if err := db.InsertProbe(ctx, makeResult("gw", i%2 == 0, 1, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	pct, err := db.UptimePercent(ctx, "gw", 10)
	if err != nil {
		t.Fatalf("UptimePercent: %v", err)
	}
	if pct != 50 {
		t.Errorf("expected 50%%, got %.2f%%", pct)
	}

	// The newest probe (i=3) failed.
	pct, err = db.UptimePercent(ctx, "gw", 1)
	if err != nil {
		t.Fatalf("UptimePercent: %v", err)
	}
	if pct != 0 {
		t.Errorf("expected 0%% over the last probe, got %.2f%%", pct)
	}
}

func TestUptimePercent_EmptyDB(t *testing.T) {
	db := openTestDB(t)
	pct, err := db.UptimePercent(context.Background(), "gw", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 0 {
		t.Errorf("expected 0, got %.2f", pct)
	}
}

func TestClose(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
