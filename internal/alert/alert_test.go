package alert_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/pingmon/internal/alert"
	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

func transition(id string, from, to registry.State) registry.Transition {
	return registry.Transition{ID: id, From: from, To: to, At: time.Now().UTC()}
}

func countingServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &callCount
}

func TestAlerter_StateChange_UpToDown(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, alert.FormatJSON, time.Hour, nil)
	a.Notify(transition("gw", registry.StateUp, registry.StateDown))

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for up→down, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_StateChange_DownToUp(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, alert.FormatJSON, time.Hour, nil)
	a.Notify(transition("gw", registry.StateDown, registry.StateUp))

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for down→up, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_FirstState_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, alert.FormatJSON, 0, nil)
	a.Notify(transition("gw", registry.StateUnknown, registry.StateUp))
	a.Notify(transition("db", registry.StateUnknown, registry.StateDown))

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected no webhook when leaving unknown, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_SuppressesAlerts(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, alert.FormatJSON, time.Hour, nil)

	a.Notify(transition("gw", registry.StateUp, registry.StateDown))
	a.Notify(transition("gw", registry.StateDown, registry.StateUp))
	a.Notify(transition("gw", registry.StateUp, registry.StateDown))

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected cooldown to suppress alerts, got %d calls", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_PerTarget(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, alert.FormatJSON, time.Hour, nil)

	a.Notify(transition("gw", registry.StateUp, registry.StateDown))
	a.Notify(transition("db", registry.StateUp, registry.StateDown))

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("expected independent cooldowns per target, got %d calls", atomic.LoadInt32(calls))
	}
}

func TestAlerter_WebhookPayload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, "", time.Hour, nil)
	a.Report(event.ProbeResult(probe.Result{
		TargetID: "gw",
		Address:  "10.0.0.1",
		Reason:   probe.ReasonTimeout,
		Error:    "no response within 2s",
	}))
	a.Report(event.Transition(transition("gw", registry.StateUp, registry.StateDown)))

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid JSON payload %q: %v", body, err)
	}
	checks := map[string]string{
		"target":          "gw",
		"address":         "10.0.0.1",
		"status":          "down",
		"previous_status": "up",
		"reason":          "TIMEOUT",
		"error":           "no response within 2s",
		"source":          "pingmon",
	}
	for k, want := range checks {
		if payload[k] != want {
			t.Errorf("payload[%q] = %v, want %q", k, payload[k], want)
		}
	}
}

func TestAlerter_SlackPayload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, alert.FormatSlack, time.Hour, nil)
	a.Report(event.ProbeResult(probe.Result{TargetID: "gw", Address: "10.0.0.1", Reason: probe.ReasonUnreachable}))
	a.Report(event.Transition(transition("gw", registry.StateUp, registry.StateDown)))

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid JSON payload %q: %v", body, err)
	}
	if !strings.Contains(payload.Text, "gw") || !strings.Contains(payload.Text, "UNREACHABLE") {
		t.Errorf("unexpected slack text %q", payload.Text)
	}
}

func TestAlerter_HTTPError_DoesNotCrash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, alert.FormatJSON, 0, nil)
	a.Notify(transition("gw", registry.StateUp, registry.StateDown))

	// Unreachable URL.
	b := alert.New("http://127.0.0.1:1", alert.FormatJSON, 0, nil)
	b.Notify(transition("gw", registry.StateUp, registry.StateDown))
}
