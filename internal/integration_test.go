package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazz-dev/pingmon/internal/config"
	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/scheduler"
	"github.com/hazz-dev/pingmon/internal/server"
	"github.com/hazz-dev/pingmon/internal/storage"
)

// TestIntegration_FullFlow verifies the complete pipeline:
// config → scheduler → prober → registry → hub → storage → API
func TestIntegration_FullFlow(t *testing.T) {
	// 1. Real endpoints: an HTTP server and a TCP listener.
	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer web.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	// 2. Config with both targets.
	cfg, err := config.Parse([]byte(`
monitor:
  failure_threshold: 1
  max_inflight_probes: 2
targets:
  - id: "web"
    address: "` + web.URL + `"
    prober: "http"
    interval: "1h"
    timeout: "5s"
  - id: "sock"
    address: "` + ln.Addr().String() + `"
    prober: "tcp"
    interval: "1h"
    timeout: "5s"
`))
	if err != nil {
		t.Fatalf("parsing config: %v", err)
	}

	// 3. In-memory SQLite and the event hub.
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer db.Close()

	hub := event.NewHub(nil)
	hub.Attach("storage", storage.NewRecorder(db, nil))

	// 4. Scheduler with the real prober factory.
	reg := registry.New(cfg.Monitor.FailureThreshold)
	sched := scheduler.New(reg, probe.New, hub, scheduler.Options{MaxInflight: cfg.Monitor.MaxInflightProbes}, nil)
	for _, tg := range cfg.Targets {
		if err := sched.Register(tg.RegistryTarget()); err != nil {
			t.Fatalf("Register %s: %v", tg.ID, err)
		}
	}

	apiServer := server.New(sched, db, hub, nil, nil)
	api := httptest.NewServer(apiServer.Router())
	defer api.Close()

	// 5. Subscribe to the event stream before probing starts.
	wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/api/events?target=web"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()

	// 6. Start the scheduler; every target is probed immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	// 7. Wait for both probes to land in the DB (up to 5s).
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		latest, err := db.AllLatest(ctx)
		if err != nil {
			t.Fatalf("AllLatest: %v", err)
		}
		if len(latest) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, id := range []string{"web", "sock"} {
		p, err := db.LatestProbe(ctx, id)
		if err != nil {
			t.Fatalf("LatestProbe: %v", err)
		}
		if p == nil {
			t.Fatalf("no probe for %s in DB after 5s", id)
		}
		if !p.Success {
			t.Errorf("%s: expected success, got %s %s", id, p.Reason, p.Error)
		}
	}

	t.Run("event stream", func(t *testing.T) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var kinds []string
		for len(kinds) < 2 {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read event: %v", err)
			}
			if msg["target"] != "web" {
				t.Errorf("expected only web events, got %v", msg["target"])
			}
			kinds = append(kinds, msg["kind"].(string))
		}
		if kinds[0] != "probe_result" || kinds[1] != "transition" {
			t.Errorf("expected probe_result then transition, got %v", kinds)
		}
	})

	t.Run("list targets", func(t *testing.T) {
		resp, err := http.Get(api.URL + "/api/targets")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Data []struct {
				ID    string `json:"id"`
				State string `json:"state"`
			} `json:"data"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if len(body.Data) != 2 {
			t.Fatalf("expected 2 targets, got %d", len(body.Data))
		}
		for _, d := range body.Data {
			if d.State != "up" {
				t.Errorf("%s: expected up, got %s", d.ID, d.State)
			}
		}
	})

	t.Run("register and deregister via API", func(t *testing.T) {
		resp, err := http.Post(api.URL+"/api/targets", "application/json",
			strings.NewReader(`{"id":"web2","address":"`+web.URL+`","prober":"http","interval":"1h","timeout":"5s"}`))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if rec, _ := sched.Get("web2"); rec.State == registry.StateUp {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if rec, _ := sched.Get("web2"); rec.State != registry.StateUp {
			t.Errorf("expected web2 up, got %s", rec.State)
		}

		req, _ := http.NewRequest(http.MethodDelete, api.URL+"/api/targets/web2", nil)
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
	})

	t.Run("history", func(t *testing.T) {
		resp, err := http.Get(api.URL + "/api/targets/web/history")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Data struct {
				Total int `json:"total"`
			} `json:"data"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Data.Total < 1 {
			t.Errorf("expected at least 1 probe in history, got %d", body.Data.Total)
		}
	})

	// 8. Graceful shutdown: scheduler first, then drain the hub.
	cancel()
	sched.Wait()
	hub.Close()

	trs, err := db.Transitions(context.Background(), "web", 10)
	if err != nil {
		t.Fatalf("DB unusable after shutdown: %v", err)
	}
	if len(trs) != 1 || trs[0].To != registry.StateUp {
		t.Errorf("expected one unknown→up transition for web, got %+v", trs)
	}
}
