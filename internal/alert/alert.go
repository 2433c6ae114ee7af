package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
)

// Payload formats.
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// Alerter sends webhook notifications on target state changes. It is an
// event.Reporter and expects a target's probe result before its transition.
type Alerter struct {
	webhookURL string
	format     string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  map[string]time.Time
	lastResult map[string]probe.Result
	mu         sync.Mutex
	logger     *slog.Logger
}

// New creates a new Alerter. An empty format means FormatJSON. Pass nil
// logger to use the default logger.
func New(webhookURL, format string, cooldown time.Duration, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if format == "" {
		format = FormatJSON
	}
	return &Alerter{
		webhookURL: webhookURL,
		format:     format,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastAlert:  make(map[string]time.Time),
		lastResult: make(map[string]probe.Result),
		logger:     logger,
	}
}

type webhookPayload struct {
	Target        string `json:"target"`
	Address       string `json:"address"`
	Status        string `json:"status"`
	PreviousState string `json:"previous_status"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error"`
	LatencyMs     int64  `json:"latency_ms"`
	ChangedAt     string `json:"changed_at"`
	Source        string `json:"source"`
}

type slackPayload struct {
	Text string `json:"text"`
}

// Report implements event.Reporter.
func (a *Alerter) Report(e event.Event) {
	switch e.Kind {
	case event.KindProbeResult:
		if e.Result != nil {
			a.mu.Lock()
			a.lastResult[e.TargetID] = *e.Result
			a.mu.Unlock()
		}
	case event.KindTransition:
		if e.Transition != nil {
			a.Notify(*e.Transition)
		}
	}
}

// Notify sends a webhook for tr unless it is the target's first state or
// the per-target cooldown has not elapsed.
func (a *Alerter) Notify(tr registry.Transition) {
	// Leaving unknown is the first probe, not a change worth alerting on.
	if tr.From == registry.StateUnknown {
		return
	}
	if tr.From == tr.To {
		return
	}

	a.mu.Lock()
	last, exists := a.lastAlert[tr.ID]
	if exists && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", "target", tr.ID)
		return
	}
	a.lastAlert[tr.ID] = time.Now()
	res := a.lastResult[tr.ID]
	a.mu.Unlock()

	a.send(tr, res)
}

func (a *Alerter) send(tr registry.Transition, res probe.Result) {
	body, err := a.encode(tr, res)
	if err != nil {
		a.logger.Error("marshaling webhook payload", "target", tr.ID, "error", err)
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", "target", tr.ID, "url", a.webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			"target", tr.ID,
			"status", resp.StatusCode,
		)
	}
}

func (a *Alerter) encode(tr registry.Transition, res probe.Result) ([]byte, error) {
	if a.format == FormatSlack {
		return json.Marshal(slackPayload{Text: slackText(tr, res)})
	}
	return json.Marshal(webhookPayload{
		Target:        tr.ID,
		Address:       res.Address,
		Status:        string(tr.To),
		PreviousState: string(tr.From),
		Reason:        string(res.Reason),
		Error:         res.Error,
		LatencyMs:     res.Latency.Milliseconds(),
		ChangedAt:     tr.At.UTC().Format(time.RFC3339),
		Source:        "pingmon",
	})
}

func slackText(tr registry.Transition, res probe.Result) string {
	if tr.To == registry.StateUp {
		return fmt.Sprintf(":white_check_mark: *%s* is up again (%s, %dms)", tr.ID, res.Address, res.Latency.Milliseconds())
	}
	detail := string(res.Reason)
	if res.Error != "" {
		detail += ": " + res.Error
	}
	return fmt.Sprintf(":x: *%s* is down (%s) %s", tr.ID, res.Address, detail)
}
