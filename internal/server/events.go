package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazz-dev/pingmon/internal/event"
)

const eventWriteTimeout = 5 * time.Second

type eventMessage struct {
	ID         string             `json:"id"`
	Kind       event.Kind         `json:"kind"`
	Target     string             `json:"target"`
	At         time.Time          `json:"at"`
	Result     *resultMessage     `json:"result,omitempty"`
	Transition *transitionMessage `json:"transition,omitempty"`
	Overruns   int64              `json:"overruns,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type resultMessage struct {
	ProbeID   string  `json:"probe_id"`
	Address   string  `json:"address"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
	Reason    string  `json:"reason,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type transitionMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func toMessage(e event.Event) eventMessage {
	m := eventMessage{
		ID:       e.ID,
		Kind:     e.Kind,
		Target:   e.TargetID,
		At:       e.At,
		Overruns: e.Overruns,
		Error:    e.Error,
	}
	if e.Result != nil {
		m.Result = &resultMessage{
			ProbeID:   e.Result.ProbeID,
			Address:   e.Result.Address,
			Success:   e.Result.Success,
			LatencyMs: float64(e.Result.Latency.Microseconds()) / 1000,
			Reason:    string(e.Result.Reason),
			Error:     e.Result.Error,
		}
	}
	if e.Transition != nil {
		m.Transition = &transitionMessage{From: string(e.Transition.From), To: string(e.Transition.To)}
	}
	return m
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			host := strings.ToLower(strings.TrimSpace(r.Host))
			originHost := strings.ToLower(strings.TrimSpace(u.Host))
			return host == originHost
		},
	}
}

// handleEvents streams events as JSON text frames. ?target=<id> restricts
// the stream to one target.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "", "event stream not configured")
		return
	}
	target := r.URL.Query().Get("target")

	// Subscribe before the handshake completes so the client sees every
	// event published after its dial returns.
	sub := s.events.Subscribe()
	defer sub.Close()

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if target != "" && e.TargetID != target {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(toMessage(e)); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}
