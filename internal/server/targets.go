package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	uptimeWindow        = 100
)

type targetDetail struct {
	ID                  string     `json:"id"`
	Address             string     `json:"address"`
	Prober              string     `json:"prober"`
	Interval            string     `json:"interval"`
	Timeout             string     `json:"timeout"`
	FailureThreshold    int        `json:"failure_threshold"`
	State               string     `json:"state"`
	LastTransition      *time.Time `json:"last_transition"`
	LastProbed          *time.Time `json:"last_probed"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LatencyMs           float64    `json:"latency_ms"`
	Reason              string     `json:"reason,omitempty"`
	Error               string     `json:"error,omitempty"`
	Probes              int64      `json:"probes"`
	Successes           int64      `json:"successes"`
	AvailabilityPct     float64    `json:"availability_percent"`
}

func toDetail(rec registry.Record) targetDetail {
	d := targetDetail{
		ID:                  rec.Target.ID,
		Address:             rec.Target.Address,
		Prober:              rec.Target.Prober,
		Interval:            rec.Target.Interval.String(),
		Timeout:             rec.Target.Timeout.String(),
		FailureThreshold:    rec.Target.FailureThreshold,
		State:               string(rec.State),
		ConsecutiveFailures: rec.ConsecutiveFailures,
		LatencyMs:           float64(rec.LastLatency.Microseconds()) / 1000,
		Reason:              string(rec.LastReason),
		Error:               rec.LastError,
		Probes:              rec.Probes,
		Successes:           rec.Successes,
		AvailabilityPct:     rec.Availability(),
	}
	if !rec.LastTransition.IsZero() {
		t := rec.LastTransition
		d.LastTransition = &t
	}
	if !rec.LastApplied.IsZero() {
		t := rec.LastApplied
		d.LastProbed = &t
	}
	return d
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	recs := s.monitor.Snapshot()
	details := make([]targetDetail, 0, len(recs))
	for _, rec := range recs {
		details = append(details, toDetail(rec))
	}
	writeJSON(w, http.StatusOK, details)
}

type targetDetailResponse struct {
	targetDetail
	UptimePct *float64 `json:"uptime_percent,omitempty"`
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.monitor.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, registry.Code(registry.ErrNotFound), "target not found")
		return
	}

	resp := targetDetailResponse{targetDetail: toDetail(rec)}
	if s.store != nil {
		pct, err := s.store.UptimePercent(r.Context(), id, uptimeWindow)
		if err != nil {
			s.logger.Error("UptimePercent", "target", id, "error", err)
		} else {
			resp.UptimePct = &pct
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createRequest struct {
	ID               string `json:"id"`
	Address          string `json:"address"`
	Prober           string `json:"prober"`
	Interval         string `json:"interval"`
	Timeout          string `json:"timeout"`
	FailureThreshold int    `json:"failure_threshold"`
}

type updateRequest struct {
	Interval         string `json:"interval"`
	Timeout          string `json:"timeout"`
	FailureThreshold int    `json:"failure_threshold"`
}

func parseOptionalDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", "invalid JSON body")
		return
	}
	interval, err := parseOptionalDuration("interval", req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	}
	timeout, err := parseOptionalDuration("timeout", req.Timeout)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	}

	t := registry.Target{
		ID:               req.ID,
		Address:          req.Address,
		Prober:           req.Prober,
		Interval:         interval,
		Timeout:          timeout,
		FailureThreshold: req.FailureThreshold,
	}
	if err := s.monitor.Register(t); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.logger.Info("target registered", "target", t.ID, "address", t.Address)

	rec, ok := s.monitor.Get(t.ID)
	if !ok {
		// Deregistered between the two calls.
		writeError(w, http.StatusNotFound, registry.Code(registry.ErrNotFound), "target not found")
		return
	}
	writeJSON(w, http.StatusCreated, toDetail(rec))
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", "invalid JSON body")
		return
	}
	interval, err := parseOptionalDuration("interval", req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	}
	timeout, err := parseOptionalDuration("timeout", req.Timeout)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
		return
	}
	if req.FailureThreshold < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", "failure_threshold must be at least 1")
		return
	}

	if _, err := s.monitor.Reconfigure(id, registry.Update{
		Interval:         interval,
		Timeout:          timeout,
		FailureThreshold: req.FailureThreshold,
	}); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	rec, ok := s.monitor.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, registry.Code(registry.ErrNotFound), "target not found")
		return
	}
	writeJSON(w, http.StatusOK, toDetail(rec))
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	s.monitor.Deregister(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	Probes []storage.Probe `json:"probes"`
	Total  int             `json:"total"`
}

// parseLimit reads a non-negative integer query parameter, capped at max.
func parseLimit(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func (s *Server) handleTargetHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "", "history storage not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.monitor.Get(id); !ok {
		writeError(w, http.StatusNotFound, registry.Code(registry.ErrNotFound), "target not found")
		return
	}

	limit, err := parseLimit(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	offset, err := parseLimit(r, "offset", 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	probes, total, err := s.store.History(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.Error("History", "target", id, "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	if probes == nil {
		probes = []storage.Probe{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Probes: probes, Total: total})
}

func (s *Server) handleTargetTransitions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "", "history storage not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.monitor.Get(id); !ok {
		writeError(w, http.StatusNotFound, registry.Code(registry.ErrNotFound), "target not found")
		return
	}

	limit, err := parseLimit(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	trs, err := s.store.Transitions(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("Transitions", "target", id, "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	if trs == nil {
		trs = []storage.Transition{}
	}
	writeJSON(w, http.StatusOK, trs)
}
