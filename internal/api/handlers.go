package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// ─── Request / Response Types ───────────────────────────────────────────────

// LockRequest is the body of POST /api/lock.
type LockRequest struct {
	PolicyType    string          `json:"policy_type"`
	ThermalPolicy string          `json:"thermal_policy"`
	Clusters      []ClusterConfig `json:"clusters"`
}

// ClusterConfig is one requested cluster range in a LockRequest.
type ClusterConfig struct {
	ClusterID  int `json:"cluster_id"`
	MinFreqKHz int `json:"min_freq_khz"`
	MaxFreqKHz int `json:"max_freq_khz"`
}

// ResultResponse wraps an engine result with the status it left behind.
type ResultResponse struct {
	domain.Result
	Error  string            `json:"error,omitempty"`
	Status domain.LockStatus `json:"status"`
}

// PolicyResponse renders a thermal policy with human-readable durations.
type PolicyResponse struct {
	Name               string                 `json:"name"`
	WarningThreshold   float64                `json:"warning_threshold"`
	EmergencyThreshold float64                `json:"emergency_threshold"`
	CriticalThreshold  float64                `json:"critical_threshold"`
	RestoreThreshold   float64                `json:"restore_threshold"`
	RestoreDelay       string                 `json:"restore_delay"`
	WarningCooldown    string                 `json:"warning_cooldown"`
	Behavior           domain.ThermalBehavior `json:"behavior"`
}

func policyResponse(p domain.ThermalPolicy) PolicyResponse {
	return PolicyResponse{
		Name:               p.Name,
		WarningThreshold:   p.WarningThreshold,
		EmergencyThreshold: p.EmergencyThreshold,
		CriticalThreshold:  p.CriticalThreshold,
		RestoreThreshold:   p.RestoreThreshold,
		RestoreDelay:       p.RestoreDelay.String(),
		WarningCooldown:    p.WarningCooldown.String(),
		Behavior:           p.Behavior,
	}
}

// ─── Lock Control ───────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.locker.Status())
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.locker.State())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pt, err := domain.ParsePolicyType(req.PolicyType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Clusters) == 0 {
		writeError(w, http.StatusBadRequest, "clusters is required")
		return
	}

	configs := make(map[int]domain.ClusterLockConfig, len(req.Clusters))
	for _, c := range req.Clusters {
		if _, dup := configs[c.ClusterID]; dup {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cluster %d listed twice", c.ClusterID))
			return
		}
		configs[c.ClusterID] = domain.ClusterLockConfig{
			ClusterID:  c.ClusterID,
			MinFreqKHz: c.MinFreqKHz,
			MaxFreqKHz: c.MaxFreqKHz,
		}
	}

	s.writeResult(w, s.locker.Lock(r.Context(), configs, pt, req.ThermalPolicy))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.locker.Unlock(r.Context()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.locker.Retry(r.Context()))
}

func (s *Server) writeResult(w http.ResponseWriter, res domain.Result) {
	resp := ResultResponse{Result: res, Status: s.locker.Status()}
	if res.Cause != nil {
		resp.Error = res.Cause.Error()
	}
	writeJSON(w, resultStatusCode(res), resp)
}

// resultStatusCode maps a result kind onto an HTTP status.
func resultStatusCode(res domain.Result) int {
	switch res.Kind {
	case domain.ResultSuccess, domain.ResultSuccessWithWarning:
		return http.StatusOK
	case domain.ResultPartialSuccess:
		return http.StatusMultiStatus
	case domain.ResultAlreadyLocked, domain.ResultNotLocked:
		return http.StatusConflict
	case domain.ResultThermalOverrideActivated:
		return http.StatusLocked
	case domain.ResultRetryExceeded:
		return http.StatusTooManyRequests
	}
	if errors.Is(res.Cause, domain.ErrInvalidConfig) ||
		errors.Is(res.Cause, domain.ErrUnknownPolicy) ||
		errors.Is(res.Cause, domain.ErrInvalidPolicy) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ─── Hardware & Policies ────────────────────────────────────────────────────

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	if s.clusters == nil {
		writeError(w, http.StatusNotImplemented, "cluster discovery not configured")
		return
	}
	snaps, err := s.clusters.DetectClusters(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clusters": snaps})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	cat := s.locker.Catalog()
	all := cat.All()
	out := make([]PolicyResponse, 0, len(all))
	for _, p := range all {
		out = append(out, policyResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default":  cat.Default().Name,
		"policies": out,
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.locker.Catalog().ByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("policy %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, policyResponse(p))
}

// ─── Thermal Events ─────────────────────────────────────────────────────────

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	sseKeepAlive        = 15 * time.Second
)

// handleEventHistory serves journaled events, newest first. Optional
// filters: type=<EVENT_TYPE> and since=<RFC 3339 time | duration ago>.
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "event journal not configured")
		return
	}
	q := r.URL.Query()
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	var typ domain.ThermalEventType
	if v := q.Get("type"); v != "" {
		t, err := domain.ParseThermalEventType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		typ = t
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := parseSince(v, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 time or a duration such as 1h")
			return
		}
		since = t
	}

	var events []domain.ThermalEvent
	var err error
	if typ == "" && since.IsZero() {
		events, err = s.history.RecentEvents(limit)
	} else {
		if since.IsZero() {
			since = time.Unix(0, 0)
		}
		events, err = s.history.EventsSince(since, typ)
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
		slices.Reverse(events)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.history.CountEvents()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.ThermalEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "total": total})
}

// parseSince accepts an absolute RFC 3339 time or a positive duration
// counted back from now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("duration %s must be positive", d)
	}
	return now.Add(-d), nil
}

// handleEventStream relays live thermal events as server-sent events until
// the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	fmt.Fprint(writer, ": connected\n\n")
	writer.Flush()
	flusher.Flush()

	events := s.locker.Events(r.Context())
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(writer, ": keep-alive\n\n")
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(writer, "event: %s\nid: %s\ndata: %s\n\n", ev.Type, ev.ID, data)
		}
		if err := writer.Flush(); err != nil {
			return
		}
		flusher.Flush()
	}
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"healthy": true, "checks": []interface{}{}})
		return
	}
	code := http.StatusOK
	healthy := s.health.IsHealthy()
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"healthy": healthy,
		"checks":  s.health.Statuses(),
	}
	if s.sensor != nil {
		body["sensor"] = s.sensor.Snapshot()
	}
	writeJSON(w, code, body)
}

// handleSensorReset closes the sensor circuit, e.g. after a driver reload.
func (s *Server) handleSensorReset(w http.ResponseWriter, r *http.Request) {
	if s.sensor == nil {
		writeError(w, http.StatusNotImplemented, "sensor breaker not configured")
		return
	}
	s.sensor.Reset()
	writeJSON(w, http.StatusOK, s.sensor.Snapshot())
}
