package metrics

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doridoridoriand/netmon/internal/history"
	"github.com/doridoridoriand/netmon/internal/state"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
)

// HistoryReader returns stored rounds of a target, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, targetID string, limit int) ([]history.Record, error)
}

// Router mounts /metrics, /healthz and the JSON API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.MetricsHandler())

	r.Route("/api/targets", func(r chi.Router) {
		r.Get("/", s.handleListTargets)
		r.Get("/{id}", s.handleGetTarget)
		r.Get("/{id}/history", s.handleHistory)
	})
	return r
}

type metricView struct {
	Value  *float64 `json:"value"`
	Peak   *float64 `json:"peak"`
	Filled bool     `json:"filled"`
	Fault  bool     `json:"fault"`
}

type targetView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Group             string     `json:"group,omitempty"`
	Type              string     `json:"type"`
	Destination       string     `json:"destination"`
	Status            string     `json:"status"`
	Latency           metricView `json:"latency_ms"`
	Jitter            metricView `json:"jitter_ms"`
	Loss              metricView `json:"loss_percent"`
	Rounds            int        `json:"rounds"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
}

type recordView struct {
	At          time.Time `json:"at"`
	Error       bool      `json:"error"`
	LatencyMS   *float64  `json:"latency_ms"`
	JitterMS    *float64  `json:"jitter_ms"`
	LossPercent *float64  `json:"loss_percent"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	snapshot := s.store.GetSnapshot()
	out := make([]targetView, 0, len(snapshot))
	for _, ts := range snapshot {
		out = append(out, newTargetView(ts))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.store.GetTargetStatus(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "target not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newTargetView(ts))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.store.GetTargetStatus(id); !ok {
		http.Error(w, "target not found", http.StatusNotFound)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "history error", http.StatusInternalServerError)
		return
	}
	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		out = append(out, recordView{
			At:          rec.At,
			Error:       rec.Error,
			LatencyMS:   finite(rec.LatencyMS),
			JitterMS:    finite(rec.JitterMS),
			LossPercent: finite(rec.LossPercent),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func newTargetView(ts state.TargetStatus) targetView {
	v := targetView{
		ID:                ts.ID,
		Name:              ts.Name,
		Group:             ts.Group,
		Type:              ts.Type,
		Destination:       ts.Destination,
		Status:            string(ts.Status),
		Latency:           newMetricView(ts.Latency),
		Jitter:            newMetricView(ts.Jitter),
		Loss:              newMetricView(ts.Loss),
		Rounds:            ts.Rounds,
		ConsecutiveErrors: ts.ConsecutiveErrors,
	}
	if !ts.LastUpdate.IsZero() {
		at := ts.LastUpdate
		v.LastUpdate = &at
	}
	return v
}

func newMetricView(m state.MetricState) metricView {
	return metricView{Value: finite(m.Value), Peak: finite(m.Peak), Filled: m.Filled, Fault: m.Fault}
}

// finite maps NaN and infinities to null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
