package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/doridoridoriand/netmon/internal/state"
)

// Server exposes Prometheus-style metrics and a JSON view of the current state.
type Server struct {
	store   state.Store
	history HistoryReader
}

// NewServer constructs a metrics server. history may be nil.
func NewServer(store state.Store, history HistoryReader) *Server {
	return &Server{store: store, history: history}
}

// MetricsHandler serves the Prometheus text exposition.
func (s *Server) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		bw := bufio.NewWriter(w)
		defer bw.Flush()
		snapshot := s.store.GetSnapshot()
		writeAggregated(bw, snapshot)
		writePerTarget(bw, snapshot)
	})
}

func writeAggregated(w *bufio.Writer, snapshot []state.TargetStatus) {
	var okCount, faultCount, errorCount, unknownCount int
	for _, target := range snapshot {
		switch target.Status {
		case state.StatusOK:
			okCount++
		case state.StatusFault:
			faultCount++
		case state.StatusError:
			errorCount++
		default:
			unknownCount++
		}
	}
	fmt.Fprintf(w, "netmon_targets_total %d\n", len(snapshot))
	fmt.Fprintf(w, "netmon_targets_ok %d\n", okCount)
	fmt.Fprintf(w, "netmon_targets_fault %d\n", faultCount)
	fmt.Fprintf(w, "netmon_targets_error %d\n", errorCount)
	fmt.Fprintf(w, "netmon_targets_unknown %d\n", unknownCount)
}

func writePerTarget(w *bufio.Writer, snapshot []state.TargetStatus) {
	for _, target := range snapshot {
		labels := fmt.Sprintf(
			"target=%q,type=%q,destination=%q,group=%q",
			escapeLabel(target.Name),
			escapeLabel(target.Type),
			escapeLabel(target.Destination),
			escapeLabel(target.Group),
		)
		writeValue(w, "netmon_target_latency_ms", labels, target.Latency.Value)
		writeValue(w, "netmon_target_jitter_ms", labels, target.Jitter.Value)
		writeValue(w, "netmon_target_loss_percent", labels, target.Loss.Value)
		writeValue(w, "netmon_target_latency_peak_ms", labels, target.Latency.Peak)
		writeValue(w, "netmon_target_jitter_peak_ms", labels, target.Jitter.Peak)
		writeValue(w, "netmon_target_loss_peak_percent", labels, target.Loss.Peak)

		fault := 0
		if target.Status == state.StatusFault {
			fault = 1
		}
		errored := 0
		if target.Status == state.StatusError {
			errored = 1
		}
		fmt.Fprintf(w, "netmon_target_fault{%s} %d\n", labels, fault)
		fmt.Fprintf(w, "netmon_target_error{%s} %d\n", labels, errored)
		fmt.Fprintf(w, "netmon_target_rounds_total{%s} %d\n", labels, target.Rounds)
	}
}

// writeValue skips metrics that have no data yet.
func writeValue(w *bufio.Writer, name, labels string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	fmt.Fprintf(w, "%s{%s} %g\n", name, labels, v)
}

func escapeLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
