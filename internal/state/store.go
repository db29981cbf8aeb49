package state

import (
	"math"
	"sort"
	"sync"

	"github.com/doridoridoriand/netmon/internal/target"
)

const defaultHistorySize = 100

var metrics = [...]target.Metric{target.MetricLatency, target.MetricJitter, target.MetricLoss}

// StoreImpl is a thread-safe in-memory state store keyed by target ID.
type StoreImpl struct {
	mu          sync.RWMutex
	targets     map[string]*TargetStatus
	historySize int
}

// NewStore creates a store initialized with the provided targets.
func NewStore(entries []Entry) *StoreImpl {
	store := &StoreImpl{
		targets:     make(map[string]*TargetStatus),
		historySize: defaultHistorySize,
	}
	store.UpdateTargets(entries)
	return store
}

func newStatus(e Entry) *TargetStatus {
	return &TargetStatus{
		ID:          e.ID,
		Name:        e.Name,
		Group:       e.Group,
		Type:        e.Type,
		Destination: e.Destination,
		Latency:     emptyMetric(),
		Jitter:      emptyMetric(),
		Loss:        emptyMetric(),
		Status:      StatusUnknown,
	}
}

func emptyMetric() MetricState {
	return MetricState{Value: math.NaN(), Peak: math.NaN()}
}

// UpdateResult folds a round reported by src into the target's state. Peaks are replaced
// when exceeded or expired, and src's peak timer is refreshed accordingly. A metric is at
// fault when its value exceeds the threshold, its window is full and its alert is enabled.
func (s *StoreImpl) UpdateResult(src Source, result target.Result) {
	id := src.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.targets[id]
	if !ok {
		status = newStatus(Entry{ID: id})
		s.targets[id] = status
	}
	if dest := src.TargetDestination(); dest != "" {
		status.Destination = dest
	}
	status.Rounds++
	status.LastUpdate = result.At

	values := map[target.Metric]float64{
		target.MetricLatency: result.PingLatencyMS,
		target.MetricJitter:  result.PingJitter,
		target.MetricLoss:    result.PacketLoss,
	}
	thresholds := map[target.Metric]float64{
		target.MetricLatency: src.ExpectedLatency(),
		target.MetricJitter:  src.ExpectedJitter(),
		target.MetricLoss:    src.TolerableLoss(),
	}

	fault := false
	for _, m := range metrics {
		ms := status.metric(m)
		v := values[m]
		ms.Value = v
		ms.Filled = src.IsBufferFilled(m)
		ms.Fault = v > thresholds[m] && ms.Filled && src.IsAlertActive(target.AlertFor(m))
		if !math.IsNaN(v) && (math.IsNaN(ms.Peak) || v > ms.Peak || src.IsPeakExpired(m)) {
			ms.Peak = v
			src.UpdatePeakTime(m)
		}
		fault = fault || ms.Fault
	}

	if !math.IsNaN(result.PingLatencyMS) {
		s.appendHistory(status, Point{Time: result.At, LatencyMS: result.PingLatencyMS})
	}

	switch {
	case result.Error:
		status.LastErrorAt = result.At
		status.ConsecutiveErrors++
		status.Status = StatusError
	case fault:
		status.ConsecutiveErrors = 0
		status.Status = StatusFault
	default:
		status.ConsecutiveErrors = 0
		status.Status = StatusOK
	}
}

func (t *TargetStatus) metric(m target.Metric) *MetricState {
	switch m {
	case target.MetricLatency:
		return &t.Latency
	case target.MetricJitter:
		return &t.Jitter
	default:
		return &t.Loss
	}
}

// GetSnapshot returns a copy of all target states ordered by group, name and ID.
func (s *StoreImpl) GetSnapshot() []TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]TargetStatus, 0, len(s.targets))
	for _, status := range s.targets {
		result = append(result, copyTargetStatus(status))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// UpdateTargets replaces the target list, keeping state for IDs that remain.
func (s *StoreImpl) UpdateTargets(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make(map[string]*TargetStatus, len(entries))
	for _, e := range entries {
		if existing, ok := s.targets[e.ID]; ok {
			existing.Name = e.Name
			existing.Group = e.Group
			existing.Type = e.Type
			if e.Destination != "" {
				existing.Destination = e.Destination
			}
			updated[e.ID] = existing
			continue
		}
		updated[e.ID] = newStatus(e)
	}
	s.targets = updated
}

// GetTargetStatus returns a copy of a single target status.
func (s *StoreImpl) GetTargetStatus(id string) (TargetStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.targets[id]
	if !ok {
		return TargetStatus{}, false
	}
	return copyTargetStatus(status), true
}

func (s *StoreImpl) appendHistory(status *TargetStatus, p Point) {
	if s.historySize <= 0 {
		return
	}
	if len(status.History) < s.historySize {
		status.History = append(status.History, p)
		return
	}
	copy(status.History, status.History[1:])
	status.History[len(status.History)-1] = p
}

func copyTargetStatus(source *TargetStatus) TargetStatus {
	clone := *source
	if len(source.History) > 0 {
		clone.History = append([]Point(nil), source.History...)
	}
	return clone
}
