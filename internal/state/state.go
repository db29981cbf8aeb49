package state

import (
	"time"

	"github.com/doridoridoriand/netmon/internal/target"
)

// Status represents target health.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusOK      Status = "OK"
	StatusFault   Status = "FAULT"
	StatusError   Status = "ERROR"
)

// Point records the filtered latency of one round.
type Point struct {
	Time      time.Time
	LatencyMS float64
}

// MetricState is the consumer view of one metric.
type MetricState struct {
	// Value is the AVT-filtered value of the latest round, NaN before any data.
	Value float64
	// Peak is the largest value seen since the peak last expired.
	Peak   float64
	Filled bool
	Fault  bool
}

// TargetStatus captures the current state and history for a target.
type TargetStatus struct {
	ID          string
	Name        string
	Group       string
	Type        string
	Destination string

	Latency MetricState
	Jitter  MetricState
	Loss    MetricState

	LastUpdate        time.Time
	LastErrorAt       time.Time
	Rounds            int
	ConsecutiveErrors int
	Status            Status
	History           []Point
}

// Metric returns the state of m.
func (s TargetStatus) Metric(m target.Metric) MetricState {
	switch m {
	case target.MetricLatency:
		return s.Latency
	case target.MetricJitter:
		return s.Jitter
	default:
		return s.Loss
	}
}

// Entry describes a monitored target before any round has been reported.
type Entry struct {
	ID          string
	Name        string
	Group       string
	Type        string
	Destination string
}

// Source is what the store needs from the target that produced a round.
type Source interface {
	ID() string
	TargetDestination() string
	ExpectedLatency() float64
	ExpectedJitter() float64
	TolerableLoss() float64
	IsBufferFilled(m target.Metric) bool
	IsPeakExpired(m target.Metric) bool
	UpdatePeakTime(m target.Metric)
	IsAlertActive(mask target.AlertMask) bool
}

// Store defines operations for tracking target state.
type Store interface {
	UpdateResult(src Source, result target.Result)
	GetSnapshot() []TargetStatus
	UpdateTargets(entries []Entry)
	GetTargetStatus(id string) (TargetStatus, bool)
}
