package target

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRange marks a configuration value outside its allowed range or a destination
	// that does not match its declared type.
	ErrRange = errors.New("value out of range")
	// ErrInvalidArgument marks a missing or unknown configuration value.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Type is the declared kind of a monitored destination.
type Type string

const (
	TypeIPv4       Type = "ipv4"
	TypeIPv6       Type = "ipv6"
	TypeURI        Type = "uri"
	TypeGateway    Type = "gateway"
	TypeCableModem Type = "cable_modem"
)

// ParseType accepts the configuration spelling of a target type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeIPv4, TypeIPv6, TypeURI, TypeGateway, TypeCableModem:
		return t, nil
	case "cablemodem", "cable-modem":
		return TypeCableModem, nil
	default:
		return "", fmt.Errorf("%w: unknown target type %q", ErrInvalidArgument, s)
	}
}

// Metric identifies one of the per-round measurements. Peaks use the same keys.
type Metric int

const (
	MetricLatency Metric = iota
	MetricJitter
	MetricLoss

	metricCount
)

func (m Metric) String() string {
	switch m {
	case MetricLatency:
		return "latency"
	case MetricJitter:
		return "jitter"
	case MetricLoss:
		return "loss"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// index panics on values outside the enum; passing one is a caller bug.
func (m Metric) index() int {
	if m < 0 || m >= metricCount {
		panic(fmt.Sprintf("target: invalid metric %d", int(m)))
	}
	return int(m)
}

// AlertMask is a bit set of metrics whose alerts are enabled.
type AlertMask uint8

const (
	AlertLatency AlertMask = 1 << iota
	AlertLoss
	AlertJitter

	AlertNone AlertMask = 0
	AlertAll            = AlertLatency | AlertLoss | AlertJitter
)

// AlertFor returns the alert bit of a metric.
func AlertFor(m Metric) AlertMask {
	switch m {
	case MetricLatency:
		return AlertLatency
	case MetricJitter:
		return AlertJitter
	case MetricLoss:
		return AlertLoss
	default:
		panic(fmt.Sprintf("target: invalid metric %d", int(m)))
	}
}

// ParseAlertMask reads a comma separated list of metric names, "all" or "none".
func ParseAlertMask(s string) (AlertMask, error) {
	var mask AlertMask
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "none":
		case "all":
			mask |= AlertAll
		case "latency":
			mask |= AlertLatency
		case "loss":
			mask |= AlertLoss
		case "jitter":
			mask |= AlertJitter
		default:
			return 0, fmt.Errorf("%w: unknown alert %q", ErrInvalidArgument, part)
		}
	}
	return mask, nil
}

func (a AlertMask) String() string {
	if a == AlertNone {
		return "none"
	}
	var parts []string
	if a&AlertLatency != 0 {
		parts = append(parts, "latency")
	}
	if a&AlertLoss != 0 {
		parts = append(parts, "loss")
	}
	if a&AlertJitter != 0 {
		parts = append(parts, "jitter")
	}
	return strings.Join(parts, ",")
}

// ConfigError reports the first invalid field found while constructing a target.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("target config: %s=%v: %s: %v", e.Field, e.Value, e.Reason, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func rangeError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason, Err: ErrRange}
}

// Result is emitted once per completed probe round. Metric values are AVT-filtered over
// the target's sliding window; a metric with no data yet is NaN.
type Result struct {
	Sender        *NetworkTarget
	Error         bool
	PacketLoss    float64
	PingLatencyMS float64
	PingJitter    float64
	At            time.Time
}
