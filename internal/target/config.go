package target

import (
	"fmt"
	"time"
)

const (
	minPacketSize   = 56
	minPingCount    = 3
	minPingInterval = time.Second
)

// Config describes one monitored destination. It is copied at construction and never
// changed afterwards.
type Config struct {
	Type        Type
	Destination string

	// LossLimit is the tolerable packet loss in percent.
	LossLimit  float64
	PacketSize int
	PingCount  int
	// PingInterval is the delay between packets of one round.
	PingInterval time.Duration
	// PingPeriod is the delay between rounds. It must leave room for the round itself:
	// PingPeriod >= 2 * PingInterval * PingCount.
	PingPeriod     time.Duration
	PeakExpiration time.Duration
	// ExpectedLatency and ExpectedJitter are alert thresholds in milliseconds.
	ExpectedLatency float64
	ExpectedJitter  float64
	// DataFilterTimeWindow sizes the sliding buffers: floor(window / PingPeriod) rounds.
	DataFilterTimeWindow time.Duration
	AlertMask            AlertMask
}

// DefaultConfig returns the documented defaults with no destination.
func DefaultConfig() Config {
	return Config{
		LossLimit:            10,
		PacketSize:           minPacketSize,
		PingCount:            5,
		PingInterval:         minPingInterval,
		PingPeriod:           60 * time.Second,
		PeakExpiration:       8 * time.Hour,
		ExpectedLatency:      50,
		ExpectedJitter:       10,
		DataFilterTimeWindow: 180 * time.Second,
		AlertMask:            AlertAll,
	}
}

// withDefaults fills fields whose zero value is never valid. LossLimit, PeakExpiration,
// DataFilterTimeWindow and AlertMask are taken literally; start from DefaultConfig to get
// their defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PacketSize == 0 {
		c.PacketSize = d.PacketSize
	}
	if c.PingCount == 0 {
		c.PingCount = d.PingCount
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingPeriod == 0 {
		c.PingPeriod = d.PingPeriod
	}
	if c.ExpectedLatency == 0 {
		c.ExpectedLatency = d.ExpectedLatency
	}
	if c.ExpectedJitter == 0 {
		c.ExpectedJitter = d.ExpectedJitter
	}
	return c
}

// validate checks bounds in one pass and reports the first violation.
func (c Config) validate() error {
	if _, err := ParseType(string(c.Type)); err != nil {
		return &ConfigError{Field: "target_type", Value: c.Type, Reason: "unknown type", Err: ErrInvalidArgument}
	}
	if c.LossLimit < 0 || c.LossLimit > 100 {
		return rangeError("loss_limit", c.LossLimit, "must be within 0..100")
	}
	if c.PacketSize < minPacketSize {
		return rangeError("packet_size", c.PacketSize, fmt.Sprintf("must be >= %d", minPacketSize))
	}
	if c.PingCount < minPingCount {
		return rangeError("ping_count", c.PingCount, fmt.Sprintf("must be >= %d", minPingCount))
	}
	if c.PingInterval < minPingInterval {
		return rangeError("ping_interval", c.PingInterval, "must be >= 1s")
	}
	if minPeriod := 2 * c.PingInterval * time.Duration(c.PingCount); c.PingPeriod < minPeriod {
		return rangeError("ping_period", c.PingPeriod, fmt.Sprintf("must be >= %s", minPeriod))
	}
	if c.PeakExpiration < 0 {
		return rangeError("peak_expiration", c.PeakExpiration, "must not be negative")
	}
	if !(c.ExpectedLatency > 0) {
		return rangeError("expected_latency", c.ExpectedLatency, "must be > 0")
	}
	if !(c.ExpectedJitter > 0) {
		return rangeError("expected_jitter", c.ExpectedJitter, "must be > 0")
	}
	if c.DataFilterTimeWindow < 0 {
		return rangeError("data_filter_time_window", c.DataFilterTimeWindow, "must not be negative")
	}
	if c.AlertMask&^AlertAll != 0 {
		return rangeError("alert_mask", uint8(c.AlertMask), "unknown alert bits")
	}
	return nil
}

// bufferCapacity is the number of rounds kept per metric.
func (c Config) bufferCapacity() int {
	if c.PingPeriod <= 0 {
		return 0
	}
	return int(c.DataFilterTimeWindow / c.PingPeriod)
}
