package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/doridoridoriand/netmon/internal/target"
)

// Per-target option keys.
const (
	OptLossLimit       = "loss_limit"
	OptPacketSize      = "packet_size"
	OptPingCount       = "ping_count"
	OptPingInterval    = "ping_interval"
	OptPingPeriod      = "ping_period"
	OptPeakExpiration  = "peak_expiration"
	OptExpectedLatency = "expected_latency"
	OptExpectedJitter  = "expected_jitter"
	OptFilterWindow    = "filter_window"
	OptAlerts          = "alerts"
)

func knownOption(key string) bool {
	switch key {
	case OptLossLimit, OptPacketSize, OptPingCount, OptPingInterval, OptPingPeriod,
		OptPeakExpiration, OptExpectedLatency, OptExpectedJitter, OptFilterWindow, OptAlerts:
		return true
	}
	return false
}

// EngineConfig converts the target definition into a target.Config on top of
// target.DefaultConfig. Options whose zero value target.New would replace with a default
// must be positive here; other range checks are left to target.New.
func (t TargetConfig) EngineConfig() (target.Config, error) {
	cfg := target.DefaultConfig()
	kind, err := target.ParseType(t.Type)
	if err != nil {
		return target.Config{}, fmt.Errorf("target %q: %w", t.Name, err)
	}
	cfg.Type = kind
	cfg.Destination = t.Destination

	for key, val := range t.Options {
		if err := applyOption(&cfg, key, val); err != nil {
			return target.Config{}, fmt.Errorf("target %q: invalid %s: %w", t.Name, key, err)
		}
	}
	return cfg, nil
}

func applyOption(cfg *target.Config, key, val string) error {
	var err error
	switch key {
	case OptLossLimit:
		cfg.LossLimit, err = strconv.ParseFloat(val, 64)
	case OptPacketSize:
		cfg.PacketSize, err = strconv.Atoi(val)
	case OptPingCount:
		cfg.PingCount, err = strconv.Atoi(val)
	case OptPingInterval:
		cfg.PingInterval, err = parseDuration(val)
	case OptPingPeriod:
		cfg.PingPeriod, err = parseDuration(val)
	case OptPeakExpiration:
		cfg.PeakExpiration, err = parseDuration(val)
	case OptExpectedLatency:
		cfg.ExpectedLatency, err = parseMillis(val)
	case OptExpectedJitter:
		cfg.ExpectedJitter, err = parseMillis(val)
	case OptFilterWindow:
		cfg.DataFilterTimeWindow, err = parseDuration(val)
	case OptAlerts:
		cfg.AlertMask, err = target.ParseAlertMask(val)
	default:
		err = fmt.Errorf("unknown option")
	}
	if err != nil {
		return err
	}
	return checkPositive(cfg, key)
}

func checkPositive(cfg *target.Config, key string) error {
	var positive bool
	switch key {
	case OptPacketSize:
		positive = cfg.PacketSize > 0
	case OptPingCount:
		positive = cfg.PingCount > 0
	case OptPingInterval:
		positive = cfg.PingInterval > 0
	case OptPingPeriod:
		positive = cfg.PingPeriod > 0
	case OptExpectedLatency:
		positive = cfg.ExpectedLatency > 0
	case OptExpectedJitter:
		positive = cfg.ExpectedJitter > 0
	default:
		return nil
	}
	if !positive {
		return fmt.Errorf("must be > 0: %w", target.ErrRange)
	}
	return nil
}

// parseMillis accepts a plain number of milliseconds or a Go duration.
func parseMillis(val string) (float64, error) {
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}
