package target

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/doridoridoriand/netmon/internal/gateway"
	"github.com/doridoridoriand/netmon/internal/stats"
)

const sequenceMarker = "icmp_seq"

var (
	timePattern     = regexp.MustCompile(`time=([0-9]+(?:\.[0-9]+)?)`)
	sequencePattern = regexp.MustCompile(`icmp_seq[= ]([0-9]+)`)
)

// Round holds the per-packet readings of one ping invocation.
type Round struct {
	Samples []float64
	Lost    int
}

// Total is the number of packets accounted for.
func (r Round) Total() int {
	return len(r.Samples) + r.Lost
}

// ParsePingOutput extracts latency samples and lost packets from ping output. Every line
// carrying a sequence marker is one packet: with a time field it is a sample, without one
// it is a loss. Packets are keyed by sequence number when the line carries one, so a late
// reply after "no answer yet" turns the loss into a sample and duplicate replies are
// ignored.
func ParsePingOutput(output string) Round {
	var r Round
	answered := make(map[string]bool)
	lost := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, sequenceMarker) {
			continue
		}
		var seq string
		if m := sequencePattern.FindStringSubmatch(line); len(m) == 2 {
			seq = m[1]
		}
		v, ok := sampleTime(line)
		if !ok {
			if seq != "" {
				if answered[seq] || lost[seq] {
					continue
				}
				lost[seq] = true
			}
			r.Lost++
			continue
		}
		if seq != "" {
			if answered[seq] {
				continue
			}
			answered[seq] = true
			if lost[seq] {
				lost[seq] = false
				r.Lost--
			}
		}
		r.Samples = append(r.Samples, v)
	}
	return r
}

func sampleTime(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

// RoundValues carries the metrics derived from a round. A nil field means the metric could
// not be computed this round and its buffer does not grow.
type RoundValues struct {
	Latency *float64
	Jitter  *float64
	Loss    *float64
}

// Values derives loss, jitter and mean latency. An empty round yields no values.
func (r Round) Values() RoundValues {
	var v RoundValues
	total := r.Total()
	if total == 0 {
		return v
	}
	loss := float64(r.Lost) / float64(total) * 100
	v.Loss = &loss
	if j, err := stats.ComputeJitter(r.Samples); err == nil {
		v.Jitter = &j
	}
	if st, err := stats.ComputeStats(r.Samples, stats.Sample); err == nil && st.Size > 0 {
		mean := st.Mean
		v.Latency = &mean
	}
	return v
}

// get returns the value for m, or nil.
func (v RoundValues) get(m Metric) *float64 {
	switch m {
	case MetricLatency:
		return v.Latency
	case MetricJitter:
		return v.Jitter
	default:
		return v.Loss
	}
}

// pingCommand builds the ping invocation for a destination.
func pingCommand(p gateway.Platform, binary string, cfg Config, dest destination) (string, []string) {
	count := strconv.Itoa(cfg.PingCount)
	interval := formatSeconds(cfg.PingInterval)
	size := strconv.Itoa(cfg.PacketSize)

	switch p {
	case gateway.Linux:
		// -O reports unanswered packets as "no answer yet for icmp_seq=N".
		args := []string{"-n", "-O", "-c", count, "-i", interval, "-s", size}
		if dest.ipv6 {
			args = append(args, "-6")
		}
		return binary, append(args, dest.host)
	default:
		// BSD ping prints "Request timeout for icmp_seq N" for lost packets.
		if dest.ipv6 && binary == defaultPingBinary {
			binary = "ping6"
		}
		return binary, []string{"-n", "-c", count, "-i", interval, "-s", size, dest.host}
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
