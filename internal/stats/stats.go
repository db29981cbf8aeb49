// Package stats implements the sample statistics used to smooth probe results:
// streaming mean and deviation, jitter and the AVT outlier filter.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidArgument is returned for empty or non-finite input.
var ErrInvalidArgument = errors.New("invalid argument")

// DevType selects the standard deviation estimator.
type DevType int

const (
	// Population divides the squared deviation sum by n.
	Population DevType = iota
	// Sample divides by n-1.
	Sample
)

func (d DevType) offset() int {
	if d == Sample {
		return 1
	}
	return 0
}

// Stats summarizes a set of samples.
type Stats struct {
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64
	Size   int
}

// ComputeStats returns mean, deviation, median and range of samples. StdDev is NaN when
// there are not enough samples for the requested estimator.
//
// Median is the sorted value at index n/2, which for an even count is the upper of the two
// middle values rather than their average.
func ComputeStats(samples []float64, dev DevType) (Stats, error) {
	if err := checkFinite(samples); err != nil {
		return Stats{}, err
	}
	n := len(samples)
	if n == 0 {
		nan := math.NaN()
		return Stats{Mean: nan, StdDev: nan, Median: nan, Min: nan, Max: nan}, nil
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	// Welford update keeps the deviation sum stable for long windows.
	var mean, sumSq float64
	for i, x := range sorted {
		delta := x - mean
		mean += delta / float64(i+1)
		sumSq += delta * (x - mean)
	}

	stddev := math.NaN()
	if offset := dev.offset(); n > offset {
		stddev = math.Sqrt(sumSq / float64(n-offset))
	}

	return Stats{
		Mean:   mean,
		StdDev: stddev,
		Median: sorted[n/2],
		Min:    sorted[0],
		Max:    sorted[n-1],
		Size:   n,
	}, nil
}

// ComputeJitter returns the mean absolute difference between consecutive samples in
// their original order.
func ComputeJitter(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: no samples", ErrInvalidArgument)
	}
	if err := checkFinite(samples); err != nil {
		return 0, err
	}
	if len(samples) == 1 {
		return 0, nil
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(samples[i] - samples[i-1])
	}
	return sum / float64(len(samples)-1), nil
}

// ComputeAVT drops samples further than one population standard deviation from the
// median and returns the median of what remains. An empty buffer yields NaN.
func ComputeAVT(buffer []float64) float64 {
	raw, err := ComputeStats(buffer, Population)
	if err != nil || raw.Size == 0 {
		return math.NaN()
	}
	if math.IsNaN(raw.StdDev) {
		return raw.Median
	}

	lo, hi := raw.Median-raw.StdDev, raw.Median+raw.StdDev
	kept := make([]float64, 0, len(buffer))
	for _, v := range buffer {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	filtered, err := ComputeStats(kept, Population)
	if err != nil || filtered.Size == 0 {
		return raw.Median
	}
	return filtered.Median
}

func checkFinite(samples []float64) error {
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: sample %d is not a finite number", ErrInvalidArgument, i)
		}
	}
	return nil
}
