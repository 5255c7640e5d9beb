// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r1"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipInterval is a wrapper to use Clip with an r1.Interval instead of
// a separate max and min value
func ClipInterval(value float64, interval r1.Interval) float64 {
	return Clip(value, interval.Min, interval.Max)
}

// Wrap wraps a floating point around the interval [min, max), so that
// a value exceeding max re-enters the interval from min
func Wrap(value, min, max float64) float64 {
	width := max - min
	for value >= max {
		value -= width
	}
	for value < min {
		value += width
	}
	return value
}

// WrapInterval is a wrapper to use Wrap with an r1.Interval instead of
// a separate max and min value
func WrapInterval(value float64, interval r1.Interval) float64 {
	return Wrap(value, interval.Min, interval.Max)
}

// ArgMax returns the indices of all maximal values in a list
func ArgMax(values ...float64) []int {
	max, indices := values[0], []int{0}

	for i := 1; i < len(values); i++ {
		if values[i] > max {
			max = values[i]
			indices = []int{i}
		} else if values[i] == max {
			indices = append(indices, i)
		}
	}
	return indices
}

// AllFinite returns whether every value in the slice is neither NaN nor
// infinite.
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// LogSoftmax computes the log-softmax of a row of logits into dst,
// allocating dst if nil. The maximum logit is subtracted before
// exponentiating so that large logits do not overflow.
func LogSoftmax(dst, logits []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(logits))
	}
	max := floats.Max(logits)

	var sum float64
	for _, l := range logits {
		sum += math.Exp(l - max)
	}
	lse := max + math.Log(sum)

	for i, l := range logits {
		dst[i] = l - lse
	}
	return dst
}

// Mean returns the mean of values, or 0 if there are no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values) / float64(len(values))
}
