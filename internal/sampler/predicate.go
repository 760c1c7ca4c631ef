package sampler

import "math"

// MaxUnbounded disables the sample limit.
const MaxUnbounded uint32 = math.MaxUint32

// ShouldSample reports whether the event with the given ordinal is sampled.
// interval must be >= 1.
func ShouldSample(eventCounter, interval uint64) bool {
	return eventCounter%interval == 0
}

// HasReachedMax reports whether sampleCount has hit a finite limit.
func HasReachedMax(sampleCount, maxSamples uint32) bool {
	return maxSamples != MaxUnbounded && sampleCount >= maxSamples
}
