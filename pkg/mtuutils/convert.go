package mtuutils

import (
	"math"
	"time"
)

// No negative values
func DurationToMs(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func MsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SuccessRate in percent, 0 without reads.
func SuccessRate(successful, corrupted uint32) float64 {
	total := uint64(successful) + uint64(corrupted)
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

// Percent to permille for 16-bit registers - Clamped to 0..1000
func RateToPermille(percent float64) uint16 {
	if percent <= 0 || math.IsNaN(percent) {
		return 0
	}
	if percent >= 100 {
		return 1000
	}
	return uint16(math.Round(percent * 10))
}
