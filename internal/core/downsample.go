package core

import "dosensor-service/internal/domain"

// DefaultMaxPoints caps query results when the caller gives no usable limit.
const DefaultMaxPoints = 1000

// Downsample decimates readings to at most maxPoints by keeping every
// stride-th element starting from the oldest. It never aggregates values.
func Downsample(readings []domain.Reading, maxPoints int) []domain.Reading {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if len(readings) <= maxPoints {
		return readings
	}

	stride := len(readings) / maxPoints
	out := make([]domain.Reading, 0, maxPoints)
	for i := 0; i < len(readings) && len(out) < maxPoints; i += stride {
		out = append(out, readings[i])
	}
	return out
}
