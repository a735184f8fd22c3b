package domain

import (
	"fmt"
	"time"
)

// Physical bounds a reading must satisfy before it is stored.
const (
	MinTemperature     = -10.0
	MaxTemperature     = 50.0
	MinDissolvedOxygen = 0.0
	MaxDissolvedOxygen = 20.0
	MinQuality         = 0.0
	MaxQuality         = 1.0
)

// Reading is one sensor sample. Values are never mutated after acceptance.
type Reading struct {
	Timestamp       time.Time
	Temperature     float64 // °C
	DissolvedOxygen float64 // mg/L
	Quality         float64 // 0..1
}

// Validate reports whether the reading lies inside the physically plausible ranges.
func (r Reading) Validate() error {
	switch {
	case r.Temperature < MinTemperature || r.Temperature > MaxTemperature:
		return fmt.Errorf("%w: temperature %.3f outside [%.0f, %.0f]", ErrOutOfRange, r.Temperature, MinTemperature, MaxTemperature)
	case r.DissolvedOxygen < MinDissolvedOxygen || r.DissolvedOxygen > MaxDissolvedOxygen:
		return fmt.Errorf("%w: dissolved oxygen %.3f outside [%.0f, %.0f]", ErrOutOfRange, r.DissolvedOxygen, MinDissolvedOxygen, MaxDissolvedOxygen)
	case r.Quality < MinQuality || r.Quality > MaxQuality:
		return fmt.Errorf("%w: quality %.3f outside [%.0f, %.0f]", ErrOutOfRange, r.Quality, MinQuality, MaxQuality)
	}
	return nil
}

// HistoryQuery describes a request for stored readings.
type HistoryQuery struct {
	// Duration limits results to readings newer than now-Duration. Zero or negative means all data.
	Duration time.Duration
	// MaxPoints caps the number of returned readings.
	MaxPoints int
}

// SerialConfig is a snapshot of the serial link configuration.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// LinkState enumerates the serial link states.
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkOpen
	LinkDegraded
)

func (s LinkState) String() string {
	switch s {
	case LinkOpen:
		return "open"
	case LinkDegraded:
		return "degraded"
	default:
		return "closed"
	}
}
