package domain

import (
	"context"
	"io"
	"time"
)

// ReadingBuffer is the in-memory window of recent readings.
type ReadingBuffer interface {
	Append(reading Reading)
	Snapshot() []Reading
	FilterSince(cutoff time.Time) []Reading
	Len() int
}

// ReadingLog persists every accepted reading.
type ReadingLog interface {
	Append(ctx context.Context, reading Reading) error
	// Scan calls fn for every parseable row in file order and returns the number of skipped rows.
	Scan(ctx context.Context, fn func(Reading) bool) (int, error)
}

// LogFile exposes the stored log for download and removal.
type LogFile interface {
	Open() (LogHandle, error)
	Delete() (int, error)
}

// LogHandle is an opened log file ready to be streamed.
type LogHandle interface {
	io.ReadSeekCloser
	Name() string
	ModTime() time.Time
}

// SensorLink polls the sensor over the serial connection.
type SensorLink interface {
	Poll(ctx context.Context) ([]byte, error)
}

// SerialController manages the serial device selection.
type SerialController interface {
	Config() SerialConfig
	ListPorts() ([]string, error)
	Select(ctx context.Context, port string) error
}

// Forwarder pushes named values to the external telemetry sink.
type Forwarder interface {
	Forward(ctx context.Context, name string, value float64) error
}

// HistoryService answers live and historical data queries.
type HistoryService interface {
	Query(ctx context.Context, query HistoryQuery) []Reading
}

// Acquirer runs the acquisition loop until the context is cancelled.
type Acquirer interface {
	Run(ctx context.Context)
}
