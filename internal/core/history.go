package core

import (
	"context"
	"errors"
	"math"
	"time"

	"dosensor-service/internal/domain"
)

// LiveWindow is the longest duration answered from the rolling buffer alone.
const LiveWindow = 5 * time.Minute

// maxWindowMinutes is the largest minute count representable as a time.Duration.
const maxWindowMinutes = math.MaxInt64 / int64(time.Minute)

// WindowFromMinutes converts a requested window in minutes to a duration.
// Counts that do not fit in a time.Duration mean all data.
func WindowFromMinutes(minutes int) time.Duration {
	m := int64(minutes)
	if m > maxWindowMinutes || m < -maxWindowMinutes {
		return 0
	}
	return time.Duration(m) * time.Minute
}

// History answers data queries from the rolling buffer or the durable log.
type History struct {
	buffer domain.ReadingBuffer
	log    domain.ReadingLog
	logger Logger
	now    func() time.Time
}

// NewHistory creates a query engine over the provided stores.
func NewHistory(buffer domain.ReadingBuffer, log domain.ReadingLog, logger Logger) *History {
	return &History{buffer: buffer, log: log, logger: logger, now: time.Now}
}

// Query returns readings matching the query, oldest first, never more than
// the requested cap. Log failures degrade to the buffer contents.
func (h *History) Query(ctx context.Context, query domain.HistoryQuery) []domain.Reading {
	if query.Duration > 0 && query.Duration <= LiveWindow {
		cutoff := h.now().Add(-query.Duration)
		return Downsample(h.buffer.FilterSince(cutoff), query.MaxPoints)
	}

	readings, err := h.scanLog(ctx, query.Duration)
	if err != nil {
		if !errors.Is(err, domain.ErrLogNotFound) {
			h.warn(ctx, "history: log unavailable, serving buffer: %v", err)
		}
		return Downsample(h.buffer.Snapshot(), query.MaxPoints)
	}
	if len(readings) == 0 {
		return Downsample(h.buffer.Snapshot(), query.MaxPoints)
	}
	return Downsample(readings, query.MaxPoints)
}

func (h *History) scanLog(ctx context.Context, duration time.Duration) ([]domain.Reading, error) {
	if h.log == nil {
		return nil, domain.ErrLogNotFound
	}

	var cutoff time.Time
	filter := duration > 0
	if filter {
		cutoff = h.now().Add(-duration)
	}

	var readings []domain.Reading
	skipped, err := h.log.Scan(ctx, func(reading domain.Reading) bool {
		if !filter || reading.Timestamp.After(cutoff) {
			readings = append(readings, reading)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		h.warn(ctx, "history: skipped %d unparseable log rows", skipped)
	}
	return readings, nil
}

func (h *History) warn(ctx context.Context, format string, v ...any) {
	if h.logger != nil {
		h.logger.Warnf(ctx, format, v...)
	}
}

var _ domain.HistoryService = (*History)(nil)
