package memory

import (
	"sync"
	"time"

	"dosensor-service/internal/domain"
)

// DefaultCapacity is the number of readings kept when no capacity is configured.
const DefaultCapacity = 60

// Buffer is a fixed-capacity ring of the most recent readings in arrival order.
// The acquisition loop is the only writer; readers get independent copies.
type Buffer struct {
	mu       sync.RWMutex
	readings []domain.Reading
	head     int // index of the oldest reading
	size     int
}

// New creates an empty buffer holding at most capacity readings.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{readings: make([]domain.Reading, capacity)}
}

// Append stores a reading, evicting the oldest one when the buffer is full.
func (b *Buffer) Append(reading domain.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.readings)
	if b.size < capacity {
		b.readings[(b.head+b.size)%capacity] = reading
		b.size++
		return
	}

	b.readings[b.head] = reading
	b.head = (b.head + 1) % capacity
}

// Snapshot returns a copy of the buffered readings, oldest first.
func (b *Buffer) Snapshot() []domain.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Reading, b.size)
	for i := range out {
		out[i] = b.readings[(b.head+i)%len(b.readings)]
	}
	return out
}

// FilterSince returns the readings strictly newer than cutoff, oldest first.
func (b *Buffer) FilterSince(cutoff time.Time) []domain.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Reading, 0, b.size)
	for i := 0; i < b.size; i++ {
		reading := b.readings[(b.head+i)%len(b.readings)]
		if reading.Timestamp.After(cutoff) {
			out = append(out, reading)
		}
	}
	return out
}

// Len reports how many readings are buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap reports the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.readings)
}

var _ domain.ReadingBuffer = (*Buffer)(nil)
