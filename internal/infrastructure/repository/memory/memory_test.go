package memory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infrastructure/repository/memory"
)

func readingAt(base time.Time, i int) domain.Reading {
	return domain.Reading{
		Timestamp:       base.Add(time.Duration(i) * 5 * time.Second),
		Temperature:     20,
		DissolvedOxygen: float64(i%20) / 2,
		Quality:         0.9,
	}
}

func TestBufferKeepsMostRecentInOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buffer := memory.New(60)

	const total = 137
	for i := 0; i < total; i++ {
		buffer.Append(readingAt(base, i))
	}

	snapshot := buffer.Snapshot()
	require.Len(t, snapshot, 60)
	for i, reading := range snapshot {
		assert.Equal(t, readingAt(base, total-60+i), reading)
	}
	for i := 1; i < len(snapshot); i++ {
		assert.True(t, snapshot[i].Timestamp.After(snapshot[i-1].Timestamp))
	}
}

func TestBufferBelowCapacity(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	buffer := memory.New(5)
	buffer.Append(readingAt(base, 0))
	buffer.Append(readingAt(base, 1))

	assert.Equal(t, 2, buffer.Len())
	assert.Equal(t, 5, buffer.Cap())
	assert.Equal(t, []domain.Reading{readingAt(base, 0), readingAt(base, 1)}, buffer.Snapshot())
}

func TestBufferDefaultsCapacity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, memory.DefaultCapacity, memory.New(0).Cap())
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	buffer := memory.New(3)
	buffer.Append(readingAt(base, 0))

	snapshot := buffer.Snapshot()
	snapshot[0].DissolvedOxygen = 99

	buffer.Append(readingAt(base, 1))
	assert.Equal(t, readingAt(base, 0), buffer.Snapshot()[0])
	assert.Len(t, snapshot, 1)
}

func TestFilterSinceIsStrictAndOrdered(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buffer := memory.New(10)
	for i := 0; i < 15; i++ {
		buffer.Append(readingAt(base, i))
	}

	cutoff := readingAt(base, 11).Timestamp
	filtered := buffer.FilterSince(cutoff)
	require.Len(t, filtered, 3)
	assert.Equal(t, readingAt(base, 12), filtered[0])
	assert.Equal(t, readingAt(base, 14), filtered[2])

	assert.Empty(t, buffer.FilterSince(base.Add(time.Hour)))
}

func TestBufferConcurrentReadersAndWriter(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	buffer := memory.New(60)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			buffer.Append(readingAt(base, i))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snapshot := buffer.Snapshot()
				assert.LessOrEqual(t, len(snapshot), 60)
				for j := 1; j < len(snapshot); j++ {
					assert.True(t, snapshot[j].Timestamp.After(snapshot[j-1].Timestamp))
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 60, buffer.Len())
}
