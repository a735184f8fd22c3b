package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosensor-service/internal/domain"
)

func sequence(n int) []domain.Reading {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Reading, n)
	for i := range out {
		out[i] = domain.Reading{Timestamp: base.Add(time.Duration(i) * 5 * time.Second), DissolvedOxygen: float64(i)}
	}
	return out
}

func TestDownsampleStrideTwo(t *testing.T) {
	in := sequence(2500)

	out := Downsample(in, 1000)

	require.Len(t, out, 1000)
	for i, reading := range out {
		assert.Equal(t, in[2*i], reading)
	}
}

func TestDownsampleStrideOneTruncates(t *testing.T) {
	in := sequence(1500)

	out := Downsample(in, 1000)

	require.Len(t, out, 1000)
	assert.Equal(t, in[:1000], out)
}

func TestDownsampleUnderCapUnchanged(t *testing.T) {
	in := sequence(10)

	assert.Equal(t, in, Downsample(in, 10))
	assert.Equal(t, in, Downsample(in, 50))
}

func TestDownsampleDefaultCap(t *testing.T) {
	assert.Len(t, Downsample(sequence(3000), 0), DefaultMaxPoints)
	assert.Len(t, Downsample(sequence(3000), -5), DefaultMaxPoints)
}

func TestDownsampleKeepsOldestFirst(t *testing.T) {
	in := sequence(7)

	out := Downsample(in, 3)

	assert.Equal(t, []domain.Reading{in[0], in[2], in[4]}, out)
}
