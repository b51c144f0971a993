package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloatToFixedRoundTrip(t *testing.T) {
	require.Equal(t, int64(1000), FloatToFixed(1.0))
	require.Equal(t, int64(-1000), FloatToFixed(-1.0))
	require.Equal(t, int64(1500), FloatToFixed(1.5))
	require.Equal(t, int64(-250), FloatToFixed(-0.25))
	require.InDelta(t, 0.123, FixedToFloat(FloatToFixed(0.123)), 1.0/Precision)
}

func TestSignedTagging(t *testing.T) {
	s := NewSigned(-42)
	require.True(t, s.Neg)
	require.Equal(t, uint64(42), s.Mag)
	require.Equal(t, int64(-42), s.Int64())

	s = NewSigned(7)
	require.False(t, s.Neg)
	require.Equal(t, uint64(7), s.Mag)
	require.Equal(t, int64(7), s.Int64())

	s = NewSigned(0)
	require.False(t, s.Neg)
	require.Equal(t, int64(0), s.Int64())
}

func TestSignedInt64Extremes(t *testing.T) {
	// Two's-complement wraparound makes uint64(-v) the exact magnitude even
	// at MinInt64, where -v overflows in the signed domain.
	s := NewSigned(math.MinInt64)
	require.True(t, s.Neg)
	require.Equal(t, uint64(1)<<63, s.Mag)
	require.Equal(t, int64(math.MinInt64), s.Int64())

	s = NewSigned(math.MaxInt64)
	require.False(t, s.Neg)
	require.Equal(t, uint64(math.MaxInt64), s.Mag)
	require.Equal(t, int64(math.MaxInt64), s.Int64())
}

func TestSyntheticDatasetDeterministic(t *testing.T) {
	a := SyntheticDataset(16, 4, 7)
	b := SyntheticDataset(16, 4, 7)
	require.Equal(t, a, b)
	for _, rec := range a {
		require.Contains(t, []int64{0, 1}, rec.Label)
		require.Len(t, rec.Features, 4)
	}
}
