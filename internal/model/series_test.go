package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func series(pairs ...float64) PriceSeries {
	// pairs: hour offset, price, hour offset, price...
	pts := make([]Point, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		pts = append(pts, Point{Time: at(int(pairs[i])), Price: pairs[i+1]})
	}
	return NewSeries(pts)
}

func TestEmptySeries(t *testing.T) {
	s := EmptySeries()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
	_, ok := s.Last()
	assert.False(t, ok)
}

func TestCleaning(t *testing.T) {
	s := series(1, 10, 2, 0, 3, -5, 4, 12)

	assert.Equal(t, 3, s.RemoveZeroPrices().Len())
	assert.Equal(t, 3, s.RemoveNegativePrices().Len())
	assert.Equal(t, 2, s.RemoveZeroPrices().RemoveNegativePrices().Len())
	assert.Equal(t, 4, s.Len(), "cleaning must not mutate the receiver")

	now := at(2)
	future := s.RemoveFutureData(now)
	require.Equal(t, 2, future.Len())
	last, _ := future.Last()
	assert.Equal(t, at(2), last.Time)
}

func TestNormalizeKeepsLastDuplicate(t *testing.T) {
	s := series(3, 30, 1, 10, 3, 31, 2, 20)
	n := s.Normalize()

	require.Equal(t, 3, n.Len())
	assert.True(t, n.IsStrictlyIncreasing())
	assert.Equal(t, 31.0, n.At(2).Price)
}

func TestMergeNewer(t *testing.T) {
	tests := []struct {
		name     string
		existing PriceSeries
		incoming PriceSeries
		wantLen  int
		wantLast float64
	}{
		{"empty existing takes incoming", EmptySeries(), series(1, 10, 2, 11), 2, 11},
		{"empty incoming keeps existing", series(1, 10), EmptySeries(), 1, 10},
		{"only strictly newer rows appended", series(1, 10, 2, 11), series(1, 99, 2, 98, 3, 12), 3, 12},
		{"older rows ignored", series(5, 10), series(1, 1, 2, 2), 1, 10},
		{"unsorted incoming", series(1, 10), series(4, 14, 2, 12, 3, 13), 4, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergeNewer(tt.existing, tt.incoming, true, 50)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, merged.Len())
			assert.True(t, merged.IsStrictlyIncreasing())
			last, _ := merged.Last()
			assert.Equal(t, tt.wantLast, last.Price)

			// existing rows are a prefix of the merge
			for i := 0; i < tt.existing.Len(); i++ {
				assert.Equal(t, tt.existing.At(i), merged.At(i))
			}
		})
	}
}

func TestMergeNewerSpike(t *testing.T) {
	existing := series(1, 100)
	incoming := series(2, 500)

	_, err := MergeNewer(existing, incoming, true, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpikeDetected))

	var spike *SpikeError
	require.True(t, errors.As(err, &spike))
	assert.Equal(t, 400.0, spike.Move())

	merged, err := MergeNewer(existing, incoming, false, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len())
}

func TestMergeNewerSpikeOnlyChecksFirstNewRow(t *testing.T) {
	existing := series(1, 100)
	incoming := series(0, 900, 2, 120, 3, 500)

	merged, err := MergeNewer(existing, incoming, true, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Len())
}

func TestMergeNewerIdempotent(t *testing.T) {
	existing := series(1, 10, 2, 11)
	incoming := series(3, 12, 4, 13)

	once, err := MergeNewer(existing, incoming, true, 50)
	require.NoError(t, err)
	twice, err := MergeNewer(once, incoming, true, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, twice.Len()-once.Len())
	assert.True(t, once.Equal(twice))
}

func TestMergeFrequenciesDailyWins(t *testing.T) {
	boundary := t0.Add(24 * time.Hour)
	in := ConsolidationInput{
		Intraday: []FrequencySeries{{
			Frequency: Hour,
			Series: NewSeries([]Point{
				{Time: boundary.Add(-time.Hour), Price: 100},
				{Time: boundary, Price: 101},
				{Time: boundary.Add(time.Hour), Price: 103},
			}),
		}},
		Daily: NewSeries([]Point{{Time: t0, Price: 99}, {Time: boundary, Price: 102}}),
	}

	merged, err := MergeFrequencies(in)
	require.NoError(t, err)
	require.Equal(t, 4, merged.Len())
	assert.True(t, merged.IsStrictlyIncreasing())
	for _, p := range merged.Points() {
		if p.Time.Equal(boundary) {
			assert.Equal(t, 102.0, p.Price)
		}
	}
}

func TestMergeFrequenciesRejectsBadOrder(t *testing.T) {
	_, err := MergeFrequencies(ConsolidationInput{Intraday: []FrequencySeries{
		{Frequency: Hour}, {Frequency: Minute},
	}})
	assert.Error(t, err)

	_, err = MergeFrequencies(ConsolidationInput{Intraday: []FrequencySeries{{Frequency: Day}}})
	assert.Error(t, err)
}

func TestDailyClose(t *testing.T) {
	s := NewSeries([]Point{
		{Time: t0.Add(10 * time.Hour), Price: 1},
		{Time: t0.Add(16 * time.Hour), Price: 2},
		{Time: t0.Add(34 * time.Hour), Price: 3},
	})
	d := s.DailyClose()
	require.Equal(t, 2, d.Len())
	assert.Equal(t, 2.0, d.At(0).Price)
	assert.True(t, d.At(0).Time.Equal(t0))
	assert.Equal(t, 3.0, d.At(1).Price)
}

func TestSinceAndTail(t *testing.T) {
	s := series(1, 1, 2, 2, 3, 3)
	assert.Equal(t, 2, s.Since(at(2)).Len())
	assert.Equal(t, 1, s.After(at(2)).Len())
	assert.Equal(t, 2, s.Tail(2).Len())
	assert.Equal(t, 3, s.Tail(10).Len())
	assert.Equal(t, 1, s.Head(1).Len())
}
