package collector

import (
	"context"
	"time"

	"PriceKeeper/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price float64
	Count int
	Bars  map[model.Frequency][]model.Point
	Err   error
	Now   func() time.Time
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Frequencies() []model.Frequency {
	return []model.Frequency{model.Hour, model.Day}
}

func (m *MockFetcher) FetchBars(_ context.Context, _ string, freq model.Frequency) ([]model.Point, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Bars != nil {
		return append([]model.Point(nil), m.Bars[freq]...), nil
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	count := m.Count
	if count <= 0 {
		count = 100
	}
	return generateMockBars(m.Price, count, freq.Duration(), now()), nil
}

// generateMockBars builds count bars ending at the last whole step before end.
func generateMockBars(basePrice float64, count int, step time.Duration, end time.Time) []model.Point {
	last := end.UTC().Truncate(step)
	bars := make([]model.Point, count)
	for i := 0; i < count; i++ {
		bars[i] = model.Point{
			Time:  last.Add(-time.Duration(count-1-i) * step),
			Price: basePrice * (1 + float64(i-count/2)*0.001),
		}
	}
	return bars
}
