package collector

import (
	"context"

	"PriceKeeper/internal/model"
)

// Fetcher defines the interface for fetching price history from a broker.
type Fetcher interface {
	Name() string
	// Frequencies lists the granularities the broker exposes.
	Frequencies() []model.Frequency
	FetchBars(ctx context.Context, symbol string, freq model.Frequency) ([]model.Point, error)
}

func supports(f Fetcher, freq model.Frequency) bool {
	for _, have := range f.Frequencies() {
		if have == freq {
			return true
		}
	}
	return false
}
