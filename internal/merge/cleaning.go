package merge

import (
	"time"

	"PriceKeeper/internal/model"
)

// CleaningConfig controls how broker prices are filtered before merging.
type CleaningConfig struct {
	IgnoreZeroPrices     bool
	IgnoreNegativePrices bool
	IgnoreFuturePrices   bool
	// MaxPriceSpike is the default spike threshold in price units. Zero or
	// less disables spike checking unless an instrument overrides it.
	MaxPriceSpike float64
}

// DefaultCleaning drops zero, negative and future prices with spike checking off.
func DefaultCleaning() CleaningConfig {
	return CleaningConfig{
		IgnoreZeroPrices:     true,
		IgnoreNegativePrices: true,
		IgnoreFuturePrices:   true,
	}
}

// Clean applies the configured filters.
func (c CleaningConfig) Clean(s model.PriceSeries, now time.Time) model.PriceSeries {
	if c.IgnoreZeroPrices {
		s = s.RemoveZeroPrices()
	}
	if c.IgnoreNegativePrices {
		s = s.RemoveNegativePrices()
	}
	if c.IgnoreFuturePrices {
		s = s.RemoveFutureData(now)
	}
	return s
}

func (c CleaningConfig) defaultSpike() float64 {
	if c.MaxPriceSpike > 0 {
		return c.MaxPriceSpike
	}
	return model.NoSpikeChecking
}
