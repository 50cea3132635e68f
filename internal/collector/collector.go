// Package collector adapts broker price feeds to the store's BrokerSource
// capability.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/instrument"
	"PriceKeeper/internal/model"
)

var (
	ErrUnknownInstrument    = errors.New("unknown instrument")
	ErrUnsupportedFrequency = errors.New("unsupported frequency")
)

func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Collector resolves instrument codes to broker symbols, fetches bars and
// scales them into stored price units.
type Collector struct {
	fetcher     Fetcher
	instruments *instrument.Lookup
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, instruments *instrument.Lookup) *Collector {
	return &Collector{fetcher: fetcher, instruments: instruments}
}

func (c *Collector) Name() string { return c.fetcher.Name() }

func (c *Collector) Instruments() []string { return c.instruments.Codes() }

func (c *Collector) Supports(freq model.Frequency) bool { return supports(c.fetcher, freq) }

// FetchPrices returns a normalized series for code at freq.
func (c *Collector) FetchPrices(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	inst, ok := c.instruments.Get(code)
	if !ok {
		return model.EmptySeries(), fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	if !c.Supports(freq) {
		return model.EmptySeries(), fmt.Errorf("%w: %s does not serve %s", ErrUnsupportedFrequency, c.fetcher.Name(), freq)
	}

	bars, err := c.fetcher.FetchBars(ctx, inst.Symbol(), freq)
	if err != nil {
		return model.EmptySeries(), fmt.Errorf("fetch %s %s: %w", inst.Symbol(), freq.Code(), err)
	}
	if m := inst.Magnifier(); m != 1 {
		for i := range bars {
			bars[i].Price *= m
		}
	}
	series := model.NewSeries(bars).Normalize()
	log.Debug().Str("instrument", code).Str("symbol", inst.Symbol()).Str("frequency", freq.Code()).
		Int("rows", series.Len()).Str("broker", c.fetcher.Name()).Msg("fetched broker prices")
	return series, nil
}
