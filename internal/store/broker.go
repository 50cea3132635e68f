package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/model"
)

// BrokerSource is the broker capability wrapped by BrokerBackend.
type BrokerSource interface {
	Name() string
	Instruments() []string
	Supports(freq model.Frequency) bool
	FetchPrices(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error)
}

// BrokerBackend is a read-only view of live broker history. Every Read is a
// network fetch and may be slow, fail, or return partial data.
type BrokerBackend struct {
	source BrokerSource
}

func NewBrokerBackend(source BrokerSource) *BrokerBackend {
	return &BrokerBackend{source: source}
}

func (b *BrokerBackend) Name() string { return "broker:" + b.source.Name() }

func (b *BrokerBackend) ListInstruments(_ context.Context) ([]string, error) {
	codes := append([]string(nil), b.source.Instruments()...)
	sort.Strings(codes)
	return codes, nil
}

func (b *BrokerBackend) ListInstrumentsAt(ctx context.Context, freq model.Frequency) ([]string, error) {
	if !b.source.Supports(freq) {
		return []string{}, nil
	}
	return b.ListInstruments(ctx)
}

func (b *BrokerBackend) Has(_ context.Context, code string, freq model.Frequency) (bool, error) {
	if !b.source.Supports(freq) {
		return false, nil
	}
	for _, c := range b.source.Instruments() {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

// Read fetches from the broker. Any fetch failure is reported as missing data.
func (b *BrokerBackend) Read(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	series, err := b.source.FetchPrices(ctx, code, freq)
	if err != nil {
		log.Warn().Err(err).Str("instrument", code).Str("frequency", freq.Code()).
			Str("broker", b.source.Name()).Msg("broker fetch failed")
		return model.EmptySeries(), fmt.Errorf("%w: %s from %s: %w", ErrMissingData, model.StorageKey(code, freq), b.source.Name(), err)
	}
	if series.IsEmpty() {
		log.Warn().Str("instrument", code).Str("frequency", freq.Code()).Msg("no broker price data found")
	}
	return series, nil
}

func (b *BrokerBackend) Write(_ context.Context, code string, freq model.Frequency, _ model.PriceSeries, _ bool) error {
	return fmt.Errorf("%w: broker is a read only source of prices (%s)", ErrUnsupported, model.StorageKey(code, freq))
}

func (b *BrokerBackend) Delete(_ context.Context, code string, freq model.Frequency) error {
	return fmt.Errorf("%w: broker is a read only source of prices (%s)", ErrUnsupported, model.StorageKey(code, freq))
}

func (b *BrokerBackend) Close() error { return nil }
