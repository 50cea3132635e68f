package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/model"
)

// IfAbsent selects what Get returns when nothing is stored.
type IfAbsent int

const (
	// ReturnEmpty yields an empty series and no error.
	ReturnEmpty IfAbsent = iota
	// ReturnMissing yields an empty series and ErrMissingData.
	ReturnMissing
)

// PriceStore applies existence checks, overwrite and delete guards on top of
// any Backend. It holds no data of its own.
type PriceStore struct {
	backend Backend
}

func NewPriceStore(backend Backend) *PriceStore {
	return &PriceStore{backend: backend}
}

// Backend returns the wrapped backend.
func (s *PriceStore) Backend() Backend { return s.backend }

func (s *PriceStore) Name() string { return s.backend.Name() }

// Ping checks the backend is reachable.
func (s *PriceStore) Ping(ctx context.Context) error { return Ping(ctx, s.backend) }

// Instruments lists the instruments with a merged (Mixed) series.
func (s *PriceStore) Instruments(ctx context.Context) ([]string, error) {
	return s.backend.ListInstrumentsAt(ctx, model.Mixed)
}

// InstrumentsAt lists the instruments stored at freq.
func (s *PriceStore) InstrumentsAt(ctx context.Context, freq model.Frequency) ([]string, error) {
	return s.backend.ListInstrumentsAt(ctx, freq)
}

// AllInstruments lists every instrument held at any frequency.
func (s *PriceStore) AllInstruments(ctx context.Context) ([]string, error) {
	return s.backend.ListInstruments(ctx)
}

func (s *PriceStore) Has(ctx context.Context, code string, freq model.Frequency) (bool, error) {
	if err := model.ValidateInstrument(code); err != nil {
		return false, err
	}
	return s.backend.Has(ctx, code, freq)
}

// Get never fails for "not found": it returns an empty series, with
// ErrMissingData only when ifAbsent is ReturnMissing.
func (s *PriceStore) Get(ctx context.Context, code string, freq model.Frequency, ifAbsent IfAbsent) (model.PriceSeries, error) {
	if err := model.ValidateInstrument(code); err != nil {
		return model.EmptySeries(), err
	}
	series, err := s.backend.Read(ctx, code, freq)
	if errors.Is(err, ErrMissingData) {
		if ifAbsent == ReturnMissing {
			return model.EmptySeries(), err
		}
		return model.EmptySeries(), nil
	}
	if err != nil {
		return model.EmptySeries(), err
	}
	return series, nil
}

// Add writes series. Without allowOverwrite it refuses to touch existing data
// and reports ErrAlreadyExists.
func (s *PriceStore) Add(ctx context.Context, code string, freq model.Frequency, series model.PriceSeries, allowOverwrite bool) error {
	if err := model.ValidateInstrument(code); err != nil {
		return err
	}
	key := model.StorageKey(code, freq)
	if !allowOverwrite {
		exists, err := s.backend.Has(ctx, code, freq)
		if err != nil {
			return err
		}
		if exists {
			log.Warn().Str("key", key).Str("store", s.Name()).
				Msg("price data already stored, delete it first or add with overwrite")
			return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
		}
	}

	err := s.backend.Write(ctx, code, freq, series, allowOverwrite)
	switch {
	case errors.Is(err, ErrAlreadyExists):
		log.Warn().Str("key", key).Str("store", s.Name()).Msg("price data already stored")
		return err
	case errors.Is(err, ErrUnsupported):
		log.Error().Err(err).Str("key", key).Str("store", s.Name()).Msg("write not supported")
		return err
	case err != nil:
		return fmt.Errorf("write %s: %w", key, err)
	}

	log.Info().Str("key", key).Int("rows", series.Len()).Str("store", s.Name()).Msg("added price data")
	return nil
}

// Delete removes a series only when confirm is set. Deleting something that is
// not stored is a logged no-op.
func (s *PriceStore) Delete(ctx context.Context, code string, freq model.Frequency, confirm bool) error {
	if err := model.ValidateInstrument(code); err != nil {
		return err
	}
	key := model.StorageKey(code, freq)
	if !confirm {
		log.Error().Str("key", key).Msg("delete called without confirmation flag")
		return fmt.Errorf("%w: %s", ErrNotConfirmed, key)
	}

	exists, err := s.backend.Has(ctx, code, freq)
	if err != nil {
		return err
	}
	if !exists {
		log.Warn().Str("key", key).Msg("tried to delete non existent price data")
		return nil
	}

	if err := s.backend.Delete(ctx, code, freq); err != nil {
		if errors.Is(err, ErrUnsupported) {
			log.Error().Err(err).Str("key", key).Str("store", s.Name()).Msg("delete not supported")
			return err
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	log.Info().Str("key", key).Str("store", s.Name()).Msg("deleted price data")
	return nil
}

// GetMerged is Get scoped to the consolidated Mixed series.
func (s *PriceStore) GetMerged(ctx context.Context, code string, ifAbsent IfAbsent) (model.PriceSeries, error) {
	return s.Get(ctx, code, model.Mixed, ifAbsent)
}

// WriteMerged is Add scoped to the consolidated Mixed series.
func (s *PriceStore) WriteMerged(ctx context.Context, code string, series model.PriceSeries, allowOverwrite bool) error {
	return s.Add(ctx, code, model.Mixed, series, allowOverwrite)
}

// HasMerged reports whether a consolidated series exists.
func (s *PriceStore) HasMerged(ctx context.Context, code string) (bool, error) {
	return s.Has(ctx, code, model.Mixed)
}

// DeleteMerged is Delete scoped to the consolidated Mixed series.
func (s *PriceStore) DeleteMerged(ctx context.Context, code string, confirm bool) error {
	return s.Delete(ctx, code, model.Mixed, confirm)
}

func (s *PriceStore) Close() error { return s.backend.Close() }
