// Package store holds the price storage contract, its backends and the
// PriceStore façade that applies the same business rules to all of them.
package store

import (
	"context"
	"errors"

	"PriceKeeper/internal/model"
)

var (
	ErrMissingData   = errors.New("price data not found")
	ErrAlreadyExists = errors.New("price data already exists")
	ErrUnsupported   = errors.New("operation not supported by backend")
	ErrNotConfirmed  = errors.New("delete requires explicit confirmation")
	ErrUnavailable   = errors.New("storage backend unavailable")
)

// Backend reads and writes whole price series per (instrument, frequency).
// Backends are value-storage shims; duplicate-write protection is the only
// rule they enforce themselves.
type Backend interface {
	Name() string

	// ListInstruments returns every instrument code held at any frequency, sorted.
	ListInstruments(ctx context.Context) ([]string, error)

	// ListInstrumentsAt returns the instrument codes held at freq, sorted.
	ListInstrumentsAt(ctx context.Context, freq model.Frequency) ([]string, error)

	Has(ctx context.Context, code string, freq model.Frequency) (bool, error)

	// Read fails with ErrMissingData when nothing is stored.
	Read(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error)

	// Write replaces the stored series. It fails with ErrAlreadyExists when
	// allowOverwrite is false and data is already present.
	Write(ctx context.Context, code string, freq model.Frequency, series model.PriceSeries, allowOverwrite bool) error

	// Delete fails with ErrUnsupported on read-only or append-only backends.
	Delete(ctx context.Context, code string, freq model.Frequency) error

	Close() error
}

// Pinger is implemented by backends whose connectivity can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes b if it supports it; other backends are assumed reachable.
func Ping(ctx context.Context, b Backend) error {
	if p, ok := b.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
