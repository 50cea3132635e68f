package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"PriceKeeper/internal/model"
)

// MemoryBackend keeps series in process memory. It backs dry runs and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]model.PriceSeries
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]model.PriceSeries)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) ListInstruments(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range b.data {
		if code, _, err := model.ParseStorageKey(key); err == nil {
			seen[code] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (b *MemoryBackend) ListInstrumentsAt(_ context.Context, freq model.Frequency) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []string{}
	for key := range b.data {
		code, f, err := model.ParseStorageKey(key)
		if err == nil && f == freq {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *MemoryBackend) Has(_ context.Context, code string, freq model.Frequency) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[model.StorageKey(code, freq)]
	return ok, nil
}

func (b *MemoryBackend) Read(_ context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := model.StorageKey(code, freq)
	s, ok := b.data[key]
	if !ok {
		return model.EmptySeries(), fmt.Errorf("%w: %s", ErrMissingData, key)
	}
	return s, nil
}

func (b *MemoryBackend) Write(_ context.Context, code string, freq model.Frequency, series model.PriceSeries, allowOverwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := model.StorageKey(code, freq)
	if _, ok := b.data[key]; ok && !allowOverwrite {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	b.data[key] = series
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, code string, freq model.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := model.StorageKey(code, freq)
	if _, ok := b.data[key]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingData, key)
	}
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
