// Package instrument holds the read-only instrument metadata consumed by the
// collector and the merge engine.
package instrument

import (
	"errors"
	"fmt"
	"sort"

	"PriceKeeper/internal/model"
)

var ErrDuplicateInstrument = errors.New("duplicate instrument")

// Instrument is the static configuration of one tradeable instrument.
type Instrument struct {
	Code         string  `yaml:"code"`
	BrokerSymbol string  `yaml:"broker_symbol"`
	Exchange     string  `yaml:"exchange"`
	Currency     string  `yaml:"currency"`
	Multiplier   float64 `yaml:"multiplier"`
	// PriceMagnifier scales broker prices into the units stored locally,
	// e.g. 100 for a contract quoted in dollars but stored in cents.
	PriceMagnifier float64 `yaml:"price_magnifier"`
	// MaxPriceSpike overrides the configured default when positive.
	MaxPriceSpike float64 `yaml:"max_price_spike"`
}

// Symbol returns the broker ticker, falling back to the instrument code.
func (i Instrument) Symbol() string {
	if i.BrokerSymbol != "" {
		return i.BrokerSymbol
	}
	return i.Code
}

// Magnifier returns PriceMagnifier, or 1 when unset.
func (i Instrument) Magnifier() float64 {
	if i.PriceMagnifier > 0 {
		return i.PriceMagnifier
	}
	return 1
}

// Lookup is an immutable index of instruments keyed by code.
type Lookup struct {
	byCode map[string]Instrument
	codes  []string
}

// NewLookup indexes instruments, rejecting invalid or repeated codes.
func NewLookup(instruments []Instrument) (*Lookup, error) {
	l := &Lookup{byCode: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		if err := model.ValidateInstrument(inst.Code); err != nil {
			return nil, err
		}
		if _, ok := l.byCode[inst.Code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.Code)
		}
		l.byCode[inst.Code] = inst
		l.codes = append(l.codes, inst.Code)
	}
	sort.Strings(l.codes)
	return l, nil
}

// Get returns the instrument for code.
func (l *Lookup) Get(code string) (Instrument, bool) {
	inst, ok := l.byCode[code]
	return inst, ok
}

// Codes returns every configured code, sorted.
func (l *Lookup) Codes() []string {
	return append([]string(nil), l.codes...)
}

func (l *Lookup) Len() int { return len(l.codes) }

// MaxPriceSpike returns the instrument's spike threshold, or fallback when
// the instrument is unknown or has no override.
func (l *Lookup) MaxPriceSpike(code string, fallback float64) float64 {
	if inst, ok := l.byCode[code]; ok && inst.MaxPriceSpike > 0 {
		return inst.MaxPriceSpike
	}
	return fallback
}
