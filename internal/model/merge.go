package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// NoSpikeChecking is a threshold no real price move can exceed.
const NoSpikeChecking = 99999999999.0

var (
	// ErrSpikeDetected means the first new observation jumped further from the
	// last stored price than the allowed threshold.
	ErrSpikeDetected = errors.New("spike detected in new price data")

	// ErrInvariantViolation means a merge would have shrunk stored history.
	ErrInvariantViolation = errors.New("merge invariant violated")
)

// SpikeError carries the two observations that tripped the spike gate.
type SpikeError struct {
	Last     Point
	Incoming Point
	MaxSpike float64
}

func (e *SpikeError) Error() string {
	return fmt.Sprintf("%v: last %.6g at %s, new %.6g at %s, move %.6g > %.6g",
		ErrSpikeDetected,
		e.Last.Price, e.Last.Time.Format(time.RFC3339),
		e.Incoming.Price, e.Incoming.Time.Format(time.RFC3339),
		e.Move(), e.MaxSpike)
}

func (e *SpikeError) Unwrap() error { return ErrSpikeDetected }

// Move is the absolute price jump.
func (e *SpikeError) Move() float64 { return math.Abs(e.Incoming.Price - e.Last.Price) }

// MergeNewer appends the observations of incoming that are strictly newer than
// the last observation of existing. Existing rows are never dropped or
// reordered. When checkForSpike is set and the first newer observation moves
// more than maxSpike from the last existing price, a *SpikeError is returned
// and the merge is abandoned.
func MergeNewer(existing, incoming PriceSeries, checkForSpike bool, maxSpike float64) (PriceSeries, error) {
	incoming = incoming.Normalize()
	last, ok := existing.Last()
	if !ok {
		return incoming, nil
	}
	newer := incoming.After(last.Time)
	if newer.IsEmpty() {
		return existing, nil
	}
	if checkForSpike {
		first := newer.points[0]
		if math.Abs(first.Price-last.Price) > maxSpike {
			return PriceSeries{}, &SpikeError{Last: last, Incoming: first, MaxSpike: maxSpike}
		}
	}
	out := make([]Point, 0, existing.Len()+newer.Len())
	out = append(out, existing.points...)
	out = append(out, newer.points...)
	return PriceSeries{points: out}, nil
}

// FrequencySeries is one input layer of a consolidation.
type FrequencySeries struct {
	Frequency Frequency
	Series    PriceSeries
}

// ConsolidationInput holds the per-frequency series to consolidate. Daily is a
// separate field so it is always applied last and wins on timestamp ties.
type ConsolidationInput struct {
	Intraday []FrequencySeries // finest first
	Daily    PriceSeries
}

// Validate checks that intraday layers are real, distinct, finer than Day and
// ordered finest first.
func (in ConsolidationInput) Validate() error {
	for i, layer := range in.Intraday {
		if !layer.Frequency.IsIntraday() {
			return fmt.Errorf("consolidation layer %d: %s is not an intraday frequency", i, layer.Frequency)
		}
		if i > 0 && !in.Intraday[i-1].Frequency.FinerThan(layer.Frequency) {
			return fmt.Errorf("consolidation layers out of order: %s before %s",
				in.Intraday[i-1].Frequency, layer.Frequency)
		}
	}
	return nil
}

// MergeFrequencies combines every layer by timestamp. On a shared timestamp
// the later layer wins, so Daily overrides any intraday value.
func MergeFrequencies(in ConsolidationInput) (PriceSeries, error) {
	if err := in.Validate(); err != nil {
		return PriceSeries{}, err
	}
	byTime := make(map[int64]Point)
	apply := func(s PriceSeries) {
		for _, p := range s.points {
			byTime[p.Time.UnixNano()] = p
		}
	}
	for _, layer := range in.Intraday {
		apply(layer.Series)
	}
	apply(in.Daily)

	if len(byTime) == 0 {
		return PriceSeries{}, nil
	}
	out := make([]Point, 0, len(byTime))
	for _, p := range byTime {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return PriceSeries{points: out}, nil
}
