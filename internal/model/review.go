package model

import "time"

// reviewContext is how many observations either side of a spike are kept for
// the reviewer.
const reviewContext = 20

// SpikeReport is handed to manual review when the spike gate trips. It holds
// the end of the stored series and the start of the rejected broker data.
type SpikeReport struct {
	Instrument string
	Frequency  Frequency
	Last       Point
	Incoming   Point
	MaxSpike   float64
	OldTail    PriceSeries
	NewHead    PriceSeries
	DetectedAt time.Time
}

// NewSpikeReport builds a report from the series that produced spike.
func NewSpikeReport(code string, freq Frequency, existing, incoming PriceSeries, spike *SpikeError, at time.Time) SpikeReport {
	return SpikeReport{
		Instrument: code,
		Frequency:  freq,
		Last:       spike.Last,
		Incoming:   spike.Incoming,
		MaxSpike:   spike.MaxSpike,
		OldTail:    existing.Tail(reviewContext),
		NewHead:    incoming.Normalize().After(spike.Last.Time).Head(reviewContext),
		DetectedAt: at.UTC(),
	}
}

// Move is the absolute jump that tripped the gate.
func (r SpikeReport) Move() float64 {
	return (&SpikeError{Last: r.Last, Incoming: r.Incoming}).Move()
}
