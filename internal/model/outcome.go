package model

import "fmt"

// OutcomeKind classifies the result of one (instrument, frequency) update.
type OutcomeKind int

const (
	OutcomeRowsAdded OutcomeKind = iota + 1
	OutcomeNoNewData
	OutcomeSpikeDetected
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRowsAdded:
		return "ROWS_ADDED"
	case OutcomeNoNewData:
		return "NO_NEW_DATA"
	case OutcomeSpikeDetected:
		return "SPIKE_DETECTED"
	case OutcomeFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// UpdateOutcome is returned by value from every ingestion attempt so one bad
// instrument never aborts a batch. Err is set for spikes and failures.
type UpdateOutcome struct {
	Instrument string
	Frequency  Frequency
	Kind       OutcomeKind
	RowsAdded  int
	Err        error
}

func RowsAdded(code string, freq Frequency, n int) UpdateOutcome {
	return UpdateOutcome{Instrument: code, Frequency: freq, Kind: OutcomeRowsAdded, RowsAdded: n}
}

func NoNewData(code string, freq Frequency) UpdateOutcome {
	return UpdateOutcome{Instrument: code, Frequency: freq, Kind: OutcomeNoNewData}
}

func SpikeDetected(code string, freq Frequency, err error) UpdateOutcome {
	return UpdateOutcome{Instrument: code, Frequency: freq, Kind: OutcomeSpikeDetected, Err: err}
}

func Failure(code string, freq Frequency, err error) UpdateOutcome {
	return UpdateOutcome{Instrument: code, Frequency: freq, Kind: OutcomeFailure, Err: err}
}

// OK reports whether the attempt left the store consistent and needs no attention.
func (o UpdateOutcome) OK() bool {
	return o.Kind == OutcomeRowsAdded || o.Kind == OutcomeNoNewData
}

func (o UpdateOutcome) String() string {
	switch o.Kind {
	case OutcomeRowsAdded:
		return fmt.Sprintf("%s@%s: %s (%d)", o.Instrument, o.Frequency.Code(), o.Kind, o.RowsAdded)
	case OutcomeNoNewData:
		return fmt.Sprintf("%s@%s: %s", o.Instrument, o.Frequency.Code(), o.Kind)
	default:
		return fmt.Sprintf("%s@%s: %s: %v", o.Instrument, o.Frequency.Code(), o.Kind, o.Err)
	}
}
