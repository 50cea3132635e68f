package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownFrequency is returned when a frequency name or code cannot be parsed.
var ErrUnknownFrequency = errors.New("unknown frequency")

// Frequency is the sampling granularity of a price series.
// Real granularities are ordered finest first; Mixed is synthetic and
// denotes the fully consolidated series.
type Frequency int

const (
	Second Frequency = iota + 1
	TenSeconds
	Minute
	FiveMinutes
	FifteenMinutes
	Hour
	Day
	Mixed
)

type frequencyInfo struct {
	name string // storage key prefix
	code string // short code used in config and on the CLI
	step time.Duration
}

var frequencies = map[Frequency]frequencyInfo{
	Second:         {"Second", "S", time.Second},
	TenSeconds:     {"Seconds_10", "10S", 10 * time.Second},
	Minute:         {"Minute", "M", time.Minute},
	FiveMinutes:    {"Minutes_5", "5M", 5 * time.Minute},
	FifteenMinutes: {"Minutes_15", "15M", 15 * time.Minute},
	Hour:           {"Hour", "H", time.Hour},
	Day:            {"Day", "D", 24 * time.Hour},
	Mixed:          {"Mixed", "MIXED", 0},
}

// AllFrequencies lists every frequency, real granularities finest first, Mixed last.
func AllFrequencies() []Frequency {
	return []Frequency{Second, TenSeconds, Minute, FiveMinutes, FifteenMinutes, Hour, Day, Mixed}
}

// IntradayFrequencies lists the granularities finer than Day, finest first.
func IntradayFrequencies() []Frequency {
	return []Frequency{Second, TenSeconds, Minute, FiveMinutes, FifteenMinutes, Hour}
}

// IsValid reports whether f is one of the known frequencies.
func (f Frequency) IsValid() bool {
	_, ok := frequencies[f]
	return ok
}

// IsIntraday reports whether f is a real granularity finer than Day.
func (f Frequency) IsIntraday() bool {
	return f.IsValid() && f < Day
}

// Name returns the key-scheme name, e.g. "Day" or "Minutes_5".
func (f Frequency) Name() string {
	if info, ok := frequencies[f]; ok {
		return info.name
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// Code returns the short code, e.g. "D" or "5M".
func (f Frequency) Code() string {
	if info, ok := frequencies[f]; ok {
		return info.code
	}
	return ""
}

func (f Frequency) String() string { return f.Name() }

// Duration is the nominal sampling interval; zero for Mixed.
func (f Frequency) Duration() time.Duration {
	return frequencies[f].step
}

// FinerThan reports whether f samples more often than other.
// Mixed is not comparable and always returns false.
func (f Frequency) FinerThan(other Frequency) bool {
	if f == Mixed || other == Mixed {
		return false
	}
	return f < other
}

// ParseFrequency accepts either the key name ("Hour") or the short code ("H"),
// case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	for f, info := range frequencies {
		if strings.EqualFold(s, info.name) || strings.EqualFold(s, info.code) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

// frequencyFromName is strict: only exact key names decode, Mixed never does
// because it has no key prefix.
func frequencyFromName(name string) (Frequency, bool) {
	for f, info := range frequencies {
		if f != Mixed && info.name == name {
			return f, true
		}
	}
	return 0, false
}

// MarshalText encodes the frequency as its short code.
func (f Frequency) MarshalText() ([]byte, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrequency, int(f))
	}
	return []byte(f.Code()), nil
}

// UnmarshalText decodes a name or short code.
func (f *Frequency) UnmarshalText(text []byte) error {
	parsed, err := ParseFrequency(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
