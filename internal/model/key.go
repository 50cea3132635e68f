package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("invalid storage key")
	ErrInvalidInstrument = errors.New("invalid instrument code")
)

const keySeparator = "/"

// ValidateInstrument rejects codes that would break the key scheme.
func ValidateInstrument(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInstrument)
	}
	if strings.Contains(code, keySeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidInstrument, code, keySeparator)
	}
	return nil
}

// StorageKey maps (instrument, frequency) to a backend key.
// Mixed is the bare instrument code, anything else is "Name/code".
func StorageKey(code string, freq Frequency) string {
	if freq == Mixed {
		return code
	}
	return freq.Name() + keySeparator + code
}

// ParseStorageKey is the inverse of StorageKey. A key without a separator is Mixed.
func ParseStorageKey(key string) (string, Frequency, error) {
	prefix, code, found := strings.Cut(key, keySeparator)
	if !found {
		if err := ValidateInstrument(key); err != nil {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		return key, Mixed, nil
	}
	freq, ok := frequencyFromName(prefix)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrInvalidKey, key, ErrUnknownFrequency)
	}
	if err := ValidateInstrument(code); err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return code, freq, nil
}
