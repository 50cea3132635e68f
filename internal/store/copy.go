package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/model"
)

// CopyReport counts what Copy did.
type CopyReport struct {
	Copied  int
	Skipped int
	Rows    int
}

// Copy transfers every (instrument, frequency) series held by src into dst.
// Existing keys in dst are skipped unless overwrite is set.
func Copy(ctx context.Context, src, dst *PriceStore, overwrite bool) (CopyReport, error) {
	var report CopyReport
	for _, freq := range model.AllFrequencies() {
		codes, err := src.InstrumentsAt(ctx, freq)
		if err != nil {
			return report, fmt.Errorf("list %s in %s: %w", freq, src.Name(), err)
		}
		for _, code := range codes {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			series, err := src.Get(ctx, code, freq, ReturnMissing)
			if err != nil {
				return report, fmt.Errorf("read %s: %w", model.StorageKey(code, freq), err)
			}
			err = dst.Add(ctx, code, freq, series, overwrite)
			if errors.Is(err, ErrAlreadyExists) {
				report.Skipped++
				continue
			}
			if err != nil {
				return report, err
			}
			report.Copied++
			report.Rows += series.Len()
		}
	}
	log.Info().Str("from", src.Name()).Str("to", dst.Name()).
		Int("copied", report.Copied).Int("skipped", report.Skipped).Int("rows", report.Rows).
		Msg("copied price data")
	return report, nil
}
