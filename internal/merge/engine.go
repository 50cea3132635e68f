// Package merge reconciles broker prices with stored history: per-frequency
// updates behind a spike gate, then consolidation of every frequency into
// the Mixed series.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/keylock"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/store"
)

// Alerter raises an alert to a human. Delivery failures are logged by the
// engine and never change an outcome.
type Alerter interface {
	Notify(ctx context.Context, subject, body string) error
}

// ReviewSink receives the conflicting series of a spike for manual review.
type ReviewSink interface {
	FileSpikeReport(ctx context.Context, report model.SpikeReport) error
}

// SpikeLimits resolves a per-instrument spike threshold.
type SpikeLimits interface {
	MaxPriceSpike(code string, fallback float64) float64
}

type mergeFunc func(existing, incoming model.PriceSeries, checkForSpike bool, maxSpike float64) (model.PriceSeries, error)

// Options wires an Engine. Store and Broker are required.
type Options struct {
	Store    *store.PriceStore
	Broker   *store.PriceStore
	Locker   keylock.Locker
	Alerter  Alerter
	Reviews  ReviewSink
	Spikes   SpikeLimits
	Cleaning CleaningConfig
	// Intraday is the intraday granularity updated before Day.
	Intraday model.Frequency
}

// Engine runs the update pipeline for one batch.
type Engine struct {
	store    *store.PriceStore
	broker   *store.PriceStore
	locker   keylock.Locker
	alerter  Alerter
	reviews  ReviewSink
	spikes   SpikeLimits
	cleaning CleaningConfig
	intraday model.Frequency

	now   func() time.Time
	merge mergeFunc
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("merge engine: store is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("merge engine: broker is required")
	}
	if opts.Intraday != 0 && !opts.Intraday.IsIntraday() {
		return nil, fmt.Errorf("merge engine: %s is not an intraday frequency", opts.Intraday)
	}
	e := &Engine{
		store:    opts.Store,
		broker:   opts.Broker,
		locker:   opts.Locker,
		alerter:  opts.Alerter,
		reviews:  opts.Reviews,
		spikes:   opts.Spikes,
		cleaning: opts.Cleaning,
		intraday: opts.Intraday,
		now:      time.Now,
		merge:    model.MergeNewer,
	}
	if e.locker == nil {
		e.locker = keylock.NewLocal()
	}
	return e, nil
}

// Frequencies returns the update order: the intraday granularity (if any)
// then Day.
func (e *Engine) Frequencies() []model.Frequency {
	if e.intraday == 0 {
		return []model.Frequency{model.Day}
	}
	return []model.Frequency{e.intraday, model.Day}
}

// Store returns the primary store the engine writes to.
func (e *Engine) Store() *store.PriceStore { return e.store }

func (e *Engine) maxSpike(code string) float64 {
	fallback := e.cleaning.defaultSpike()
	if e.spikes == nil {
		return fallback
	}
	return e.spikes.MaxPriceSpike(code, fallback)
}

// fetch pulls and cleans broker prices. A broker failure is reported as a
// Failure outcome by the caller.
func (e *Engine) fetch(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	raw, err := e.broker.Get(ctx, code, freq, store.ReturnMissing)
	if err != nil {
		return model.EmptySeries(), err
	}
	return e.cleaning.Clean(raw, e.now()), nil
}

// UpdateFrequency fetches broker prices for one key and appends whatever is
// newer than stored history, subject to the spike gate.
func (e *Engine) UpdateFrequency(ctx context.Context, code string, freq model.Frequency) model.UpdateOutcome {
	incoming, err := e.fetch(ctx, code, freq)
	if err != nil {
		log.Error().Err(err).Str("instrument", code).Str("frequency", freq.Code()).
			Msg("something went wrong getting broker prices")
		return model.Failure(code, freq, err)
	}
	if incoming.IsEmpty() {
		log.Info().Str("instrument", code).Str("frequency", freq.Code()).
			Msg("no broker prices found, nothing to check")
		return model.NoNewData(code, freq)
	}
	return e.apply(ctx, code, freq, incoming, true)
}

// ApplyReviewed writes a series that passed manual review. Spike checking is
// off; everything else matches UpdateFrequency.
func (e *Engine) ApplyReviewed(ctx context.Context, code string, freq model.Frequency, reviewed model.PriceSeries) model.UpdateOutcome {
	if reviewed.IsEmpty() {
		return model.NoNewData(code, freq)
	}
	return e.apply(ctx, code, freq, reviewed, false)
}

// AcceptSpike refetches broker prices for a key whose spike a reviewer
// accepted and writes them with spike checking off.
func (e *Engine) AcceptSpike(ctx context.Context, code string, freq model.Frequency) model.UpdateOutcome {
	incoming, err := e.fetch(ctx, code, freq)
	if err != nil {
		return model.Failure(code, freq, err)
	}
	log.Info().Str("instrument", code).Str("frequency", freq.Code()).Int("rows", incoming.Len()).
		Msg("applying reviewed broker prices")
	return e.ApplyReviewed(ctx, code, freq, incoming)
}

func (e *Engine) apply(ctx context.Context, code string, freq model.Frequency, incoming model.PriceSeries, checkForSpike bool) model.UpdateOutcome {
	key := model.StorageKey(code, freq)
	logger := log.With().Str("instrument", code).Str("frequency", freq.Code()).Logger()

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return model.Failure(code, freq, fmt.Errorf("lock %s: %w", key, err))
	}
	defer unlock()

	existing, err := e.store.Get(ctx, code, freq, store.ReturnEmpty)
	if err != nil {
		logger.Error().Err(err).Msg("read stored prices")
		return model.Failure(code, freq, err)
	}

	maxSpike := e.maxSpike(code)
	merged, err := e.merge(existing, incoming, checkForSpike, maxSpike)
	var spike *model.SpikeError
	switch {
	case errors.As(err, &spike):
		e.reportSpike(ctx, code, freq, existing, incoming, spike)
		return model.SpikeDetected(code, freq, err)
	case err != nil:
		logger.Error().Err(err).Msg("merge failed")
		return model.Failure(code, freq, err)
	}

	rowsAdded := merged.Len() - existing.Len()
	if rowsAdded < 0 {
		err := fmt.Errorf("%w: %s would shrink from %d to %d rows", model.ErrInvariantViolation, key, existing.Len(), merged.Len())
		logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("merge result discarded")
		return model.Failure(code, freq, err)
	}
	if rowsAdded == 0 {
		logger.Info().Msg("no new data")
		return model.NoNewData(code, freq)
	}

	if err := e.store.Add(ctx, code, freq, merged, true); err != nil {
		logger.Error().Err(err).Msg("write merged prices")
		return model.Failure(code, freq, err)
	}
	logger.Info().Int("rows", rowsAdded).Msg("added rows")
	return model.RowsAdded(code, freq, rowsAdded)
}

func (e *Engine) reportSpike(ctx context.Context, code string, freq model.Frequency, existing, incoming model.PriceSeries, spike *model.SpikeError) {
	report := model.NewSpikeReport(code, freq, existing, incoming, spike, e.now())
	log.Warn().Str("instrument", code).Str("frequency", freq.Code()).
		Float64("last", spike.Last.Price).Float64("new", spike.Incoming.Price).Float64("max_spike", spike.MaxSpike).
		Msg("spike found in prices, need to manually check")

	if e.alerter != nil {
		subject, body := spikeAlert(report)
		if err := e.alerter.Notify(ctx, subject, body); err != nil {
			log.Warn().Err(err).Str("instrument", code).Msg("couldn't send alert about price spike")
		}
	}
	if e.reviews != nil {
		if err := e.reviews.FileSpikeReport(ctx, report); err != nil {
			log.Error().Err(err).Str("instrument", code).Msg("file spike report")
		}
	}
}

// Consolidate recomputes the Mixed series from whatever per-frequency data is
// currently stored and overwrites it. Day always wins on shared timestamps.
func (e *Engine) Consolidate(ctx context.Context, code string) (int, error) {
	key := model.StorageKey(code, model.Mixed)
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	var in model.ConsolidationInput
	if e.intraday != 0 {
		s, err := e.store.Get(ctx, code, e.intraday, store.ReturnEmpty)
		if err != nil {
			return 0, err
		}
		in.Intraday = []model.FrequencySeries{{Frequency: e.intraday, Series: s}}
	}
	in.Daily, err = e.store.Get(ctx, code, model.Day, store.ReturnEmpty)
	if err != nil {
		return 0, err
	}

	merged, err := model.MergeFrequencies(in)
	if err != nil {
		return 0, err
	}
	if merged.IsEmpty() {
		log.Info().Str("instrument", code).Msg("nothing to consolidate")
		return 0, nil
	}
	if err := e.store.WriteMerged(ctx, code, merged, true); err != nil {
		return 0, fmt.Errorf("write merged %s: %w", code, err)
	}
	log.Info().Str("instrument", code).Int("rows", merged.Len()).Msg("wrote merged prices")
	return merged.Len(), nil
}

// InstrumentResult is the outcome of one instrument's full update.
type InstrumentResult struct {
	Instrument     string
	Outcomes       []model.UpdateOutcome
	MergedRows     int
	ConsolidateErr error
	Aborted        bool // an invariant violation stopped this instrument
}

// OK reports whether every step succeeded.
func (r InstrumentResult) OK() bool {
	if r.Aborted || r.ConsolidateErr != nil {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.OK() {
			return false
		}
	}
	return true
}

// RowsAdded sums rows added over every frequency.
func (r InstrumentResult) RowsAdded() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.RowsAdded
	}
	return n
}

// UpdateInstrument updates the intraday frequency then Day, then
// consolidates. A failing frequency does not stop the next one and never
// undoes an earlier write. An invariant violation stops the instrument
// before consolidation.
func (e *Engine) UpdateInstrument(ctx context.Context, code string) InstrumentResult {
	res := InstrumentResult{Instrument: code}
	for _, freq := range e.Frequencies() {
		if err := ctx.Err(); err != nil {
			res.Outcomes = append(res.Outcomes, model.Failure(code, freq, err))
			res.Aborted = true
			return res
		}
		o := e.UpdateFrequency(ctx, code, freq)
		res.Outcomes = append(res.Outcomes, o)
		if errors.Is(o.Err, model.ErrInvariantViolation) {
			res.Aborted = true
			return res
		}
	}
	res.MergedRows, res.ConsolidateErr = e.Consolidate(ctx, code)
	if res.ConsolidateErr != nil {
		log.Error().Err(res.ConsolidateErr).Str("instrument", code).Msg("consolidation failed")
	}
	return res
}

// Seed loads broker history straight into the store. With overwrite unset an
// existing series is left untouched and ErrAlreadyExists is returned.
func (e *Engine) Seed(ctx context.Context, code string, freq model.Frequency, overwrite bool) (int, error) {
	series, err := e.fetch(ctx, code, freq)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", model.StorageKey(code, freq), err)
	}
	if series.IsEmpty() {
		log.Warn().Str("instrument", code).Str("frequency", freq.Code()).Msg("broker returned no prices to seed")
		return 0, nil
	}
	key := model.StorageKey(code, freq)
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()
	if err := e.store.Add(ctx, code, freq, series, overwrite); err != nil {
		return 0, err
	}
	return series.Len(), nil
}
