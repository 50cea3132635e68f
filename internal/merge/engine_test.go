package merge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceKeeper/internal/instrument"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/store"
)

var (
	t0  = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func daily(prices ...float64) model.PriceSeries {
	pts := make([]model.Point, len(prices))
	for i, p := range prices {
		pts[i] = model.Point{Time: t0.AddDate(0, 0, i), Price: p}
	}
	return model.NewSeries(pts)
}

type fakeBroker struct {
	series map[string]model.PriceSeries
	err    error
}

func (f *fakeBroker) Name() string          { return "fake" }
func (f *fakeBroker) Instruments() []string { return []string{"SPY"} }
func (f *fakeBroker) Supports(freq model.Frequency) bool {
	return freq == model.Day || freq == model.Hour
}

func (f *fakeBroker) FetchPrices(_ context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	if f.err != nil {
		return model.EmptySeries(), f.err
	}
	return f.series[model.StorageKey(code, freq)], nil
}

type recordingAlerter struct {
	subjects []string
	err      error
}

func (a *recordingAlerter) Notify(_ context.Context, subject, _ string) error {
	a.subjects = append(a.subjects, subject)
	return a.err
}

type recordingReviews struct {
	reports []model.SpikeReport
}

func (r *recordingReviews) FileSpikeReport(_ context.Context, report model.SpikeReport) error {
	r.reports = append(r.reports, report)
	return nil
}

type fixture struct {
	engine  *Engine
	store   *store.PriceStore
	broker  *fakeBroker
	alerter *recordingAlerter
	reviews *recordingReviews
}

func newFixture(t *testing.T, cleaning CleaningConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewPriceStore(store.NewMemoryBackend()),
		broker:  &fakeBroker{series: map[string]model.PriceSeries{}},
		alerter: &recordingAlerter{},
		reviews: &recordingReviews{},
	}
	e, err := NewEngine(Options{
		Store:    f.store,
		Broker:   store.NewPriceStore(store.NewBrokerBackend(f.broker)),
		Alerter:  f.alerter,
		Reviews:  f.reviews,
		Cleaning: cleaning,
		Intraday: model.Hour,
	})
	require.NoError(t, err)
	e.now = func() time.Time { return now }
	f.engine = e
	return f
}

func (f *fixture) stored(t *testing.T, freq model.Frequency) model.PriceSeries {
	t.Helper()
	s, err := f.store.Get(context.Background(), "SPY", freq, store.ReturnEmpty)
	require.NoError(t, err)
	return s
}

func TestUpdateFrequencyAppendsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(100, 101), false))
	f.broker.series["Day/SPY"] = daily(100, 101, 102, 103)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeRowsAdded, o.Kind)
	assert.Equal(t, 2, o.RowsAdded)
	assert.True(t, f.stored(t, model.Day).Equal(daily(100, 101, 102, 103)))

	o = f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeNoNewData, o.Kind)
	assert.Equal(t, 0, o.RowsAdded)
}

func TestUpdateFrequencyIntoEmptyStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	f.broker.series["Hour/SPY"] = daily(5, 6)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Hour)
	assert.Equal(t, model.OutcomeRowsAdded, o.Kind)
	assert.Equal(t, 2, o.RowsAdded)
}

func TestSpikeGateLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 50})
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(99, 100), false))
	f.broker.series["Day/SPY"] = daily(99, 100, 500, 501)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeSpikeDetected, o.Kind)
	assert.True(t, errors.Is(o.Err, model.ErrSpikeDetected))
	assert.True(t, f.stored(t, model.Day).Equal(daily(99, 100)))

	assert.Equal(t, []string{"Price Spike SPY"}, f.alerter.subjects)
	require.Len(t, f.reviews.reports, 1)
	r := f.reviews.reports[0]
	assert.Equal(t, 100.0, r.Last.Price)
	assert.Equal(t, 500.0, r.Incoming.Price)
	assert.Equal(t, 2, r.OldTail.Len())
	assert.Equal(t, 2, r.NewHead.Len())
}

func TestAlertFailureDoesNotChangeOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 50})
	f.alerter.err = errors.New("smtp down")
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(100), false))
	f.broker.series["Day/SPY"] = daily(100, 500)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeSpikeDetected, o.Kind)
	assert.Len(t, f.reviews.reports, 1)
}

func TestInstrumentSpikeOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 1000})
	lookup, err := instrument.NewLookup([]instrument.Instrument{{Code: "SPY", MaxPriceSpike: 10}})
	require.NoError(t, err)
	f.engine.spikes = lookup

	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(100), false))
	f.broker.series["Day/SPY"] = daily(100, 120)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeSpikeDetected, o.Kind)
}

func TestSpikeCheckingOffByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(100), false))
	f.broker.series["Day/SPY"] = daily(100, 5000)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeRowsAdded, o.Kind)
}

func TestBrokerFailureAndEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeNoNewData, o.Kind)

	f.broker.err = errors.New("connection reset")
	o = f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeFailure, o.Kind)
	assert.True(t, errors.Is(o.Err, store.ErrMissingData))
}

func TestCleaningDropsBadBrokerRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	f.broker.series["Day/SPY"] = model.NewSeries([]model.Point{
		{Time: t0, Price: 0},
		{Time: t0.AddDate(0, 0, 1), Price: -3},
		{Time: t0.AddDate(0, 0, 2), Price: 10},
		{Time: now.Add(time.Hour), Price: 11},
	})

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	require.Equal(t, model.OutcomeRowsAdded, o.Kind)
	assert.Equal(t, 1, o.RowsAdded)
}

func TestInvariantViolationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	require.NoError(t, f.store.Add(ctx, "SPY", model.Hour, daily(1, 2, 3), false))
	f.broker.series["Hour/SPY"] = daily(1, 2, 3, 4)
	f.broker.series["Day/SPY"] = daily(1, 2, 3, 4)
	f.engine.merge = func(existing, _ model.PriceSeries, _ bool, _ float64) (model.PriceSeries, error) {
		return existing.Head(1), nil
	}

	res := f.engine.UpdateInstrument(ctx, "SPY")
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Aborted)
	assert.False(t, res.OK())
	assert.Equal(t, model.OutcomeFailure, res.Outcomes[0].Kind)
	assert.True(t, errors.Is(res.Outcomes[0].Err, model.ErrInvariantViolation))

	assert.Equal(t, 3, f.stored(t, model.Hour).Len())
	assert.True(t, f.stored(t, model.Day).IsEmpty())
	assert.True(t, f.stored(t, model.Mixed).IsEmpty())
}

func TestConsolidationDailyWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	boundary := t0.AddDate(0, 0, 1)
	require.NoError(t, f.store.Add(ctx, "SPY", model.Hour, model.NewSeries([]model.Point{
		{Time: boundary.Add(-time.Hour), Price: 100.5},
		{Time: boundary, Price: 101},
		{Time: boundary.Add(time.Hour), Price: 101.5},
	}), false))
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, model.NewSeries([]model.Point{
		{Time: t0, Price: 99},
		{Time: boundary, Price: 102},
	}), false))

	rows, err := f.engine.Consolidate(ctx, "SPY")
	require.NoError(t, err)
	assert.Equal(t, 4, rows)

	mixed := f.stored(t, model.Mixed)
	require.Equal(t, 4, mixed.Len())
	assert.True(t, mixed.IsStrictlyIncreasing())
	assert.Equal(t, boundary, mixed.At(2).Time)
	assert.Equal(t, 102.0, mixed.At(2).Price)
}

func TestUpdateInstrumentFullPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	f.broker.series["Hour/SPY"] = model.NewSeries([]model.Point{
		{Time: t0.Add(14 * time.Hour), Price: 10.5},
		{Time: t0.Add(15 * time.Hour), Price: 10.7},
	})
	f.broker.series["Day/SPY"] = daily(10, 11)

	res := f.engine.UpdateInstrument(ctx, "SPY")
	assert.True(t, res.OK())
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.Hour, res.Outcomes[0].Frequency)
	assert.Equal(t, model.Day, res.Outcomes[1].Frequency)
	assert.Equal(t, 4, res.RowsAdded())
	assert.Equal(t, 4, res.MergedRows)

	// no new intraday data still reconsolidates
	f.broker.series["Day/SPY"] = daily(10, 11, 12)
	f.broker.series["Hour/SPY"] = model.EmptySeries()
	res = f.engine.UpdateInstrument(ctx, "SPY")
	assert.True(t, res.OK())
	assert.Equal(t, 5, res.MergedRows)
}

func TestUpdateInstrumentContinuesAfterSpike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 5})
	require.NoError(t, f.store.Add(ctx, "SPY", model.Hour, daily(10), false))
	f.broker.series["Hour/SPY"] = daily(10, 90)
	f.broker.series["Day/SPY"] = daily(10, 11)

	res := f.engine.UpdateInstrument(ctx, "SPY")
	assert.False(t, res.OK())
	assert.False(t, res.Aborted)
	assert.Equal(t, model.OutcomeSpikeDetected, res.Outcomes[0].Kind)
	assert.Equal(t, model.OutcomeRowsAdded, res.Outcomes[1].Kind)
	assert.NoError(t, res.ConsolidateErr)
	assert.Equal(t, 2, res.MergedRows)
}

func TestApplyReviewedSkipsSpikeGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 5})
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(10), false))

	o := f.engine.ApplyReviewed(ctx, "SPY", model.Day, daily(10, 90))
	assert.Equal(t, model.OutcomeRowsAdded, o.Kind)
	assert.Empty(t, f.alerter.subjects)
}

func TestAcceptSpikeAfterReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CleaningConfig{MaxPriceSpike: 50})
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(99, 100), false))
	f.broker.series["Day/SPY"] = daily(99, 100, 500, 501)

	o := f.engine.UpdateFrequency(ctx, "SPY", model.Day)
	require.Equal(t, model.OutcomeSpikeDetected, o.Kind)

	o = f.engine.AcceptSpike(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeRowsAdded, o.Kind)
	assert.Equal(t, 2, o.RowsAdded)
	assert.True(t, f.stored(t, model.Day).Equal(daily(99, 100, 500, 501)))
	assert.Len(t, f.alerter.subjects, 1)

	f.broker.err = errors.New("timeout")
	o = f.engine.AcceptSpike(ctx, "SPY", model.Day)
	assert.Equal(t, model.OutcomeFailure, o.Kind)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	f.broker.series["Day/SPY"] = daily(1, 2, 3)

	n, err := f.engine.Seed(ctx, "SPY", model.Day, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f.broker.series["Day/SPY"] = daily(7)
	_, err = f.engine.Seed(ctx, "SPY", model.Day, false)
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))
	assert.Equal(t, 3, f.stored(t, model.Day).Len())

	n, err = f.engine.Seed(ctx, "SPY", model.Day, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewEngineValidates(t *testing.T) {
	ps := store.NewPriceStore(store.NewMemoryBackend())
	_, err := NewEngine(Options{Broker: ps})
	assert.Error(t, err)
	_, err = NewEngine(Options{Store: ps, Broker: ps, Intraday: model.Day})
	assert.Error(t, err)

	e, err := NewEngine(Options{Store: ps, Broker: ps})
	require.NoError(t, err)
	assert.Equal(t, []model.Frequency{model.Day}, e.Frequencies())
}

func TestConcurrentUpdatesOnSameKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultCleaning())
	require.NoError(t, f.store.Add(ctx, "SPY", model.Day, daily(100, 101), false))
	f.broker.series["Day/SPY"] = daily(100, 101, 102, 103, 104, 105, 106)

	const callers = 16
	outcomes := make(chan model.UpdateOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- f.engine.UpdateFrequency(ctx, "SPY", model.Day)
		}()
	}
	wg.Wait()
	close(outcomes)

	added := 0
	for o := range outcomes {
		assert.True(t, o.OK(), o.String())
		added += o.RowsAdded
	}
	assert.Equal(t, 5, added)

	s := f.stored(t, model.Day)
	assert.True(t, s.IsStrictlyIncreasing())
	assert.True(t, s.Equal(daily(100, 101, 102, 103, 104, 105, 106)))
}
