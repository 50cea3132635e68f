package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceKeeper/internal/batch"
	"PriceKeeper/internal/merge"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func daily(prices ...float64) model.PriceSeries {
	pts := make([]model.Point, len(prices))
	for i, p := range prices {
		pts[i] = model.Point{Time: t0.AddDate(0, 0, i), Price: p}
	}
	return model.NewSeries(pts)
}

type fakeBroker struct {
	prices map[string]model.PriceSeries
	err    error
	gate   chan struct{} // when set, fetches block until it is closed
}

func (b *fakeBroker) Name() string                  { return "fake" }
func (b *fakeBroker) Instruments() []string         { return []string{"SPY"} }
func (b *fakeBroker) Supports(model.Frequency) bool { return true }

func (b *fakeBroker) FetchPrices(_ context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	if b.gate != nil {
		<-b.gate
	}
	if b.err != nil {
		return model.EmptySeries(), b.err
	}
	if freq != model.Day {
		return model.EmptySeries(), nil
	}
	return b.prices[code], nil
}

type chat struct {
	mu   sync.Mutex
	sent []string
}

func (c *chat) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *chat) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type reviewRecorder struct {
	recorder.NoopRecorder
	pending []recorder.StoredSpikeReport
}

func (r *reviewRecorder) PendingSpikeReports(_ context.Context, code string) ([]recorder.StoredSpikeReport, error) {
	var out []recorder.StoredSpikeReport
	for _, p := range r.pending {
		if code == "" || p.Instrument == code {
			out = append(out, p)
		}
	}
	return out, nil
}

type fixture struct {
	broker *fakeBroker
	chat   *chat
	rec    *reviewRecorder
	sched  *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	primary := store.NewPriceStore(store.NewMemoryBackend())
	require.NoError(t, primary.WriteMerged(ctx, "SPY", daily(10), false))
	require.NoError(t, primary.Add(ctx, "SPY", model.Day, daily(10), false))

	f := &fixture{
		broker: &fakeBroker{prices: map[string]model.PriceSeries{"SPY": daily(10, 11, 12)}},
		chat:   &chat{},
		rec:    &reviewRecorder{},
	}
	engine, err := merge.NewEngine(merge.Options{
		Store:  primary,
		Broker: store.NewPriceStore(store.NewBrokerBackend(f.broker)),
	})
	require.NoError(t, err)
	runner := batch.NewRunner(batch.Options{Engine: engine, Recorder: f.rec})
	f.sched = NewScheduler(ctx, runner, primary, f.rec, f.chat)
	return f
}

func TestRegisterAll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.RegisterAll("0 30 22 * * 1-5", "0 0 9 * * 1-5"))
	assert.Len(t, f.sched.Cron.Entries(), 2)

	f = newFixture(t)
	require.NoError(t, f.sched.RegisterAll("0 30 22 * * 1-5", ""))
	assert.Len(t, f.sched.Cron.Entries(), 1)

	assert.Error(t, newFixture(t).sched.RegisterAll("every evening", ""))
}

func TestUpdateCommand(t *testing.T) {
	f := newFixture(t)
	reply := f.sched.HandleCommand(context.Background(), "/update")
	assert.Contains(t, reply, "Instruments: 1")
	assert.Contains(t, reply, "Rows added: 2")

	status := f.sched.HandleCommand(context.Background(), "/status")
	assert.Contains(t, status, "Rows added: 2")

	shown := f.sched.HandleCommand(context.Background(), "/show SPY D")
	assert.Contains(t, shown, "SPY Day: 3 rows")
	assert.Contains(t, shown, "2024-01-04 00:00:00  12.0000")
}

func TestUpdateCommandWithCodes(t *testing.T) {
	f := newFixture(t)
	reply := f.sched.HandleCommand(context.Background(), "/update SPY")
	assert.Contains(t, reply, "Instruments: 1")
}

func TestStatusFallsBackToRecorder(t *testing.T) {
	f := newFixture(t)
	reply := f.sched.HandleCommand(context.Background(), "/status")
	assert.Contains(t, reply, "No batch run recorded yet")
}

func TestInstrumentsAndReviews(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/instruments"), "SPY")

	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/reviews"), "No spikes waiting")

	f.rec.pending = []recorder.StoredSpikeReport{{
		ID: 7,
		SpikeReport: model.SpikeReport{
			Instrument: "SPY", Frequency: model.Day,
			Last: model.Point{Time: t0, Price: 10}, Incoming: model.Point{Time: t0.AddDate(0, 0, 1), Price: 500},
			DetectedAt: time.Now(),
		},
	}}
	reply := f.sched.HandleCommand(context.Background(), "/reviews SPY")
	assert.Contains(t, reply, "#7 SPY@D")
	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/reviews GOLD"), "No spikes waiting")
}

func TestShowErrors(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/show"), "Usage")
	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/show SPY fortnight"), "unknown frequency")
	assert.Contains(t, f.sched.HandleCommand(context.Background(), "/show NOPE"), "Could not read NOPE")
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, helpText, f.sched.HandleCommand(context.Background(), ""))
	assert.Equal(t, helpText, f.sched.HandleCommand(context.Background(), "hello"))
}

func TestUpdateTaskStaysQuietOnCleanRun(t *testing.T) {
	f := newFixture(t)
	f.sched.RunUpdateNow()
	assert.Empty(t, f.chat.messages())
}

func TestUpdateTaskReportsFailures(t *testing.T) {
	f := newFixture(t)
	f.broker.err = errors.New("broker down")
	f.sched.RunUpdateNow()
	msgs := f.chat.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "SPY")
	assert.Contains(t, msgs[0], "D: FAILURE")
}

func TestReviewReminder(t *testing.T) {
	f := newFixture(t)
	f.sched.reviewReminder()
	assert.Empty(t, f.chat.messages())

	f.rec.pending = []recorder.StoredSpikeReport{{ID: 1, SpikeReport: model.SpikeReport{Instrument: "SPY", Frequency: model.Day}}}
	f.sched.reviewReminder()
	require.Len(t, f.chat.messages(), 1)
	assert.Contains(t, f.chat.messages()[0], "1 spikes to review")
}

func TestStopWaitsForBackgroundUpdate(t *testing.T) {
	f := newFixture(t)
	f.broker.gate = make(chan struct{})
	f.sched.Start()
	f.sched.RunUpdateAsync()

	stopped := make(chan struct{})
	go func() {
		f.sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the update was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(f.broker.gate)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the update finished")
	}
	s, err := f.sched.Store.Get(context.Background(), "SPY", model.Day, store.ReturnMissing)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
}
