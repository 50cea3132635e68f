// Package batch drives one ingestion run over every instrument in the
// primary store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"PriceKeeper/internal/merge"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

// Summary is the result of one run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []merge.InstrumentResult
	Aborted    bool
	Err        error
}

func (s *Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

func (s *Summary) RowsAdded() int {
	n := 0
	for _, r := range s.Results {
		n += r.RowsAdded()
	}
	return n
}

// Spikes counts (instrument, frequency) updates stopped by the spike gate.
func (s *Summary) Spikes() int { return s.count(model.OutcomeSpikeDetected) }

// Failures counts failed updates.
func (s *Summary) Failures() int { return s.count(model.OutcomeFailure) }

func (s *Summary) count(kind model.OutcomeKind) int {
	n := 0
	for _, r := range s.Results {
		for _, o := range r.Outcomes {
			if o.Kind == kind {
				n++
			}
		}
	}
	return n
}

// Failed lists instruments needing attention.
func (s *Summary) Failed() []string {
	var out []string
	for _, r := range s.Results {
		if !r.OK() {
			out = append(out, r.Instrument)
		}
	}
	return out
}

// Options wires a Runner.
type Options struct {
	Engine   *merge.Engine
	Recorder recorder.Recorder
	// Workers is the number of instruments updated concurrently; 1 or less
	// runs sequentially.
	Workers int
}

// Runner executes batch runs. Concurrent calls to Run share one execution.
type Runner struct {
	engine   *merge.Engine
	recorder recorder.Recorder
	workers  int

	sf   singleflight.Group
	mu   sync.Mutex
	last *Summary

	newID func() string
	now   func() time.Time
}

func NewRunner(opts Options) *Runner {
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		engine:   opts.Engine,
		recorder: rec,
		workers:  workers,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Last returns the summary of the most recent run in this process.
func (r *Runner) Last() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Run updates every instrument in the Mixed index of the primary store.
// Concurrent callers share one run. The shared run keeps the values of the
// first caller's ctx but not its cancellation, so one caller giving up does
// not abort the run for the others.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := r.sf.Do("run", func() (interface{}, error) {
		codes, err := r.engine.Store().Instruments(runCtx)
		if err != nil {
			s := r.abort(runCtx, fmt.Errorf("list instruments: %w", err))
			return s, s.Err
		}
		return r.run(runCtx, codes)
	})
	if shared {
		log.Info().Msg("joined batch run already in progress")
	}
	s, _ := v.(*Summary)
	return s, err
}

// RunCodes updates only the given instruments.
func (r *Runner) RunCodes(ctx context.Context, codes []string) (*Summary, error) {
	return r.run(ctx, codes)
}

func (r *Runner) abort(ctx context.Context, err error) *Summary {
	now := r.now()
	s := &Summary{RunID: r.newID(), StartedAt: now, FinishedAt: now, Aborted: true, Err: err}
	log.Error().Err(err).Str("run_id", s.RunID).Msg("batch run aborted")
	r.finish(ctx, s)
	return s
}

func (r *Runner) run(ctx context.Context, codes []string) (*Summary, error) {
	st := r.engine.Store()
	if err := st.Ping(ctx); err != nil {
		s := r.abort(ctx, err)
		return s, s.Err
	}

	s := &Summary{RunID: r.newID(), StartedAt: r.now()}
	logger := log.With().Str("run_id", s.RunID).Logger()
	logger.Info().Int("instruments", len(codes)).Int("workers", r.workers).Str("store", st.Name()).
		Msg("batch run started")

	results := make([]*merge.InstrumentResult, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, code := range codes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := r.engine.UpdateInstrument(gctx, code)
			results[i] = &res
			r.record(ctx, s.RunID, res)
			logInstrument(res)
			if !res.OK() {
				// only a store that can no longer be reached stops the batch
				if err := st.Ping(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()

	for _, res := range results {
		if res != nil {
			s.Results = append(s.Results, *res)
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.Aborted = true
		s.Err = err
	}
	s.FinishedAt = r.now()
	r.finish(ctx, s)

	ev := logger.Info()
	if s.Aborted {
		ev = logger.Error().Err(s.Err)
	}
	ev.Int("instruments", len(s.Results)).Int("rows", s.RowsAdded()).Int("spikes", s.Spikes()).
		Int("failures", s.Failures()).Dur("took", s.Duration()).Msg("batch run finished")
	return s, s.Err
}

func (r *Runner) record(ctx context.Context, runID string, res merge.InstrumentResult) {
	for _, o := range res.Outcomes {
		if err := r.recorder.RecordUpdate(ctx, runID, o); err != nil {
			log.Warn().Err(err).Str("instrument", o.Instrument).Msg("record update event")
		}
	}
}

func (r *Runner) finish(ctx context.Context, s *Summary) {
	rec := &recorder.RunRecord{
		ID:          s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Instruments: len(s.Results),
		RowsAdded:   s.RowsAdded(),
		Spikes:      s.Spikes(),
		Failures:    s.Failures(),
		Aborted:     s.Aborted,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	// the run's own context may already be cancelled
	if err := r.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("run_id", s.RunID).Msg("record batch run")
	}
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
}

func logInstrument(res merge.InstrumentResult) {
	ev := log.Info()
	if !res.OK() {
		ev = log.Warn()
	}
	for _, o := range res.Outcomes {
		ev = ev.Str(o.Frequency.Code(), o.Kind.String())
	}
	if res.ConsolidateErr != nil {
		ev = ev.AnErr("consolidate_error", res.ConsolidateErr)
	}
	ev.Str("instrument", res.Instrument).Int("rows", res.RowsAdded()).Int("merged_rows", res.MergedRows).
		Bool("aborted", res.Aborted).Msg("instrument updated")
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool { return errors.Is(err, store.ErrUnavailable) }
