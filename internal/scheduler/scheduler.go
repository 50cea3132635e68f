package scheduler

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/batch"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/notifier"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

// Messenger delivers chat messages.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Runner    *batch.Runner
	Store     *store.PriceStore
	Recorder  recorder.Recorder
	Messenger Messenger
	Ctx       context.Context

	background sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, runner *batch.Runner, ps *store.PriceStore, rec recorder.Recorder, msg Messenger) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if msg == nil {
		msg = notifier.LogAlerter{}
	}
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Runner:    runner,
		Store:     ps,
		Recorder:  rec,
		Messenger: msg,
		Ctx:       ctx,
	}
}

// RegisterAll registers the batch update and, when reviewCron is set, the
// pending-review reminder.
func (s *Scheduler) RegisterAll(updateCron, reviewCron string) error {
	if _, err := s.Cron.AddFunc(updateCron, s.updateTask); err != nil {
		return fmt.Errorf("register update task: %w", err)
	}
	if reviewCron == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(reviewCron, s.reviewReminder); err != nil {
		return fmt.Errorf("register review reminder: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("entries", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs, including those
// started by RunUpdateAsync.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.background.Wait()
	log.Info().Msg("scheduler stopped")
}

// RunUpdateNow executes the update task immediately and blocks until it is done.
func (s *Scheduler) RunUpdateNow() {
	s.updateTask()
}

// RunUpdateAsync starts the update task in the background. Stop waits for it.
func (s *Scheduler) RunUpdateAsync() {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.updateTask()
	}()
}

func (s *Scheduler) updateTask() {
	log.Info().Msg("running scheduled update")
	summary, err := s.Runner.Run(s.Ctx)
	if summary == nil {
		log.Error().Err(err).Msg("update run")
		s.trySend(fmt.Sprintf("🛑 Update failed: %v", err))
		return
	}
	// Quiet runs stay out of the chat.
	if err != nil || summary.Spikes() > 0 || len(summary.Failed()) > 0 {
		s.trySend(notifier.FormatRunSummary(summary))
	}
}

func (s *Scheduler) reviewReminder() {
	reports, err := s.Recorder.PendingSpikeReports(s.Ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("list pending spike reports")
		return
	}
	if len(reports) == 0 {
		return
	}
	s.trySend(notifier.FormatPendingReviews(reports))
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "/update":
		var (
			summary *batch.Summary
			err     error
		)
		if len(args) > 0 {
			summary, err = s.Runner.RunCodes(ctx, args)
		} else {
			summary, err = s.Runner.Run(ctx)
		}
		if summary == nil {
			return fmt.Sprintf("🛑 Update failed: %v", err)
		}
		return notifier.FormatRunSummary(summary)
	case "/status":
		if last := s.Runner.Last(); last != nil {
			return notifier.FormatRunSummary(last)
		}
		run, err := s.Recorder.LastRun(ctx)
		if err != nil {
			return fmt.Sprintf("Could not read last run: %v", err)
		}
		return notifier.FormatLastRun(run)
	case "/instruments":
		codes, err := s.Store.Instruments(ctx)
		if err != nil {
			return fmt.Sprintf("Could not list instruments: %v", err)
		}
		return notifier.FormatInstruments(codes)
	case "/reviews":
		code := ""
		if len(args) > 0 {
			code = args[0]
		}
		reports, err := s.Recorder.PendingSpikeReports(ctx, code)
		if err != nil {
			return fmt.Sprintf("Could not list spike reports: %v", err)
		}
		return notifier.FormatPendingReviews(reports)
	case "/show":
		if len(args) == 0 {
			return "Usage: /show CODE [FREQUENCY]"
		}
		freq := model.Mixed
		if len(args) > 1 {
			f, err := model.ParseFrequency(args[1])
			if err != nil {
				return err.Error()
			}
			freq = f
		}
		series, err := s.Store.Get(ctx, args[0], freq, store.ReturnMissing)
		if err != nil {
			return fmt.Sprintf("Could not read %s: %v", model.StorageKey(args[0], freq), err)
		}
		return "<pre>" + html.EscapeString(notifier.FormatSeries(args[0], freq, series, 10)) + "</pre>"
	default:
		return helpText
	}
}

const helpText = "Commands:\n" +
	"• /update [CODE...] run an update now\n" +
	"• /status last run summary\n" +
	"• /instruments stored instruments\n" +
	"• /reviews [CODE] spikes waiting for review\n" +
	"• /show CODE [FREQUENCY] latest prices"

func (s *Scheduler) trySend(text string) {
	if err := s.Messenger.Send(s.Ctx, text); err != nil {
		log.Error().Err(err).Msg("send notification")
	}
}
