package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/recorder"
)

var (
	reviewFrequency string
	reviewAccept    int64
	reviewReject    int64
)

var reviewCmd = &cobra.Command{
	Use:   "review [CODE]",
	Short: "List or resolve spikes waiting for manual review",
	Long: `Without flags, lists unresolved spike reports. --accept refetches the
broker prices of the report's series and writes them with spike checking off,
then consolidates. --reject marks the report resolved and keeps stored history.

Examples:
  pricekeeper review
  pricekeeper review SP500 --frequency D
  pricekeeper review --accept 12
  pricekeeper review --reject 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewFrequency, "frequency", "f", "", "only reports for this frequency")
	reviewCmd.Flags().Int64Var(&reviewAccept, "accept", 0, "accept the spike report with this id")
	reviewCmd.Flags().Int64Var(&reviewReject, "reject", 0, "reject the spike report with this id")
	reviewCmd.MarkFlagsMutuallyExclusive("accept", "reject")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	code := ""
	if len(args) > 0 {
		code = args[0]
	}
	reports, err := a.recorder.PendingSpikeReports(ctx, code)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case reviewAccept != 0:
		rep, err := findReport(reports, reviewAccept)
		if err != nil {
			return err
		}
		o := a.engine.AcceptSpike(ctx, rep.Instrument, rep.Frequency)
		if !o.OK() {
			return fmt.Errorf("accept report %d: %w", rep.ID, o.Err)
		}
		if err := a.recorder.ResolveSpikeReport(ctx, rep.ID); err != nil {
			return err
		}
		merged, err := a.engine.Consolidate(ctx, rep.Instrument)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "accepted #%d: %s, %s merged rows\n", rep.ID, o, humanize.Comma(int64(merged)))
		return nil
	case reviewReject != 0:
		rep, err := findReport(reports, reviewReject)
		if err != nil {
			return err
		}
		if err := a.recorder.ResolveSpikeReport(ctx, rep.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "rejected #%d, %s left unchanged\n", rep.ID, model.StorageKey(rep.Instrument, rep.Frequency))
		return nil
	}

	if reviewFrequency != "" {
		freq, err := model.ParseFrequency(reviewFrequency)
		if err != nil {
			return err
		}
		filtered := reports[:0]
		for _, r := range reports {
			if r.Frequency == freq {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	printReports(out, reports)
	return nil
}

func findReport(reports []recorder.StoredSpikeReport, id int64) (recorder.StoredSpikeReport, error) {
	for _, r := range reports {
		if r.ID == id {
			return r, nil
		}
	}
	return recorder.StoredSpikeReport{}, fmt.Errorf("no pending spike report %d", id)
}

func printReports(w io.Writer, reports []recorder.StoredSpikeReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "no spikes waiting for review")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(w, "#%d %s detected %s: %s %.4f -> %s %.4f (max %.4f, move %.4f)\n",
			r.ID, model.StorageKey(r.Instrument, r.Frequency), humanize.Time(r.DetectedAt),
			r.Last.Time.Format("2006-01-02 15:04"), r.Last.Price,
			r.Incoming.Time.Format("2006-01-02 15:04"), r.Incoming.Price,
			r.MaxSpike, r.Move())
		for _, p := range r.OldTail.Tail(3).Points() {
			fmt.Fprintf(w, "    old %s %.4f\n", p.Time.Format("2006-01-02 15:04:05"), p.Price)
		}
		for _, p := range r.NewHead.Head(3).Points() {
			fmt.Fprintf(w, "    new %s %.4f\n", p.Time.Format("2006-01-02 15:04:05"), p.Price)
		}
	}
}
