package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"PriceKeeper/internal/batch"
	"PriceKeeper/internal/model"
)

var updateCmd = &cobra.Command{
	Use:   "update [CODE...]",
	Short: "Run one batch update",
	Long: `Updates every instrument of the merged index (or only the given codes):
the intraday frequency, then Day, then consolidation into the merged series.

Examples:
  pricekeeper update
  pricekeeper update SP500 GOLD`,
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var summary *batch.Summary
	if len(args) > 0 {
		summary, err = a.runner.RunCodes(ctx, args)
	} else {
		summary, err = a.runner.Run(ctx)
	}
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return err
	}
	if failed := summary.Failed(); len(failed) > 0 {
		return errors.New("some instruments did not update cleanly")
	}
	return nil
}

func printSummary(w io.Writer, s *batch.Summary) {
	fmt.Fprintf(w, "run %s: %d instruments, %s rows added, %d spikes, %d failures in %s\n",
		s.RunID, len(s.Results), humanize.Comma(int64(s.RowsAdded())), s.Spikes(), s.Failures(),
		s.Duration().Round(time.Millisecond))
	for _, r := range s.Results {
		status := "ok"
		if !r.OK() {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  %-12s %-6s merged=%d", r.Instrument, status, r.MergedRows)
		for _, o := range r.Outcomes {
			fmt.Fprintf(w, " %s", describeOutcome(o))
		}
		if r.ConsolidateErr != nil {
			fmt.Fprintf(w, " merge-error=%q", r.ConsolidateErr.Error())
		}
		fmt.Fprintln(w)
	}
	if s.Aborted {
		fmt.Fprintf(w, "aborted: %v\n", s.Err)
	}
}

func describeOutcome(o model.UpdateOutcome) string {
	if o.Kind == model.OutcomeRowsAdded {
		return fmt.Sprintf("%s=+%d", o.Frequency.Code(), o.RowsAdded)
	}
	return fmt.Sprintf("%s=%s", o.Frequency.Code(), o.Kind)
}
