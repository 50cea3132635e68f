package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/notifier"
	"PriceKeeper/internal/store"
)

var (
	seedFrequency string
	seedOverwrite bool

	copyFrom      string
	copyTo        string
	copyOverwrite bool

	deleteFrequency string
	deleteConfirm   bool

	showFrequency string
	showSince     string
	showDaily     bool
	showLimit     int
)

var seedCmd = &cobra.Command{
	Use:   "seed CODE",
	Short: "Load initial broker history for an instrument",
	Long: `Fetches broker history for every updated frequency (or just --frequency)
and writes it straight into the primary store, then consolidates.

Examples:
  pricekeeper seed SP500
  pricekeeper seed SP500 --frequency D --overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy every series from one storage backend to another",
	Long: `Examples:
  pricekeeper copy --from csv --to document
  pricekeeper copy --from document --to csv --overwrite`,
	RunE: runCopy,
}

var deleteCmd = &cobra.Command{
	Use:   "delete CODE",
	Short: "Delete one stored series",
	Long: `Deletes the series of one instrument at one frequency. Flat-file storage
does not support deletes.

Example:
  pricekeeper delete SP500 --frequency H --yes-i-am-sure`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var showCmd = &cobra.Command{
	Use:   "show CODE",
	Short: "Print a stored series",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFrequency, "frequency", "f", "", "frequency to seed (default: every updated frequency)")
	seedCmd.Flags().BoolVar(&seedOverwrite, "overwrite", false, "replace existing series")

	copyCmd.Flags().StringVar(&copyFrom, "from", "csv", "source backend (csv, document)")
	copyCmd.Flags().StringVar(&copyTo, "to", "document", "destination backend (csv, document)")
	copyCmd.Flags().BoolVar(&copyOverwrite, "overwrite", false, "replace series that already exist in the destination")

	deleteCmd.Flags().StringVarP(&deleteFrequency, "frequency", "f", "", "frequency to delete (Mixed for the merged series)")
	deleteCmd.Flags().BoolVar(&deleteConfirm, "yes-i-am-sure", false, "confirm the delete")
	_ = deleteCmd.MarkFlagRequired("frequency")

	showCmd.Flags().StringVarP(&showFrequency, "frequency", "f", "MIXED", "frequency to show")
	showCmd.Flags().StringVar(&showSince, "since", "", "only rows at or after this date (YYYY-MM-DD)")
	showCmd.Flags().BoolVar(&showDaily, "daily", false, "collapse to one closing price per day")
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 20, "rows to print from the end (0 prints all)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	code := args[0]
	freqs := a.engine.Frequencies()
	if seedFrequency != "" {
		f, err := model.ParseFrequency(seedFrequency)
		if err != nil {
			return err
		}
		freqs = []model.Frequency{f}
	}

	for _, f := range freqs {
		n, err := a.engine.Seed(ctx, code, f, seedOverwrite)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s rows\n", model.StorageKey(code, f), humanize.Comma(int64(n)))
	}
	merged, err := a.engine.Consolidate(ctx, code)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s merged rows\n", model.StorageKey(code, model.Mixed), humanize.Comma(int64(merged)))
	return nil
}

func runCopy(cmd *cobra.Command, args []string) error {
	if copyFrom == copyTo {
		return fmt.Errorf("--from and --to are both %q", copyFrom)
	}
	src, err := openBackend(cfg, copyFrom)
	if err != nil {
		return err
	}
	srcStore := store.NewPriceStore(src)
	defer srcStore.Close()

	dst, err := openBackend(cfg, copyTo)
	if err != nil {
		return err
	}
	dstStore := store.NewPriceStore(dst)
	defer dstStore.Close()

	report, err := store.Copy(cmd.Context(), srcStore, dstStore, copyOverwrite)
	fmt.Fprintf(cmd.OutOrStdout(), "copied %d series (%s rows), skipped %d existing\n",
		report.Copied, humanize.Comma(int64(report.Rows)), report.Skipped)
	return err
}

func runDelete(cmd *cobra.Command, args []string) error {
	freq, err := model.ParseFrequency(deleteFrequency)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg, cfg.Storage.Primary)
	if err != nil {
		return err
	}
	ps := store.NewPriceStore(backend)
	defer ps.Close()

	if err := ps.Delete(cmd.Context(), args[0], freq, deleteConfirm); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s from %s\n", model.StorageKey(args[0], freq), ps.Name())
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	freq, err := model.ParseFrequency(showFrequency)
	if err != nil {
		return err
	}
	var since time.Time
	if showSince != "" {
		if since, err = time.Parse("2006-01-02", showSince); err != nil {
			return fmt.Errorf("--since: %w", err)
		}
	}

	backend, err := openBackend(cfg, cfg.Storage.Primary)
	if err != nil {
		return err
	}
	ps := store.NewPriceStore(backend)
	defer ps.Close()

	series, err := ps.Get(cmd.Context(), args[0], freq, store.ReturnMissing)
	if err != nil {
		return err
	}
	if !since.IsZero() {
		series = series.Since(since)
	}
	if showDaily {
		series = series.DailyClose()
	}
	fmt.Fprint(cmd.OutOrStdout(), notifier.FormatSeries(args[0], freq, series, showLimit))
	return nil
}
