package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"PriceKeeper/internal/batch"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/recorder"
)

// FormatRunSummary formats a finished batch run for the chat.
func FormatRunSummary(s *batch.Summary) string {
	var b strings.Builder

	icon := "✅"
	switch {
	case s.Aborted:
		icon = "🛑"
	case len(s.Failed()) > 0:
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>PriceKeeper update</b> | %s\n\n", icon, s.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Instruments: %d\n", len(s.Results)))
	b.WriteString(fmt.Sprintf("Rows added: %s\n", humanize.Comma(int64(s.RowsAdded()))))
	b.WriteString(fmt.Sprintf("Spikes: %d | Failures: %d\n", s.Spikes(), s.Failures()))
	b.WriteString(fmt.Sprintf("Took: %s\n", s.Duration().Round(time.Millisecond)))

	for _, r := range s.Results {
		if r.OK() {
			continue
		}
		b.WriteString(fmt.Sprintf("\n<b>%s</b>", html.EscapeString(r.Instrument)))
		for _, o := range r.Outcomes {
			if o.OK() {
				continue
			}
			b.WriteString(fmt.Sprintf("\n  %s: %s", o.Frequency.Code(), o.Kind))
		}
		if r.ConsolidateErr != nil {
			b.WriteString("\n  merge: " + html.EscapeString(r.ConsolidateErr.Error()))
		}
	}

	if s.Err != nil {
		b.WriteString(fmt.Sprintf("\n\nRun aborted: %s", html.EscapeString(s.Err.Error())))
	}
	return b.String()
}

// FormatLastRun formats a recorded run for /status.
func FormatLastRun(run *recorder.RunRecord) string {
	if run == nil {
		return "📦 No batch run recorded yet."
	}
	var b strings.Builder
	b.WriteString("📦 <b>Last update run</b>\n\n")
	b.WriteString(fmt.Sprintf("Started: %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04"), humanize.Time(run.StartedAt)))
	b.WriteString(fmt.Sprintf("Took: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)))
	b.WriteString(fmt.Sprintf("Instruments: %d | Rows: %s\n", run.Instruments, humanize.Comma(int64(run.RowsAdded))))
	b.WriteString(fmt.Sprintf("Spikes: %d | Failures: %d\n", run.Spikes, run.Failures))
	if run.Aborted {
		b.WriteString(fmt.Sprintf("\n🛑 Aborted: %s", html.EscapeString(run.Error)))
	}
	return b.String()
}

// FormatInstruments lists the instruments in the merged index.
func FormatInstruments(codes []string) string {
	if len(codes) == 0 {
		return "No instruments stored."
	}
	return fmt.Sprintf("📈 <b>%s instruments</b>\n%s", humanize.Comma(int64(len(codes))), html.EscapeString(strings.Join(codes, ", ")))
}

// FormatPendingReviews lists spike reports awaiting manual review.
func FormatPendingReviews(reports []recorder.StoredSpikeReport) string {
	if len(reports) == 0 {
		return "No spikes waiting for review."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔍 <b>%d spikes to review</b>\n", len(reports)))
	for _, r := range reports {
		b.WriteString(fmt.Sprintf("\n#%d %s@%s %s → %s (%s)",
			r.ID, html.EscapeString(r.Instrument), r.Frequency.Code(),
			formatPrice(r.Last.Price), formatPrice(r.Incoming.Price), humanize.Time(r.DetectedAt)))
	}
	return b.String()
}

// FormatSeries renders the tail of a series as aligned text.
func FormatSeries(code string, freq model.Frequency, s model.PriceSeries, limit int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s: %s rows\n", code, freq.Name(), humanize.Comma(int64(s.Len()))))
	if limit > 0 {
		s = s.Tail(limit)
	}
	for _, p := range s.Points() {
		b.WriteString(fmt.Sprintf("%s  %s\n", p.Time.Format("2006-01-02 15:04:05"), formatPrice(p.Price)))
	}
	return b.String()
}

func formatPrice(p float64) string {
	return humanize.FormatFloat("#,###.####", p)
}
