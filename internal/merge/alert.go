package merge

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"PriceKeeper/internal/model"
)

func spikeAlert(r model.SpikeReport) (subject, body string) {
	subject = fmt.Sprintf("Price Spike %s", r.Instrument)

	var b strings.Builder
	fmt.Fprintf(&b, "Spike found in %s prices for %s, need to manually check.\n",
		r.Frequency.Name(), r.Instrument)
	fmt.Fprintf(&b, "Last stored: %s at %s (%s)\n",
		humanize.FormatFloat("#,###.####", r.Last.Price), r.Last.Time.Format(time.RFC3339), humanize.Time(r.Last.Time))
	fmt.Fprintf(&b, "First new:   %s at %s\n",
		humanize.FormatFloat("#,###.####", r.Incoming.Price), r.Incoming.Time.Format(time.RFC3339))
	fmt.Fprintf(&b, "Move %s exceeds limit %s\n",
		humanize.FormatFloat("#,###.####", r.Move()), humanize.FormatFloat("#,###.####", r.MaxSpike))
	fmt.Fprintf(&b, "Review with: pricekeeper review %s --frequency %s", r.Instrument, r.Frequency.Code())
	return subject, b.String()
}
