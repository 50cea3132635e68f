package recorder

import (
	"context"
	"time"

	"PriceKeeper/internal/model"
)

// RunRecord summarises one batch run.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Instruments int
	RowsAdded   int
	Spikes      int
	Failures    int
	Aborted     bool
	Error       string
}

// StoredSpikeReport is a spike report awaiting or past manual review.
type StoredSpikeReport struct {
	ID       int64
	Resolved bool
	model.SpikeReport
}

// Recorder persists the ingestion event log.
type Recorder interface {
	RecordUpdate(ctx context.Context, runID string, outcome model.UpdateOutcome) error
	RecordRun(ctx context.Context, run *RunRecord) error
	LastRun(ctx context.Context) (*RunRecord, error)
	FileSpikeReport(ctx context.Context, report model.SpikeReport) error
	PendingSpikeReports(ctx context.Context, code string) ([]StoredSpikeReport, error)
	ResolveSpikeReport(ctx context.Context, id int64) error
	Close() error
}
