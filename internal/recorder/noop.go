package recorder

import (
	"context"

	"PriceKeeper/internal/model"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordUpdate(context.Context, string, model.UpdateOutcome) error { return nil }
func (n *NoopRecorder) RecordRun(context.Context, *RunRecord) error                     { return nil }
func (n *NoopRecorder) LastRun(context.Context) (*RunRecord, error)                     { return nil, nil }
func (n *NoopRecorder) FileSpikeReport(context.Context, model.SpikeReport) error        { return nil }
func (n *NoopRecorder) ResolveSpikeReport(context.Context, int64) error                 { return nil }
func (n *NoopRecorder) Close() error                                                    { return nil }

func (n *NoopRecorder) PendingSpikeReports(context.Context, string) ([]StoredSpikeReport, error) {
	return nil, nil
}
