package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"PriceKeeper/internal/model"
)

// SQLiteRecorder persists the event log to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the read API and reports can query while a batch writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS update_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			run_id      TEXT,
			instrument  TEXT NOT NULL,
			frequency   TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			rows_added  INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_update_events_run ON update_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_update_events_inst ON update_events(instrument, timestamp)`,

		`CREATE TABLE IF NOT EXISTS batch_runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			instruments INTEGER,
			rows_added  INTEGER,
			spikes      INTEGER,
			failures    INTEGER,
			aborted     INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS spike_reports (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			detected_at INTEGER NOT NULL,
			instrument  TEXT NOT NULL,
			frequency   TEXT NOT NULL,
			last_time   INTEGER,
			last_price  REAL,
			new_time    INTEGER,
			new_price   REAL,
			max_spike   REAL,
			old_tail    BLOB,
			new_head    BLOB,
			resolved    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spike_reports_open ON spike_reports(resolved, instrument)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordUpdate(ctx context.Context, runID string, o model.UpdateOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errText string
	if o.Err != nil {
		errText = o.Err.Error()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO update_events
		(timestamp, run_id, instrument, frequency, outcome, rows_added, error)
		VALUES (?,?,?,?,?,?,?)`,
		r.now().Unix(), runID, o.Instrument, o.Frequency.Name(), o.Kind.String(), o.RowsAdded, errText,
	)
	return err
}

func (r *SQLiteRecorder) RecordRun(ctx context.Context, run *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO batch_runs
		(id, started_at, finished_at, instruments, rows_added, spikes, failures, aborted, error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.Instruments, run.RowsAdded, run.Spikes, run.Failures, boolInt(run.Aborted), run.Error,
	)
	return err
}

// LastRun returns the most recently started run, or nil if none was recorded.
func (r *SQLiteRecorder) LastRun(ctx context.Context) (*RunRecord, error) {
	var run RunRecord
	var started, finished int64
	var aborted int
	err := r.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, instruments, rows_added,
		spikes, failures, aborted, error FROM batch_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &started, &finished, &run.Instruments, &run.RowsAdded,
			&run.Spikes, &run.Failures, &aborted, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	run.Aborted = aborted != 0
	return &run, nil
}

// reviewSeries is the msgpack form of the series attached to a spike report.
type reviewSeries struct {
	Times  []int64   `msgpack:"t"`
	Prices []float64 `msgpack:"p"`
}

func encodeSeries(s model.PriceSeries) ([]byte, error) {
	rs := reviewSeries{Times: make([]int64, s.Len()), Prices: make([]float64, s.Len())}
	for i, p := range s.Points() {
		rs.Times[i] = p.Time.UnixNano()
		rs.Prices[i] = p.Price
	}
	return msgpack.Marshal(&rs)
}

func decodeSeries(b []byte) (model.PriceSeries, error) {
	if len(b) == 0 {
		return model.EmptySeries(), nil
	}
	var rs reviewSeries
	if err := msgpack.Unmarshal(b, &rs); err != nil {
		return model.EmptySeries(), err
	}
	if len(rs.Times) != len(rs.Prices) {
		return model.EmptySeries(), fmt.Errorf("review series: %d times for %d prices", len(rs.Times), len(rs.Prices))
	}
	pts := make([]model.Point, len(rs.Times))
	for i := range rs.Times {
		pts[i] = model.Point{Time: time.Unix(0, rs.Times[i]), Price: rs.Prices[i]}
	}
	return model.NewSeries(pts), nil
}

func (r *SQLiteRecorder) FileSpikeReport(ctx context.Context, rep model.SpikeReport) error {
	oldTail, err := encodeSeries(rep.OldTail)
	if err != nil {
		return fmt.Errorf("encode old tail: %w", err)
	}
	newHead, err := encodeSeries(rep.NewHead)
	if err != nil {
		return fmt.Errorf("encode new head: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.ExecContext(ctx, `INSERT INTO spike_reports
		(detected_at, instrument, frequency, last_time, last_price, new_time, new_price, max_spike, old_tail, new_head)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rep.DetectedAt.UnixNano(), rep.Instrument, rep.Frequency.Name(),
		rep.Last.Time.UnixNano(), rep.Last.Price, rep.Incoming.Time.UnixNano(), rep.Incoming.Price,
		rep.MaxSpike, oldTail, newHead,
	)
	return err
}

// PendingSpikeReports lists unresolved reports, oldest first. An empty code
// lists every instrument.
func (r *SQLiteRecorder) PendingSpikeReports(ctx context.Context, code string) ([]StoredSpikeReport, error) {
	query := `SELECT id, detected_at, instrument, frequency, last_time, last_price, new_time, new_price,
		max_spike, old_tail, new_head FROM spike_reports WHERE resolved = 0`
	var args []any
	if code != "" {
		query += ` AND instrument = ?`
		args = append(args, code)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spike reports: %w", err)
	}
	defer rows.Close()

	var out []StoredSpikeReport
	for rows.Next() {
		var (
			s                           StoredSpikeReport
			detected, lastTime, newTime int64
			freqName                    string
			oldTail, newHead            []byte
		)
		if err := rows.Scan(&s.ID, &detected, &s.Instrument, &freqName, &lastTime, &s.Last.Price,
			&newTime, &s.Incoming.Price, &s.MaxSpike, &oldTail, &newHead); err != nil {
			return nil, err
		}
		if s.Frequency, err = model.ParseFrequency(freqName); err != nil {
			return nil, err
		}
		s.DetectedAt = time.Unix(0, detected).UTC()
		s.Last.Time = time.Unix(0, lastTime).UTC()
		s.Incoming.Time = time.Unix(0, newTime).UTC()
		if s.OldTail, err = decodeSeries(oldTail); err != nil {
			return nil, fmt.Errorf("decode old tail of report %d: %w", s.ID, err)
		}
		if s.NewHead, err = decodeSeries(newHead); err != nil {
			return nil, fmt.Errorf("decode new head of report %d: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) ResolveSpikeReport(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.ExecContext(ctx, `UPDATE spike_reports SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spike report %d not found", id)
	}
	return nil
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
