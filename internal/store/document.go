package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"PriceKeeper/internal/model"
)

// Driver names accepted by OpenDocumentBackend.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	sqlDriver string
	blobType  string
	numbered  bool // $1 placeholders instead of ?
}

var dialects = map[string]dialect{
	DriverSQLite:   {sqlDriver: "sqlite", blobType: "BLOB"},
	DriverPostgres: {sqlDriver: "pgx", blobType: "BYTEA", numbered: true},
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// document is the msgpack payload of one stored version.
type document struct {
	Instrument string    `msgpack:"instrument"`
	Frequency  string    `msgpack:"frequency"`
	Times      []int64   `msgpack:"times"` // unix nanoseconds
	Prices     []float64 `msgpack:"prices"`
}

// DocumentVersion describes one stored version of a key.
type DocumentVersion struct {
	Key       string
	Version   int64
	Rows      int
	WrittenAt time.Time
}

// DocumentBackend keeps one logical document per storage key as a chain of
// immutable versions in a SQL table. Writes append version n+1 inside a
// transaction; the (key, version) primary key makes concurrent writers on the
// same key conflict instead of both succeeding.
type DocumentBackend struct {
	db           *sql.DB
	d            dialect
	driver       string
	keepVersions int
	mu           sync.Mutex // serialises writers on sqlite
	now          func() time.Time
}

// OpenDocumentBackend opens (or creates) the document table.
// keepVersions <= 0 keeps every version.
func OpenDocumentBackend(driver, dsn string, keepVersions int) (*DocumentBackend, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unknown document driver %q", driver)
	}
	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	b := &DocumentBackend{db: db, d: d, driver: driver, keepVersions: keepVersions, now: time.Now}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", driver).Int("keep_versions", keepVersions).Msg("document store opened")
	return b, nil
}

func (b *DocumentBackend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_documents (
			doc_key     TEXT    NOT NULL,
			version     BIGINT  NOT NULL,
			instrument  TEXT    NOT NULL,
			frequency   TEXT    NOT NULL,
			row_count   INTEGER NOT NULL,
			payload     ` + b.d.blobType + ` NOT NULL,
			written_at  BIGINT  NOT NULL,
			PRIMARY KEY (doc_key, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_documents_freq ON price_documents(frequency, instrument)`,
	}
	for _, s := range stmts {
		if _, err := b.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (b *DocumentBackend) Name() string { return "document:" + b.driver }

func (b *DocumentBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (b *DocumentBackend) ListInstruments(ctx context.Context) ([]string, error) {
	return b.queryStrings(ctx, `SELECT DISTINCT instrument FROM price_documents ORDER BY instrument`)
}

func (b *DocumentBackend) ListInstrumentsAt(ctx context.Context, freq model.Frequency) ([]string, error) {
	return b.queryStrings(ctx,
		`SELECT DISTINCT instrument FROM price_documents WHERE frequency = ? ORDER BY instrument`,
		freq.Name())
}

// Keys returns every stored key, sorted.
func (b *DocumentBackend) Keys(ctx context.Context) ([]string, error) {
	return b.queryStrings(ctx, `SELECT DISTINCT doc_key FROM price_documents ORDER BY doc_key`)
}

func (b *DocumentBackend) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *DocumentBackend) Has(ctx context.Context, code string, freq model.Frequency) (bool, error) {
	_, err := b.latestVersion(ctx, b.db, model.StorageKey(code, freq))
	if errors.Is(err, ErrMissingData) {
		return false, nil
	}
	return err == nil, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *DocumentBackend) latestVersion(ctx context.Context, q queryer, key string) (int64, error) {
	var v sql.NullInt64
	err := q.QueryRowContext(ctx, b.d.rebind(`SELECT MAX(version) FROM price_documents WHERE doc_key = ?`), key).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("latest version of %s: %w", key, err)
	}
	if !v.Valid {
		return 0, fmt.Errorf("%w: %s", ErrMissingData, key)
	}
	return v.Int64, nil
}

func (b *DocumentBackend) Read(ctx context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	key := model.StorageKey(code, freq)
	v, err := b.latestVersion(ctx, b.db, key)
	if err != nil {
		return model.EmptySeries(), err
	}
	return b.ReadVersion(ctx, code, freq, v)
}

// ReadVersion returns a specific historical version of a key.
func (b *DocumentBackend) ReadVersion(ctx context.Context, code string, freq model.Frequency, version int64) (model.PriceSeries, error) {
	key := model.StorageKey(code, freq)
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		b.d.rebind(`SELECT payload FROM price_documents WHERE doc_key = ? AND version = ?`),
		key, version).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmptySeries(), fmt.Errorf("%w: %s version %d", ErrMissingData, key, version)
	}
	if err != nil {
		return model.EmptySeries(), fmt.Errorf("read %s: %w", key, err)
	}
	return decodeDocument(payload)
}

// Versions lists the stored versions of a key, oldest first.
func (b *DocumentBackend) Versions(ctx context.Context, code string, freq model.Frequency) ([]DocumentVersion, error) {
	key := model.StorageKey(code, freq)
	rows, err := b.db.QueryContext(ctx,
		b.d.rebind(`SELECT version, row_count, written_at FROM price_documents WHERE doc_key = ? ORDER BY version`), key)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", key, err)
	}
	defer rows.Close()
	var out []DocumentVersion
	for rows.Next() {
		dv := DocumentVersion{Key: key}
		var writtenAt int64
		if err := rows.Scan(&dv.Version, &dv.Rows, &writtenAt); err != nil {
			return nil, err
		}
		dv.WrittenAt = time.Unix(0, writtenAt).UTC()
		out = append(out, dv)
	}
	return out, rows.Err()
}

// Write replaces the document wholesale by appending a new version.
func (b *DocumentBackend) Write(ctx context.Context, code string, freq model.Frequency, series model.PriceSeries, allowOverwrite bool) error {
	key := model.StorageKey(code, freq)
	payload, err := encodeDocument(code, freq, series)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", key, err)
	}
	defer tx.Rollback()

	next := int64(1)
	latest, err := b.latestVersion(ctx, tx, key)
	switch {
	case err == nil:
		if !allowOverwrite {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
		}
		next = latest + 1
	case errors.Is(err, ErrMissingData):
	default:
		return err
	}

	if _, err := tx.ExecContext(ctx, b.d.rebind(`INSERT INTO price_documents
		(doc_key, version, instrument, frequency, row_count, payload, written_at)
		VALUES (?,?,?,?,?,?,?)`),
		key, next, code, freq.Name(), series.Len(), payload, b.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert %s version %d: %w", key, next, err)
	}

	if b.keepVersions > 0 {
		if _, err := tx.ExecContext(ctx,
			b.d.rebind(`DELETE FROM price_documents WHERE doc_key = ? AND version <= ?`),
			key, next-int64(b.keepVersions)); err != nil {
			return fmt.Errorf("prune %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int64("version", next).Int("rows", series.Len()).Msg("wrote price document")
	return nil
}

// Delete removes every version of the key.
func (b *DocumentBackend) Delete(ctx context.Context, code string, freq model.Frequency) error {
	key := model.StorageKey(code, freq)
	b.mu.Lock()
	defer b.mu.Unlock()
	res, err := b.db.ExecContext(ctx, b.d.rebind(`DELETE FROM price_documents WHERE doc_key = ?`), key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrMissingData, key)
	}
	return nil
}

func (b *DocumentBackend) Close() error {
	log.Info().Str("driver", b.driver).Msg("closing document store")
	return b.db.Close()
}

func encodeDocument(code string, freq model.Frequency, series model.PriceSeries) ([]byte, error) {
	doc := document{
		Instrument: code,
		Frequency:  freq.Name(),
		Times:      make([]int64, series.Len()),
		Prices:     make([]float64, series.Len()),
	}
	for i, p := range series.Points() {
		doc.Times[i] = p.Time.UnixNano()
		doc.Prices[i] = p.Price
	}
	return msgpack.Marshal(&doc)
}

func decodeDocument(payload []byte) (model.PriceSeries, error) {
	var doc document
	if err := msgpack.Unmarshal(payload, &doc); err != nil {
		return model.EmptySeries(), fmt.Errorf("decode document: %w", err)
	}
	if len(doc.Times) != len(doc.Prices) {
		return model.EmptySeries(), fmt.Errorf("decode document: %d times for %d prices", len(doc.Times), len(doc.Prices))
	}
	points := make([]model.Point, len(doc.Times))
	for i := range doc.Times {
		points[i] = model.Point{Time: time.Unix(0, doc.Times[i]).UTC(), Price: doc.Prices[i]}
	}
	return model.NewSeries(points), nil
}
