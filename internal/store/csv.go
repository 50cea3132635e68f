package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/model"
)

const (
	csvExtension   = ".csv"
	csvIndexColumn = "DATETIME"
	csvPriceColumn = "price"
	csvTimeLayout  = "2006-01-02 15:04:05.999999999"
)

var csvReadLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVBackend stores one file per key under a root directory: Mixed series at
// <root>/<code>.csv, others at <root>/<FrequencyName>/<code>.csv.
// Delete is not supported; remove the file by hand.
type CSVBackend struct {
	root string
}

// NewCSVBackend creates the root directory if needed.
func NewCSVBackend(root string) (*CSVBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create csv root: %w", err)
	}
	return &CSVBackend{root: root}, nil
}

func (b *CSVBackend) Name() string { return "csv:" + b.root }

// Root returns the directory the backend writes to.
func (b *CSVBackend) Root() string { return b.root }

func (b *CSVBackend) path(code string, freq model.Frequency) string {
	return filepath.Join(b.root, filepath.FromSlash(model.StorageKey(code, freq))+csvExtension)
}

func (b *CSVBackend) dir(freq model.Frequency) string {
	if freq == model.Mixed {
		return b.root
	}
	return filepath.Join(b.root, freq.Name())
}

func (b *CSVBackend) ListInstruments(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, freq := range model.AllFrequencies() {
		codes, err := b.ListInstrumentsAt(ctx, freq)
		if err != nil {
			return nil, err
		}
		for _, c := range codes {
			seen[c] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (b *CSVBackend) ListInstrumentsAt(_ context.Context, freq model.Frequency) ([]string, error) {
	entries, err := os.ReadDir(b.dir(freq))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.dir(freq), err)
	}
	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), csvExtension) {
			continue
		}
		codes = append(codes, strings.TrimSuffix(e.Name(), csvExtension))
	}
	sort.Strings(codes)
	return codes, nil
}

func (b *CSVBackend) Has(_ context.Context, code string, freq model.Frequency) (bool, error) {
	_, err := os.Stat(b.path(code, freq))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat csv: %w", err)
	}
	return true, nil
}

// Read collapses duplicate timestamps keeping the last row, then sorts.
func (b *CSVBackend) Read(_ context.Context, code string, freq model.Frequency) (model.PriceSeries, error) {
	filename := b.path(code, freq)
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return model.EmptySeries(), fmt.Errorf("%w: %s", ErrMissingData, filename)
	}
	if err != nil {
		return model.EmptySeries(), fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	series, err := decodeCSV(f)
	if err != nil {
		return model.EmptySeries(), fmt.Errorf("read %s: %w", filename, err)
	}
	return series, nil
}

func decodeCSV(r io.Reader) (model.PriceSeries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var points []model.Point
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.EmptySeries(), err
		}
		line++
		if len(rec) < 2 {
			return model.EmptySeries(), fmt.Errorf("line %d: expected %s,%s", line, csvIndexColumn, csvPriceColumn)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), csvIndexColumn) {
			continue // header
		}
		ts, err := parseCSVTime(rec[0])
		if err != nil {
			return model.EmptySeries(), fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(rec[1]) == "" {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return model.EmptySeries(), fmt.Errorf("line %d: parse price: %w", line, err)
		}
		points = append(points, model.Point{Time: ts, Price: price})
	}
	return model.NewSeries(points).Normalize(), nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvReadLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

// Write always rewrites the whole file through a temp file and rename.
func (b *CSVBackend) Write(ctx context.Context, code string, freq model.Frequency, series model.PriceSeries, allowOverwrite bool) error {
	if !allowOverwrite {
		exists, err := b.Has(ctx, code, freq)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, model.StorageKey(code, freq))
		}
	}

	filename := b.path(code, freq)
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return fmt.Errorf("create temp csv: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeCSV(tmp, series); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("replace csv: %w", err)
	}

	log.Debug().Str("file", filename).Int("rows", series.Len()).Msg("wrote csv prices")
	return nil
}

func encodeCSV(w io.Writer, series model.PriceSeries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{csvIndexColumn, csvPriceColumn}); err != nil {
		return err
	}
	for _, p := range series.Points() {
		rec := []string{
			p.Time.UTC().Format(csvTimeLayout),
			strconv.FormatFloat(p.Price, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (b *CSVBackend) Delete(_ context.Context, code string, freq model.Frequency) error {
	return fmt.Errorf("%w: csv prices cannot be deleted, overwrite or remove %s by hand",
		ErrUnsupported, b.path(code, freq))
}

func (b *CSVBackend) Close() error { return nil }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
