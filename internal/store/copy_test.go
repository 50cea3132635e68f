package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceKeeper/internal/model"
)

func TestCopyCSVToDocuments(t *testing.T) {
	ctx := context.Background()
	csvBackend, err := NewCSVBackend(t.TempDir())
	require.NoError(t, err)
	src := NewPriceStore(csvBackend)
	require.NoError(t, src.WriteMerged(ctx, "SPY", daily(1, 2, 3), false))
	require.NoError(t, src.Add(ctx, "SPY", model.Day, daily(1, 2), false))
	require.NoError(t, src.Add(ctx, "QQQ", model.Minute, daily(5), false))

	docs, err := OpenDocumentBackend(DriverSQLite, filepath.Join(t.TempDir(), "copy.db"), 0)
	require.NoError(t, err)
	dst := NewPriceStore(docs)
	defer dst.Close()
	require.NoError(t, dst.Add(ctx, "SPY", model.Day, daily(9), false))

	report, err := Copy(ctx, src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Copied)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 4, report.Rows)

	kept, err := dst.Get(ctx, "SPY", model.Day, ReturnMissing)
	require.NoError(t, err)
	assert.True(t, kept.Equal(daily(9)))

	report, err = Copy(ctx, src, dst, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Copied)
	replaced, err := dst.Get(ctx, "SPY", model.Day, ReturnMissing)
	require.NoError(t, err)
	assert.True(t, replaced.Equal(daily(1, 2)))
}
