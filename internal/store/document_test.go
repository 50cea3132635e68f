package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceKeeper/internal/model"
)

func openTestDocuments(t *testing.T, keep int) *DocumentBackend {
	t.Helper()
	b, err := OpenDocumentBackend(DriverSQLite, filepath.Join(t.TempDir(), "prices.db"), keep)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestDocumentWriteRead(t *testing.T) {
	ctx := context.Background()
	b := openTestDocuments(t, 0)

	in := model.NewSeries([]model.Point{
		{Time: day0.Add(time.Second), Price: 1.5},
		{Time: day0.Add(1500 * time.Millisecond), Price: 1.75},
	})
	require.NoError(t, b.Write(ctx, "SPY", model.Second, in, false))

	out, err := b.Read(ctx, "SPY", model.Second)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	has, err := b.Has(ctx, "SPY", model.Second)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = b.Has(ctx, "SPY", model.Day)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = b.Read(ctx, "SPY", model.Day)
	assert.True(t, errors.Is(err, ErrMissingData))
}

func TestDocumentVersions(t *testing.T) {
	ctx := context.Background()
	b := openTestDocuments(t, 0)

	require.NoError(t, b.Write(ctx, "SPY", model.Mixed, daily(1), false))
	err := b.Write(ctx, "SPY", model.Mixed, daily(1, 2), false)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
	require.NoError(t, b.Write(ctx, "SPY", model.Mixed, daily(1, 2), true))
	require.NoError(t, b.Write(ctx, "SPY", model.Mixed, daily(1, 2, 3), true))

	versions, err := b.Versions(ctx, "SPY", model.Mixed)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, int64(1), versions[0].Version)
	assert.Equal(t, 3, versions[2].Rows)

	old, err := b.ReadVersion(ctx, "SPY", model.Mixed, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Len())

	latest, err := b.Read(ctx, "SPY", model.Mixed)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Len())
}

func TestDocumentPrunesOldVersions(t *testing.T) {
	ctx := context.Background()
	b := openTestDocuments(t, 2)

	for i := 1; i <= 4; i++ {
		prices := make([]float64, i)
		require.NoError(t, b.Write(ctx, "QQQ", model.Day, daily(prices...), true))
	}

	versions, err := b.Versions(ctx, "QQQ", model.Day)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(3), versions[0].Version)
	assert.Equal(t, int64(4), versions[1].Version)

	_, err = b.ReadVersion(ctx, "QQQ", model.Day, 1)
	assert.True(t, errors.Is(err, ErrMissingData))
}

func TestDocumentListAndDelete(t *testing.T) {
	ctx := context.Background()
	b := openTestDocuments(t, 0)

	require.NoError(t, b.Write(ctx, "SPY", model.Mixed, daily(1), false))
	require.NoError(t, b.Write(ctx, "SPY", model.Day, daily(1), false))
	require.NoError(t, b.Write(ctx, "QQQ", model.Hour, daily(1), false))

	all, err := b.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ", "SPY"}, all)

	hourly, err := b.ListInstrumentsAt(ctx, model.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ"}, hourly)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Day/SPY", "Hour/QQQ", "SPY"}, keys)

	require.NoError(t, b.Delete(ctx, "SPY", model.Day))
	err = b.Delete(ctx, "SPY", model.Day)
	assert.True(t, errors.Is(err, ErrMissingData))

	has, err := b.Has(ctx, "SPY", model.Mixed)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDocumentPing(t *testing.T) {
	b := openTestDocuments(t, 0)
	assert.NoError(t, Ping(context.Background(), b))
}

func TestDocumentUnknownDriver(t *testing.T) {
	_, err := OpenDocumentBackend("mongo", "", 0)
	assert.Error(t, err)
}

func TestDocumentPostgres(t *testing.T) {
	dsn := os.Getenv("PRICEKEEPER_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("PRICEKEEPER_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	b, err := OpenDocumentBackend(DriverPostgres, dsn, 0)
	require.NoError(t, err)
	defer b.Close()

	code := "PKTEST" + time.Now().Format("150405")
	require.NoError(t, b.Write(ctx, code, model.Day, daily(1, 2), false))
	defer b.Delete(ctx, code, model.Day)

	out, err := b.Read(ctx, code, model.Day)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
}

func TestRebind(t *testing.T) {
	pg := dialects[DriverPostgres]
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := dialects[DriverSQLite]
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
