package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceKeeper/internal/instrument"
	"PriceKeeper/internal/model"
)

func TestYahooFetchBars(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"chart":{"result":[{"timestamp":[1704153600,1704240000,1704326400],
			"indicators":{"quote":[{"close":[4742.83,null,4704.81]}]}}],"error":null}}`)
	}))
	defer srv.Close()

	f := NewYahooFetcher("", time.Second)
	f.BaseURL = srv.URL

	bars, err := f.FetchBars(context.Background(), "^GSPC", model.Day)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "/v8/finance/chart/^GSPC", gotPath)
	assert.Equal(t, "interval=1d&range=10y", gotQuery)
	assert.Equal(t, time.Unix(1704153600, 0).UTC(), bars[0].Time)
	assert.Equal(t, 4704.81, bars[1].Price)
}

func TestYahooAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	}))
	defer srv.Close()

	f := NewYahooFetcher("", time.Second)
	f.BaseURL = srv.URL
	_, err := f.FetchBars(context.Background(), "NOPE", model.Day)
	assert.ErrorContains(t, err, "No data found")

	_, err = f.FetchBars(context.Background(), "SPY", model.Second)
	assert.True(t, errors.Is(err, ErrUnsupportedFrequency))
}

func TestVsTraderFetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bars/1h", r.URL.Path)
		assert.Equal(t, "SPX", r.URL.Query().Get("symbol"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"timestamp":1704200400,"close":4750.5},{"timestamp":1704196800,"close":4749}]`)
	}))
	defer srv.Close()

	f := NewVsTraderFetcher(srv.URL, "secret", "", time.Second)
	bars, err := f.FetchBars(context.Background(), "SPX", model.Hour)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 4750.5, bars[0].Price)
}

func TestVsTraderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewVsTraderFetcher(srv.URL, "", "", time.Second)
	_, err := f.FetchBars(context.Background(), "SPX", model.Day)
	assert.ErrorContains(t, err, "status 429")
}

func TestCollectorFetchPrices(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	lookup, err := instrument.NewLookup([]instrument.Instrument{
		{Code: "GOLD", BrokerSymbol: "XAU", PriceMagnifier: 10},
	})
	require.NoError(t, err)

	mock := &MockFetcher{Bars: map[model.Frequency][]model.Point{
		model.Day: {
			{Time: t0.AddDate(0, 0, 1), Price: 2},
			{Time: t0, Price: 1},
			{Time: t0.AddDate(0, 0, 1), Price: 3},
		},
	}}
	c := NewCollector(mock, lookup)

	s, err := c.FetchPrices(context.Background(), "GOLD", model.Day)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.True(t, s.IsStrictlyIncreasing())
	assert.Equal(t, 10.0, s.At(0).Price)
	assert.Equal(t, 30.0, s.At(1).Price)

	_, err = c.FetchPrices(context.Background(), "SILVER", model.Day)
	assert.True(t, errors.Is(err, ErrUnknownInstrument))

	_, err = c.FetchPrices(context.Background(), "GOLD", model.Minute)
	assert.True(t, errors.Is(err, ErrUnsupportedFrequency))

	assert.Equal(t, []string{"GOLD"}, c.Instruments())
	assert.True(t, c.Supports(model.Hour))
}

func TestMockGeneratesAlignedBars(t *testing.T) {
	end := time.Date(2024, 3, 1, 15, 42, 0, 0, time.UTC)
	m := &MockFetcher{Price: 100, Count: 5, Now: func() time.Time { return end }}
	bars, err := m.FetchBars(context.Background(), "X", model.Hour)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), bars[4].Time)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), bars[0].Time)
	assert.True(t, model.NewSeries(bars).IsStrictlyIncreasing())
}
