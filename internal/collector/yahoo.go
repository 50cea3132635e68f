package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"PriceKeeper/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// yahooInterval maps a frequency to the chart API interval and the widest
// range Yahoo serves for it.
var yahooInterval = map[model.Frequency]struct{ interval, rng string }{
	model.Minute:         {"1m", "7d"},
	model.FiveMinutes:    {"5m", "60d"},
	model.FifteenMinutes: {"15m", "60d"},
	model.Hour:           {"60m", "730d"},
	model.Day:            {"1d", "10y"},
}

// YahooFetcher implements Fetcher using Yahoo Finance public API.
type YahooFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string, timeout time.Duration) *YahooFetcher {
	return &YahooFetcher{
		BaseURL: yahooBaseURL,
		Client:  newHTTPClient(proxyURL, timeout),
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) Frequencies() []model.Frequency {
	return []model.Frequency{model.Minute, model.FiveMinutes, model.FifteenMinutes, model.Hour, model.Day}
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) FetchBars(ctx context.Context, symbol string, freq model.Frequency) ([]model.Point, error) {
	iv, ok := yahooInterval[freq]
	if !ok {
		return nil, fmt.Errorf("%w: yahoo has no %s bars", ErrUnsupportedFrequency, freq)
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		f.BaseURL, url.PathEscape(symbol), iv.interval, iv.rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no quote block for %s", symbol)
	}
	closes := result.Indicators.Quote[0].Close
	points := make([]model.Point, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue // null bars (holidays, halts)
		}
		points = append(points, model.Point{Time: time.Unix(ts, 0).UTC(), Price: *closes[i]})
	}
	return points, nil
}
