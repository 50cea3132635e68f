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

var vsInterval = map[model.Frequency]string{
	model.Second:         "1s",
	model.Minute:         "1m",
	model.FiveMinutes:    "5m",
	model.FifteenMinutes: "15m",
	model.Hour:           "1h",
	model.Day:            "daily",
}

// VsTraderFetcher implements Fetcher using the vstrader REST API.
type VsTraderFetcher struct {
	BaseURL string
	APIKey  string
	Limit   int
	Client  *http.Client
}

// NewVsTraderFetcher creates a new fetcher with optional proxy support.
func NewVsTraderFetcher(baseURL, apiKey, proxyURL string, timeout time.Duration) *VsTraderFetcher {
	return &VsTraderFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Limit:   5000,
		Client:  newHTTPClient(proxyURL, timeout),
	}
}

func (f *VsTraderFetcher) Name() string { return "vstrader" }

func (f *VsTraderFetcher) Frequencies() []model.Frequency {
	return []model.Frequency{model.Second, model.Minute, model.FiveMinutes, model.FifteenMinutes, model.Hour, model.Day}
}

// vsBar is the expected JSON shape from the vstrader API.
type vsBar struct {
	Timestamp int64   `json:"timestamp"`
	Close     float64 `json:"close"`
}

func (f *VsTraderFetcher) FetchBars(ctx context.Context, symbol string, freq model.Frequency) ([]model.Point, error) {
	interval, ok := vsInterval[freq]
	if !ok {
		return nil, fmt.Errorf("%w: vstrader has no %s bars", ErrUnsupportedFrequency, freq)
	}
	endpoint := fmt.Sprintf("%s/api/v1/bars/%s?symbol=%s&limit=%d",
		f.BaseURL, interval, url.QueryEscape(symbol), f.Limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch bars: status %d, body: %s", resp.StatusCode, string(body))
	}
	var bars []vsBar
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	points := make([]model.Point, len(bars))
	for i, b := range bars {
		points[i] = model.Point{Time: time.Unix(b.Timestamp, 0).UTC(), Price: b.Close}
	}
	return points, nil
}
