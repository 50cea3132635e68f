package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

// Handler serves the read API.
type Handler struct {
	store    *store.PriceStore
	recorder recorder.Recorder
}

type pointJSON struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

type pricesResponse struct {
	Instrument string      `json:"instrument"`
	Frequency  string      `json:"frequency"`
	Key        string      `json:"key"`
	Count      int         `json:"count"`
	Points     []pointJSON `json:"points"`
}

type instrumentsResponse struct {
	Frequency   string   `json:"frequency"`
	Instruments []string `json:"instruments"`
}

type reviewJSON struct {
	ID         int64     `json:"id"`
	Instrument string    `json:"instrument"`
	Frequency  string    `json:"frequency"`
	Last       pointJSON `json:"last"`
	Incoming   pointJSON `json:"incoming"`
	MaxSpike   float64   `json:"max_spike"`
	DetectedAt time.Time `json:"detected_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports whether the primary store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": h.store.Name()})
}

// ListInstruments lists stored instruments, by default those with a merged series.
// GET /api/instruments?frequency=F
func (h *Handler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	freq, err := frequencyParam(r, model.Mixed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	codes, err := h.store.InstrumentsAt(r.Context(), freq)
	if err != nil {
		log.Error().Err(err).Str("frequency", freq.Code()).Msg("list instruments")
		writeError(w, http.StatusInternalServerError, "list instruments failed")
		return
	}
	if codes == nil {
		codes = []string{}
	}
	writeJSON(w, http.StatusOK, instrumentsResponse{Frequency: freq.Name(), Instruments: codes})
}

// GetPrices returns a stored series.
// GET /api/prices/{code}?frequency=F&since=DATE&daily=true&limit=N
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := model.ValidateInstrument(code); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	freq, err := frequencyParam(r, model.Mixed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		if since, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	series, err := h.store.Get(r.Context(), code, freq, store.ReturnMissing)
	switch {
	case errors.Is(err, store.ErrMissingData):
		writeError(w, http.StatusNotFound, fmt.Sprintf("no prices for %s", model.StorageKey(code, freq)))
		return
	case err != nil:
		log.Error().Err(err).Str("instrument", code).Str("frequency", freq.Code()).Msg("read prices")
		writeError(w, http.StatusInternalServerError, "read prices failed")
		return
	}

	if !since.IsZero() {
		series = series.Since(since)
	}
	if q.Get("daily") == "true" {
		series = series.DailyClose()
	}
	if limit > 0 {
		series = series.Tail(limit)
	}

	resp := pricesResponse{
		Instrument: code,
		Frequency:  freq.Name(),
		Key:        model.StorageKey(code, freq),
		Count:      series.Len(),
		Points:     make([]pointJSON, 0, series.Len()),
	}
	for _, p := range series.Points() {
		resp.Points = append(resp.Points, pointJSON{Time: p.Time, Price: p.Price})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListReviews lists spike reports awaiting manual review.
// GET /api/reviews?instrument=CODE
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reports, err := h.recorder.PendingSpikeReports(r.Context(), r.URL.Query().Get("instrument"))
	if err != nil {
		log.Error().Err(err).Msg("list spike reports")
		writeError(w, http.StatusInternalServerError, "list spike reports failed")
		return
	}
	out := make([]reviewJSON, 0, len(reports))
	for _, rep := range reports {
		out = append(out, reviewJSON{
			ID:         rep.ID,
			Instrument: rep.Instrument,
			Frequency:  rep.Frequency.Name(),
			Last:       pointJSON{Time: rep.Last.Time, Price: rep.Last.Price},
			Incoming:   pointJSON{Time: rep.Incoming.Time, Price: rep.Incoming.Price},
			MaxSpike:   rep.MaxSpike,
			DetectedAt: rep.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func frequencyParam(r *http.Request, fallback model.Frequency) (model.Frequency, error) {
	v := r.URL.Query().Get("frequency")
	if v == "" {
		return fallback, nil
	}
	return model.ParseFrequency(v)
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
