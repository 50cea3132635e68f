// Package api serves stored prices over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

// Config holds router dependencies. Recorder is optional.
type Config struct {
	Store    *store.PriceStore
	Recorder recorder.Recorder
	Timeout  time.Duration
}

// NewRouter creates the read-only HTTP router.
func NewRouter(cfg Config) http.Handler {
	h := &Handler{store: cfg.Store, recorder: cfg.Recorder}
	if h.recorder == nil {
		h.recorder = recorder.NewNoopRecorder()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/instruments", h.ListInstruments)
		r.Get("/prices/{code}", h.GetPrices)
		r.Get("/reviews", h.ListReviews)
	})

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
