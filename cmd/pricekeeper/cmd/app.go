package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"PriceKeeper/internal/batch"
	"PriceKeeper/internal/collector"
	"PriceKeeper/internal/config"
	"PriceKeeper/internal/keylock"
	"PriceKeeper/internal/merge"
	"PriceKeeper/internal/notifier"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/scheduler"
	"PriceKeeper/internal/store"
)

// app is the wired process. Everything is built from one immutable config.
type app struct {
	cfg      *config.Config
	store    *store.PriceStore
	broker   *store.PriceStore
	recorder recorder.Recorder
	engine   *merge.Engine
	runner   *batch.Runner
	telegram *notifier.TelegramNotifier // nil when no chat is configured

	closers []func() error
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{cfg: c}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	backend, err := openBackend(c, c.Storage.Primary)
	if err != nil {
		return nil, err
	}
	a.store = store.NewPriceStore(backend)
	a.closers = append(a.closers, a.store.Close)

	lookup, err := c.Lookup()
	if err != nil {
		return nil, err
	}
	col := collector.NewCollector(newFetcher(c), lookup)
	a.broker = store.NewPriceStore(store.NewBrokerBackend(col))
	log.Info().Str("store", a.store.Name()).Str("broker", a.broker.Name()).Int("instruments", lookup.Len()).
		Msg("stores ready")

	a.recorder = recorder.NewNoopRecorder()
	if c.Recorder.SQLitePath != "" {
		ensureParent(c.Recorder.SQLitePath)
		sr, err := recorder.NewSQLiteRecorder(c.Recorder.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		} else {
			a.recorder = sr
			a.closers = append(a.closers, sr.Close)
		}
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	var alerter merge.Alerter = notifier.LogAlerter{}
	if c.TelegramEnabled() {
		a.telegram = notifier.NewTelegramNotifier(c.Telegram.BotToken, c.Telegram.ChatID, c.Proxy)
		alerter = a.telegram
	}

	intraday, err := c.IntradayFrequency()
	if err != nil {
		return nil, err
	}
	a.engine, err = merge.NewEngine(merge.Options{
		Store:    a.store,
		Broker:   a.broker,
		Locker:   locker,
		Alerter:  alerter,
		Reviews:  a.recorder,
		Spikes:   lookup,
		Cleaning: c.Cleaning.Engine(),
		Intraday: intraday,
	})
	if err != nil {
		return nil, err
	}
	a.runner = batch.NewRunner(batch.Options{Engine: a.engine, Recorder: a.recorder, Workers: c.Batch.Workers})

	ok = true
	return a, nil
}

// messenger returns the chat sink for reports.
func (a *app) messenger() scheduler.Messenger {
	if a.telegram != nil {
		return a.telegram
	}
	return notifier.LogAlerter{}
}

func (a *app) newLocker(ctx context.Context) (keylock.Locker, error) {
	if a.cfg.Lock.Kind != "redis" {
		return keylock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         a.cfg.Lock.Addr,
		Password:     a.cfg.Lock.Password,
		DB:           a.cfg.Lock.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	a.closers = append(a.closers, client.Close)

	locker := keylock.NewRedis(client, a.cfg.Lock.Prefix, a.cfg.Lock.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", a.cfg.Lock.Addr, err)
	}
	log.Info().Str("addr", a.cfg.Lock.Addr).Msg("using redis key locks")
	return locker, nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

// openBackend builds a storage backend of the given kind from config.
func openBackend(c *config.Config, kind string) (store.Backend, error) {
	switch kind {
	case "csv":
		return store.NewCSVBackend(c.Storage.CSV.Path)
	case "document":
		d := c.Storage.Document
		if d.Driver == store.DriverSQLite {
			ensureParent(d.DSN)
		}
		return store.OpenDocumentBackend(d.Driver, d.DSN, d.KeepVersions)
	case "memory":
		log.Warn().Msg("using in-memory storage, nothing will be persisted")
		return store.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}

// ensureParent creates the directory of a sqlite file path.
func ensureParent(path string) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("create data directory")
	}
}

func newFetcher(c *config.Config) collector.Fetcher {
	switch c.Broker.Source {
	case "vstrader":
		return collector.NewVsTraderFetcher(c.Broker.BaseURL, c.Broker.APIKey, c.Proxy, c.Broker.Timeout)
	case "mock":
		return &collector.MockFetcher{Price: 100}
	default:
		return collector.NewYahooFetcher(c.Proxy, c.Broker.Timeout)
	}
}
