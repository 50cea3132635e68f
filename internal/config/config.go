package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PriceKeeper/internal/instrument"
	"PriceKeeper/internal/logger"
	"PriceKeeper/internal/merge"
	"PriceKeeper/internal/model"
)

// Config holds all application configuration. It is loaded once and treated
// as read-only for the lifetime of a run.
type Config struct {
	Storage     StorageConfig           `yaml:"storage"`
	Broker      BrokerConfig            `yaml:"broker"`
	Cleaning    CleaningConfig          `yaml:"cleaning"`
	Instruments []instrument.Instrument `yaml:"instruments"`
	Batch       struct {
		Workers int `yaml:"workers"`
	} `yaml:"batch"`
	Lock     LockConfig `yaml:"lock"`
	Schedule struct {
		UpdateCron string `yaml:"update_cron"`
		ReviewCron string `yaml:"review_cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Recorder struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"recorder"`
	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
	Logging logger.Config `yaml:"logging"`
	Proxy   string        `yaml:"proxy"`
}

// StorageConfig selects the primary backend and configures every backend
// kind, so copy can move data between them.
type StorageConfig struct {
	Primary string `yaml:"primary"` // csv, document, memory
	CSV     struct {
		Path string `yaml:"path"`
	} `yaml:"csv"`
	Document struct {
		Driver       string `yaml:"driver"` // sqlite, postgres
		DSN          string `yaml:"dsn"`
		KeepVersions int    `yaml:"keep_versions"`
	} `yaml:"document"`
}

type BrokerConfig struct {
	Source  string `yaml:"source"` // yahoo, vstrader, mock
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Intraday names the intraday frequency updated before Day; "none"
	// updates Day only.
	Intraday string        `yaml:"intraday"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CleaningConfig struct {
	IgnoreZeroPrices     bool    `yaml:"ignore_zero_prices"`
	IgnoreNegativePrices bool    `yaml:"ignore_negative_prices"`
	IgnoreFuturePrices   bool    `yaml:"ignore_future_prices"`
	MaxPriceSpike        float64 `yaml:"max_price_spike"`
}

type LockConfig struct {
	Kind     string        `yaml:"kind"` // local, redis
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Engine converts the section into the merge engine's filter settings.
func (c CleaningConfig) Engine() merge.CleaningConfig {
	return merge.CleaningConfig{
		IgnoreZeroPrices:     c.IgnoreZeroPrices,
		IgnoreNegativePrices: c.IgnoreNegativePrices,
		IgnoreFuturePrices:   c.IgnoreFuturePrices,
		MaxPriceSpike:        c.MaxPriceSpike,
	}
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Cleaning filters are opt-out, so they start enabled and YAML may clear them.
	def := merge.DefaultCleaning()
	cfg.Cleaning = CleaningConfig{
		IgnoreZeroPrices:     def.IgnoreZeroPrices,
		IgnoreNegativePrices: def.IgnoreNegativePrices,
		IgnoreFuturePrices:   def.IgnoreFuturePrices,
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("VSTRADER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("VSTRADER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("PRICEKEEPER_STORAGE"); v != "" {
		cfg.Storage.Primary = v
	}
	if v := os.Getenv("PRICEKEEPER_CSV_PATH"); v != "" {
		cfg.Storage.CSV.Path = v
	}
	if v := os.Getenv("PRICEKEEPER_DOCUMENT_DSN"); v != "" {
		cfg.Storage.Document.DSN = v
	}
	if v := os.Getenv("PRICEKEEPER_BROKER"); v != "" {
		cfg.Broker.Source = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Lock.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Lock.Password = v
	}
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("CRON_UPDATE"); v != "" {
		cfg.Schedule.UpdateCron = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		cfg.Schedule.RunOnStart = v == "true"
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Recorder.SQLitePath = v
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Defaults
	if cfg.Storage.Primary == "" {
		cfg.Storage.Primary = "csv"
	}
	if cfg.Storage.CSV.Path == "" {
		cfg.Storage.CSV.Path = "data/prices"
	}
	if cfg.Storage.Document.Driver == "" {
		cfg.Storage.Document.Driver = "sqlite"
	}
	if cfg.Storage.Document.DSN == "" && cfg.Storage.Document.Driver == "sqlite" {
		cfg.Storage.Document.DSN = "data/prices.db"
	}
	if cfg.Broker.Source == "" {
		cfg.Broker.Source = "yahoo"
	}
	if cfg.Broker.Intraday == "" {
		cfg.Broker.Intraday = model.Hour.Name()
	}
	if cfg.Broker.Timeout == 0 {
		cfg.Broker.Timeout = 30 * time.Second
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = 1
	}
	if cfg.Lock.Kind == "" {
		cfg.Lock.Kind = "local"
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "pricekeeper:lock:"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 2 * time.Minute
	}
	if cfg.Schedule.UpdateCron == "" {
		cfg.Schedule.UpdateCron = "0 30 22 * * 1-5"
	}
	if cfg.Schedule.ReviewCron == "" {
		cfg.Schedule.ReviewCron = "0 0 9 * * 1-5"
	}
	if cfg.Recorder.SQLitePath == "" {
		cfg.Recorder.SQLitePath = "data/pricekeeper.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "pretty"
	}
	if cfg.Logging.RotationSize == 0 {
		cfg.Logging.RotationSize = 50
	}
	if cfg.Logging.RetentionDays == 0 {
		cfg.Logging.RetentionDays = 30
	}

	return cfg, nil
}

// IntradayFrequency resolves broker.intraday. Zero means Day only.
func (c *Config) IntradayFrequency() (model.Frequency, error) {
	name := strings.TrimSpace(c.Broker.Intraday)
	if name == "" || strings.EqualFold(name, "none") {
		return 0, nil
	}
	f, err := model.ParseFrequency(name)
	if err != nil {
		return 0, fmt.Errorf("broker.intraday: %w", err)
	}
	if !f.IsIntraday() {
		return 0, fmt.Errorf("broker.intraday: %s is not an intraday frequency", f)
	}
	return f, nil
}

// Lookup builds the instrument lookup from the instruments section.
func (c *Config) Lookup() (*instrument.Lookup, error) {
	return instrument.NewLookup(c.Instruments)
}

// TelegramEnabled reports whether both bot token and chat id are set.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	switch c.Storage.Primary {
	case "csv", "document", "memory":
	default:
		return fmt.Errorf("storage.primary must be csv, document or memory, got %q", c.Storage.Primary)
	}
	switch c.Storage.Document.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.document.driver must be sqlite or postgres, got %q", c.Storage.Document.Driver)
	}
	if c.Storage.Primary == "document" && c.Storage.Document.DSN == "" {
		return fmt.Errorf("storage.document.dsn is required")
	}
	if c.Storage.Document.KeepVersions < 0 {
		return fmt.Errorf("storage.document.keep_versions must not be negative")
	}

	switch c.Broker.Source {
	case "yahoo", "mock":
	case "vstrader":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required for vstrader")
		}
	default:
		return fmt.Errorf("broker.source must be yahoo, vstrader or mock, got %q", c.Broker.Source)
	}
	if _, err := c.IntradayFrequency(); err != nil {
		return err
	}

	if c.Cleaning.MaxPriceSpike < 0 {
		return fmt.Errorf("cleaning.max_price_spike must not be negative")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	if _, err := c.Lookup(); err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be positive")
	}

	switch c.Lock.Kind {
	case "local":
	case "redis":
		if c.Lock.Addr == "" {
			return fmt.Errorf("lock.addr is required for redis locks")
		}
	default:
		return fmt.Errorf("lock.kind must be local or redis, got %q", c.Lock.Kind)
	}

	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}
