// Package logger configures the global zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level         string `yaml:"level"`  // debug, info, warn, error
	Format        string `yaml:"format"` // json, pretty
	Dir           string `yaml:"dir"`    // empty disables file output
	RotationSize  int    `yaml:"rotation_size_mb"`
	RetentionDays int    `yaml:"retention_days"`
	Service       string `yaml:"-"`
	Version       string `yaml:"-"`
}

// errorLevelWriter passes through ERROR and above.
type errorLevelWriter struct {
	io.Writer
}

func (w errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}
	return w.Write(p)
}

func rotating(dir, name string, cfg Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    cfg.RotationSize,
		MaxAge:     cfg.RetentionDays,
		MaxBackups: 10,
		Compress:   true,
	}
}

// New builds a logger writing to console and, when Dir is set, to rotated
// app.log and error.log files.
func New(cfg Config, console io.Writer) (zerolog.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, console)
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers,
			rotating(cfg.Dir, "app.log", cfg),
			errorLevelWriter{rotating(cfg.Dir, "error.log", cfg)},
		)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	return ctx.Logger(), nil
}

// Init installs the configured logger as the global logger.
func Init(cfg Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	l, err := New(cfg, os.Stderr)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l.GetLevel())
	log.Logger = l

	log.Debug().
		Str("level", l.GetLevel().String()).
		Str("format", cfg.Format).
		Str("dir", cfg.Dir).
		Msg("logger initialized")
	return nil
}
