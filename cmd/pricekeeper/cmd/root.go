// Package cmd holds the pricekeeper CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"PriceKeeper/internal/config"
	"PriceKeeper/internal/logger"
)

var version = "dev"

var (
	// shared flags
	cfgFile string
	envFile string
	storage string
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pricekeeper",
	Short: "Price history ingestion and consolidation",
	Long: `PriceKeeper keeps per-frequency price history for a set of instruments,
updates it from a broker feed behind a spike gate, and consolidates every
frequency into one merged series.

Commands:
    update      run one batch update
    seed        load initial broker history for an instrument
    copy        copy every series between storage backends
    delete      delete one stored series
    show        print a stored series
    review      list or resolve spikes waiting for manual review
    run         scheduler + chat commands + read API
    serve       read API only
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&storage, "storage", "", "override storage.primary (csv, document, memory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(updateCmd, seedCmd, copyCmd, deleteCmd, showCmd, reviewCmd, runCmd, serveCmd)
}

// initConfig loads .env, the YAML config and the logger.
func initConfig() error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if storage != "" {
		c.Storage.Primary = storage
	}
	if verbose {
		c.Logging.Level = "debug"
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	c.Logging.Service = "pricekeeper"
	c.Logging.Version = version
	if err := logger.Init(c.Logging); err != nil {
		return err
	}
	log.Debug().Str("config", path).Str("storage", c.Storage.Primary).Str("broker", c.Broker.Source).
		Msg("config loaded")
	cfg = c
	return nil
}
