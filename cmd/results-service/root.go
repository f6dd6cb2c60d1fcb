package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/config"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/logging"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/providers/marathon"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/retry"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/scheduler"
)

// app carries state shared by the subcommands
type app struct {
	configFile string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "results-service",
		Short: "Sports results scraper and query service",
		Long: `results-service periodically scrapes finished-event results from
MarathonBet, keeps a time-indexed window of them and serves filtered
queries over HTTP and a websocket feed.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (YAML); env vars and .env override defaults")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	serve := newServeCommand(a)
	root.AddCommand(serve, newScrapeCommand(a))

	// Running without a subcommand serves
	root.RunE = serve.RunE

	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	a.cfg = cfg
	a.logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.ConfigFile != "" {
		a.logger.Info().Str("file", cfg.ConfigFile).Msg("Loaded config file")
	}
	return nil
}

func (a *app) newSource() *marathon.Source {
	return marathon.NewSource(marathon.Options{
		BaseURL:  a.cfg.Scraper.SourceURL,
		Timeout:  a.cfg.Scraper.FetchTimeout,
		SkipLive: a.cfg.Scraper.SkipLive,
	})
}

func (a *app) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:  a.cfg.Scraper.Interval,
		Retention: a.cfg.Store.Retention,
		Backoff:   retry.NewBackoff(a.cfg.Scraper.BackoffBase, a.cfg.Scraper.BackoffMax),
	}
}

func (a *app) connectRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	a.logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return client, nil
}
