package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/archive"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/config"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/hub"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/publisher"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/query"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/store"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scraper and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Backend).
		Dur("interval", cfg.Scraper.Interval).
		Dur("retention", cfg.Store.Retention).
		Msg("Starting results service")

	m := metrics.New()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		client, err := a.connectRedis(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	var eventStore contracts.EventStore
	switch cfg.Store.Backend {
	case config.BackendRedis:
		eventStore = store.NewRedisStore(redisClient)
	default:
		eventStore = store.NewMemoryStore(store.WithShards(cfg.Store.Shards))
	}

	wsHub := hub.NewHub(log, m)
	sinks := []contracts.Sink{wsHub}

	if cfg.Redis.Publish {
		sinks = append(sinks, publisher.NewStreamPublisher(redisClient))
		log.Info().Str("prefix", publisher.StreamPrefix).Msg("Publishing result updates to Redis streams")
	}

	if cfg.ArchiveDSN != "" {
		arch, err := archive.Open(ctx, cfg.ArchiveDSN)
		if err != nil {
			return err
		}
		defer arch.Close()

		if err := arch.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, arch)
		log.Info().Msg("Archiving results to Postgres")
	}

	sched := scheduler.New(a.newSource(), eventStore, a.schedulerConfig(),
		scheduler.WithSinks(sinks...),
		scheduler.WithMetrics(m),
		scheduler.WithLogger(log),
	)

	engine := query.NewEngine(eventStore, time.Duration(cfg.DefaultQueryHours)*time.Hour, m)
	h := handlers.NewHandler(engine, eventStore, sched, wsHub)

	g, gctx := errgroup.WithContext(ctx)

	router := handlers.NewRouter(h, handlers.RouterOptions{
		Logger:      log,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     m.Handler(),
		WebSocket:   wsHub.ServeWS(gctx),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Scraper.Autostart {
		sched.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		sched.Stop()
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Results service stopped")
	return nil
}
