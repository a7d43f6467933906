package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/example/shuttle-roster/internal/config"
	"github.com/example/shuttle-roster/internal/dispatch"
	"github.com/example/shuttle-roster/internal/events"
	httpapi "github.com/example/shuttle-roster/internal/http"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/location"
	"github.com/example/shuttle-roster/internal/logging"
	"github.com/example/shuttle-roster/internal/messages"
	"github.com/example/shuttle-roster/internal/roster"
	"github.com/example/shuttle-roster/internal/seed"
	"github.com/example/shuttle-roster/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flagSet := pflag.NewFlagSet("shuttle-roster", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "address to listen on")
	flagSet.StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "YAML fixture applied to the store at startup")
	flagSet.BoolVar(&cfg.RunMigrations, "migrate", cfg.RunMigrations, "apply embedded Postgres migrations before serving")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		fixture, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, store, fixture); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("seed applied", "file", cfg.SeedFile, "users", len(fixture.Users), "services", len(fixture.Services))
	}

	checks := map[string]httpapi.ReadinessCheck{}
	var locations location.Cache
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		rcache := location.NewRedisCache(rc, cfg.RedisLocationPrefix, cfg.RedisGeoKey, cfg.LocationMaxAge)
		checks["redis"] = rcache.Ping
		locations = rcache
	} else {
		locations = location.NewShardedCache(cfg.LocationMaxAge)
	}

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	hub := dispatch.NewHub(logger)
	engine := roster.New(roster.Options{
		Store:            store,
		Credentials:      identity.NewJWT(cfg.JWTSecret, cfg.JWTTTL),
		Locations:        locations,
		Messages:         messages.NewLog(cfg.MessageLogLimit),
		Events:           publisher,
		Notifier:         hub,
		Logger:           logger,
		MaxMessageLength: cfg.MessageMaxLength,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(engine, hub, logger, checks),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("shuttle-roster listening", "addr", cfg.HTTPAddr, "events", cfg.EventsBackend, "redis", cfg.RedisAddr != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.EntityStore, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.RunMigrations {
		applied, err := ps.Migrate(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "files", applied)
	}
	return ps, nil
}

// openPublisher puts broker delivery behind a queue so requests never wait
// on Kafka or RabbitMQ.
func openPublisher(cfg config.ServerConfig, logger *slog.Logger) (events.Publisher, error) {
	var broker events.Publisher
	switch cfg.EventsBackend {
	case config.EventsKafka:
		broker = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.EventsRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		broker = p
	default:
		return events.NopPublisher{}, nil
	}
	return events.NewAsyncPublisher(broker, cfg.EventQueueSize, logger), nil
}
