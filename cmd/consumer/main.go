package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/example/shuttle-roster/internal/config"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/location"
	"github.com/example/shuttle-roster/internal/logging"
	"github.com/example/shuttle-roster/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_consumer_messages_consumed_total",
		Help: "Total roster events consumed",
	})
	msgsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_consumer_messages_skipped_total",
		Help: "Events of other types ignored by the location consumer",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_consumer_messages_invalid_total",
		Help: "Total invalid location events received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_consumer_redis_updates_total",
		Help: "Total successful redis location writes",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_consumer_redis_errors_total",
		Help: "Total redis location writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsSkipped, msgsInvalid, redisUpdates, redisErrors)
}

// LocationWriter is the subset of the location cache the consumer needs.
type LocationWriter interface {
	Report(ctx context.Context, loc models.Location) error
}

var errInvalidEvent = errors.New("invalid location event")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	flagSet := pflag.NewFlagSet("shuttle-consumer", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flagSet.StringVar(&cfg.KafkaGroup, "group", cfg.KafkaGroup, "kafka consumer group")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()
	cache := location.NewRedisCache(rc, cfg.RedisLocationPrefix, cfg.RedisGeoKey, cfg.LocationMaxAge)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := cache.Ping(r.Context()); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
		consume(gctx, r, cache, cfg, logger)
		return nil
	})
	return g.Wait()
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, w LocationWriter, cfg config.ConsumerConfig, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		loc, ok, err := decodeLocation(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if !ok {
			msgsSkipped.Inc()
			continue
		}
		if err := updateWithRetry(ctx, w, loc, cfg.Retries, cfg.RetryDelay); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "driver_id", loc.DriverID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// decodeLocation extracts a location from a roster event. ok is false for
// events of any other type.
func decodeLocation(m kafka.Message) (models.Location, bool, error) {
	for _, h := range m.Headers {
		if h.Key == events.TypeHeader && events.Type(h.Value) != events.LocationReported {
			return models.Location{}, false, nil
		}
	}
	var ev events.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return models.Location{}, false, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if ev.Type != events.LocationReported {
		return models.Location{}, false, nil
	}
	var loc models.Location
	if err := json.Unmarshal(ev.Payload, &loc); err != nil {
		return models.Location{}, false, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if loc.DriverID == "" || !loc.Coord.Valid() {
		return models.Location{}, false, fmt.Errorf("%w: driver %q at (%g, %g)", errInvalidEvent, loc.DriverID, loc.Lat, loc.Lon)
	}
	return loc, true, nil
}

// updateWithRetry writes loc with exponential backoff between attempts.
func updateWithRetry(ctx context.Context, w LocationWriter, loc models.Location, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Report(ctx, loc); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
