package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EventsNone     = "none"
	EventsKafka    = "kafka"
	EventsRabbitMQ = "rabbitmq"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally on the in-memory backends.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// PGDSN selects the Postgres store; empty keeps everything in memory.
	PGDSN         string
	RunMigrations bool

	// RedisAddr selects the shared Redis location cache.
	RedisAddr           string
	RedisPassword       string
	RedisLocationPrefix string
	RedisGeoKey         string

	EventsBackend    string
	KafkaBrokers     []string
	KafkaTopic       string
	RabbitMQURL      string
	RabbitMQExchange string
	EventQueueSize   int

	JWTSecret string
	JWTTTL    time.Duration

	LocationMaxAge   time.Duration
	MessageLogLimit  int
	MessageMaxLength int

	SeedFile string
	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisLocationPrefix: "shuttle:location:",
		RedisGeoKey:         "shuttle_drivers_geo",
		EventsBackend:       EventsNone,
		KafkaTopic:          "shuttle-roster-events",
		RabbitMQExchange:    "shuttle.roster",
		EventQueueSize:      1024,
		JWTTTL:              24 * time.Hour,
		LocationMaxAge:      15 * time.Minute,
		MessageMaxLength:    1000,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisLocationPrefix, "REDIS_LOCATION_PREFIX")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if v := os.Getenv("EVENTS_BACKEND"); v != "" {
		cfg.EventsBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.RabbitMQURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	setStringFromEnv(&cfg.RabbitMQExchange, "RABBITMQ_EXCHANGE")
	setIntFromEnv(&cfg.EventQueueSize, "EVENT_QUEUE_SIZE", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)

	setDurationFromEnv(&cfg.LocationMaxAge, "LOCATION_MAX_AGE", &errs)
	setIntFromEnv(&cfg.MessageLogLimit, "MESSAGE_LOG_LIMIT", &errs)
	setIntFromEnv(&cfg.MessageMaxLength, "MESSAGE_MAX_LENGTH", &errs)

	cfg.SeedFile = strings.TrimSpace(os.Getenv("SEED_FILE"))
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_TTL must be > 0"))
	}
	if c.LocationMaxAge < 0 {
		errs = append(errs, fmt.Errorf("LOCATION_MAX_AGE must be >= 0"))
	}
	if c.MessageLogLimit < 0 {
		errs = append(errs, fmt.Errorf("MESSAGE_LOG_LIMIT must be >= 0"))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_QUEUE_SIZE must be > 0"))
	}
	if c.MessageMaxLength <= 0 {
		errs = append(errs, fmt.Errorf("MESSAGE_MAX_LENGTH must be > 0"))
	}
	switch c.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka"))
		}
	case EventsRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, fmt.Errorf("RABBITMQ_URL is required when EVENTS_BACKEND=rabbitmq"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend))
	}
	return errs
}

// ConsumerConfig configures the Kafka to Redis location consumer.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr           string
	RedisPassword       string
	RedisLocationPrefix string
	RedisGeoKey         string

	LocationMaxAge time.Duration
	Retries        int
	RetryDelay     time.Duration

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	srv := defaultServerConfig()
	cfg := ConsumerConfig{
		MetricsAddr:         ":2112",
		KafkaBrokers:        []string{"localhost:9092"},
		KafkaTopic:          srv.KafkaTopic,
		KafkaGroup:          "shuttle-roster-locations",
		RedisAddr:           "localhost:6379",
		RedisLocationPrefix: srv.RedisLocationPrefix,
		RedisGeoKey:         srv.RedisGeoKey,
		LocationMaxAge:      srv.LocationMaxAge,
		Retries:             3,
		RetryDelay:          200 * time.Millisecond,
		LogLevel:            srv.LogLevel,
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisLocationPrefix, "REDIS_LOCATION_PREFIX")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.LocationMaxAge, "LOCATION_MAX_AGE", &errs)
	setIntFromEnv(&cfg.Retries, "CONSUMER_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.Retries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRIES must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
