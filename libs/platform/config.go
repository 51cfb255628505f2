package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/config"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/kafkax"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	BrokerRabbitMQ = "rabbitmq"
	BrokerNATS     = "nats"
	BrokerKafka    = "kafka"
	BrokerMemory   = "memory"
)

// Config is the wiring shared by every service process.
type Config struct {
	Service string

	StoreDriver string
	DatabaseURL string
	Migrate     bool

	BrokerDriver string
	BrokerURL    string
	KafkaBrokers []string
	KafkaGroupID string
	Queue        broker.QueueOptions

	RedisURL string

	Consumer    consumer.Config
	MaxAttempts int
	AttemptTTL  time.Duration
	Relay       outbox.RelayConfig

	CORSOrigins        []string
	RateLimitPerMinute int
}

// ConfigFromEnv reads the service wiring from the environment.
func ConfigFromEnv(service string) (Config, error) {
	cfg := Config{
		Service:      service,
		StoreDriver:  strings.ToLower(config.String("STORE_DRIVER", StorePostgres)),
		DatabaseURL:  config.String("DATABASE_URL", ""),
		BrokerDriver: strings.ToLower(config.String("BROKER_DRIVER", BrokerRabbitMQ)),
		BrokerURL:    config.String("BROKER_URL", ""),
		KafkaBrokers: kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
		KafkaGroupID: config.String("KAFKA_GROUP_ID", service),
		RedisURL:     config.String("REDIS_URL", ""),
		CORSOrigins:  config.List("CORS_ALLOWED_ORIGINS", nil),
	}

	var err error
	if cfg.Migrate, err = config.Bool("DATABASE_MIGRATE", true); err != nil {
		return Config{}, err
	}
	durable, err := config.Bool("QUEUE_DURABLE", true)
	if err != nil {
		return Config{}, err
	}
	cfg.Queue = broker.DefaultQueueOptions()
	cfg.Queue.Durable = durable

	if cfg.Consumer.RetryDelay, err = config.Duration("CONSUMER_RETRY_DELAY", consumer.DefaultRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.Consumer.CloseTimeout, err = config.Duration("CONSUMER_CLOSE_TIMEOUT", consumer.DefaultCloseTimeout); err != nil {
		return Config{}, err
	}
	cfg.Consumer.Queue = cfg.Queue

	if cfg.MaxAttempts, err = config.Int("MAX_DELIVERY_ATTEMPTS", inbox.DefaultMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.AttemptTTL, err = config.Duration("DELIVERY_ATTEMPT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Relay.Interval, err = config.Duration("OUTBOX_RELAY_INTERVAL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Relay.MinAge, err = config.Duration("OUTBOX_RELAY_MIN_AGE", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Relay.BatchSize, err = config.Int("OUTBOX_RELAY_BATCH", 50); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.BrokerDriver {
	case BrokerRabbitMQ, BrokerNATS, BrokerMemory:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when BROKER_DRIVER=%s", BrokerKafka)
		}
	default:
		return fmt.Errorf("unknown BROKER_DRIVER %q", c.BrokerDriver)
	}
	return nil
}
