// Package platform assembles the record store, broker gateway, outbox and
// inbox of a service process from its Config.
package platform

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/membroker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/natsjs"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/rabbitmq"
	"github.com/md-rashed-zaman/eventrelay/libs/consumer"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/httpx"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/kafkax"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/libs/retry"
	"github.com/md-rashed-zaman/eventrelay/libs/runtime"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
	"github.com/md-rashed-zaman/eventrelay/libs/store/memstore"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Platform is the shared infrastructure of one service. Exactly one of DB and
// Memory is set, depending on the store driver.
type Platform struct {
	Config Config
	Logger *slog.Logger

	Pool   *db.Pool
	DB     *db.DB
	Memory *memstore.Store
	Tx     store.Transactor

	Dialer  broker.Dialer
	Sender  *broker.Sender
	Redis   *redis.Client
	Tracker retry.Tracker

	Outbox *outbox.Publisher
	Relay  *outbox.Relay
	Inbox  *inbox.Consumer

	checks []runtime.ReadyCheck
}

// Open connects the configured backends. The SQL files at the root of
// migrations are applied when the store is Postgres and migration is enabled.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, migrations fs.FS) (*Platform, error) {
	p := &Platform{Config: cfg, Logger: logger}

	if err := p.openStore(ctx, migrations); err != nil {
		return nil, err
	}
	if err := p.openBroker(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.openTracker(ctx); err != nil {
		p.Close()
		return nil, err
	}

	var (
		outboxRepo outbox.Repository
		inboxRepo  inbox.Repository
	)
	if p.DB != nil {
		outboxRepo = outbox.NewPostgresRepository(p.DB, cfg.Service)
		inboxRepo = inbox.NewPostgresRepository(p.DB)
	} else {
		outboxRepo = outbox.NewMemoryRepository(p.Memory)
		inboxRepo = inbox.NewMemoryRepository(p.Memory)
	}

	p.Outbox = outbox.NewPublisher(p.Tx, outboxRepo, p.Sender, events.Routes, logger)
	p.Relay = outbox.NewRelay(p.Outbox, cfg.Relay)
	p.Inbox = inbox.NewConsumer(p.Tx, inboxRepo, p.Tracker, p.Sender, logger, inbox.Config{MaxAttempts: cfg.MaxAttempts})
	return p, nil
}

// MigrationsTable names the schema version table of service. Each service
// keeps its own so several may share one database.
func MigrationsTable(service string) string {
	return strings.ReplaceAll(service, "-", "_") + "_schema_migrations"
}

func (p *Platform) openStore(ctx context.Context, migrations fs.FS) error {
	if p.Config.StoreDriver == StoreMemory {
		p.Memory = memstore.New()
		p.Tx = p.Memory
		p.Logger.Warn("using in-memory record store; data is lost on restart")
		return nil
	}

	if p.Config.Migrate && migrations != nil {
		table := MigrationsTable(p.Config.Service)
		if err := db.Migrate(p.Config.DatabaseURL, migrations, ".", table); err != nil {
			return fmt.Errorf("migrate %s: %w", p.Config.Service, err)
		}
		p.Logger.Info("database migrations applied", "table", table)
	}

	pool, err := db.Open(ctx, p.Config.DatabaseURL)
	if err != nil {
		return err
	}
	p.Pool = pool
	p.DB = db.New(pool)
	p.Tx = p.DB
	p.checks = append(p.checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	return nil
}

// NewDialer returns the broker gateway selected by cfg.BrokerDriver.
func NewDialer(cfg Config) (broker.Dialer, error) {
	switch cfg.BrokerDriver {
	case BrokerRabbitMQ:
		return rabbitmq.Dialer{URL: cfg.BrokerURL}, nil
	case BrokerNATS:
		return natsjs.Dialer{URL: cfg.BrokerURL, Name: cfg.Service}, nil
	case BrokerKafka:
		return kafkax.Dialer{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID}, nil
	case BrokerMemory:
		return membroker.New(), nil
	}
	return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
}

func (p *Platform) openBroker() error {
	dialer, err := NewDialer(p.Config)
	if err != nil {
		return err
	}
	p.Dialer = dialer
	p.Sender = broker.NewSender(dialer, p.Config.Queue, p.Logger)

	switch p.Config.BrokerDriver {
	case BrokerKafka:
		p.checks = append(p.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(p.Config.KafkaBrokers)})
	case BrokerMemory:
		p.Logger.Warn("using in-process broker; events do not leave this process")
		fallthrough
	default:
		p.checks = append(p.checks, runtime.ReadyCheck{Name: "broker", Check: p.Sender.Ready})
	}
	return nil
}

func (p *Platform) openTracker(ctx context.Context) error {
	if p.Config.RedisURL == "" {
		p.Tracker = retry.NewMemory(p.Config.AttemptTTL)
		return nil
	}
	opts, err := redis.ParseURL(p.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	p.Redis = redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Redis.Ping(pingCtx).Err(); err != nil {
		// attempts are still counted in memory; the limit becomes per instance
		p.Logger.Warn("redis unavailable, tracking delivery attempts in memory", "err", err)
		_ = p.Redis.Close()
		p.Redis = nil
		p.Tracker = retry.NewMemory(p.Config.AttemptTTL)
		return nil
	}
	p.Tracker = retry.NewRedis(p.Redis, p.Config.AttemptTTL, p.Config.Service+":attempts")
	p.checks = append(p.checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return p.Redis.Ping(ctx).Err()
	}})
	return nil
}

// Supervisor returns the connection supervisor for subs.
func (p *Platform) Supervisor(subs ...consumer.Subscription) *consumer.Supervisor {
	return consumer.New(p.Dialer, p.Logger, p.Config.Consumer, subs...)
}

func (p *Platform) ReadyChecks() []runtime.ReadyCheck {
	return p.checks
}

// Handler mounts api under /api/ next to the health endpoints and wraps the
// result in the shared middleware chain.
func (p *Platform) Handler(api http.Handler) http.Handler {
	mux := runtime.NewBaseMuxWithReady(p.checks...)
	mux.Handle("/api/", api)

	var limiter httpx.Limiter = httpx.NewRateLimiter(p.Config.RateLimitPerMinute, time.Minute)
	if p.Redis != nil {
		limiter = httpx.NewRedisRateLimiter(p.Redis, p.Config.RateLimitPerMinute, time.Minute, p.Config.Service+":rl")
	}

	h := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(p.Logger),
		httpx.WithRecover(p.Logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(p.Config.CORSOrigins)),
		httpx.WithRateLimit(limiter, p.Logger, true),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	return otelhttp.NewHandler(h, p.Config.Service)
}

func (p *Platform) Close() {
	if p.Sender != nil {
		if err := p.Sender.Close(); err != nil {
			p.Logger.Warn("closing publisher connection failed", "err", err)
		}
	}
	if p.Redis != nil {
		_ = p.Redis.Close()
	}
	p.Pool.Close()
}
