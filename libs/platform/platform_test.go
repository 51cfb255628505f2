package platform

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/retry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BROKER_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
}

func TestConfigFromEnvDefaults(t *testing.T) {
	memoryEnv(t)
	cfg, err := ConfigFromEnv("user-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Consumer.RetryDelay != 5*time.Second || cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Queue.Durable || !cfg.Consumer.Queue.Durable {
		t.Fatalf("queues must be durable by default")
	}
	if cfg.KafkaGroupID != "user-service" {
		t.Fatalf("expected group id to default to the service name, got %q", cfg.KafkaGroupID)
	}
}

func TestConfigFromEnvValidation(t *testing.T) {
	memoryEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := ConfigFromEnv("user-service"); err == nil {
		t.Fatalf("expected DATABASE_URL to be required")
	}

	memoryEnv(t)
	t.Setenv("BROKER_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "")
	if _, err := ConfigFromEnv("user-service"); err == nil {
		t.Fatalf("expected KAFKA_BROKERS to be required")
	}

	memoryEnv(t)
	t.Setenv("BROKER_DRIVER", "carrier-pigeon")
	if _, err := ConfigFromEnv("user-service"); err == nil {
		t.Fatalf("expected unknown broker driver error")
	}
}

func TestOpenInMemory(t *testing.T) {
	memoryEnv(t)
	cfg, err := ConfigFromEnv("order-service")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	p, err := Open(context.Background(), cfg, quiet, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	if p.Memory == nil || p.DB != nil {
		t.Fatalf("expected the memory store to be selected")
	}
	if _, ok := p.Tracker.(*retry.Memory); !ok {
		t.Fatalf("expected in-memory attempt tracker, got %T", p.Tracker)
	}
	if p.Outbox == nil || p.Relay == nil || p.Inbox == nil {
		t.Fatalf("outbox and inbox must be wired")
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := p.Handler(api)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"broker":"ok"`) {
		t.Fatalf("unexpected readyz %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("unexpected api response %d %v", rec.Code, rec.Header())
	}
}

func TestNewDialerAndMigrationsTable(t *testing.T) {
	for _, driver := range []string{BrokerRabbitMQ, BrokerNATS, BrokerKafka, BrokerMemory} {
		if _, err := NewDialer(Config{Service: "svc", BrokerDriver: driver, KafkaBrokers: []string{"localhost:9092"}}); err != nil {
			t.Fatalf("driver %s: %v", driver, err)
		}
	}
	if _, err := NewDialer(Config{BrokerDriver: "smtp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if got := MigrationsTable("payment-service"); got != "payment_service_schema_migrations" {
		t.Fatalf("unexpected table %q", got)
	}
}
