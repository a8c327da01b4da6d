package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// StorageDriver определяет бэкенд хранения.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Имена consumer group по ролям сервиса.
const (
	GroupCoordinator = "checkout-coordinator"
	GroupStock       = "checkout-stock"
	GroupBalance     = "checkout-balance"
	GroupCart        = "checkout-cart"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	KafkaBrokers []string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает Redis-журнал идемпотентности вместо журнала
	// в основном хранилище.
	RedisAddr      string
	RedisLedgerTTL time.Duration

	DefaultCurrency string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// PendingDeadline — максимальный возраст PENDING-заказа; 0 отключает
	// воркер дедлайнов.
	PendingDeadline  time.Duration
	ExpiryInterval   time.Duration
	OutcomeRetention time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		RedisLedgerTTL:      7 * 24 * time.Hour,
		DefaultCurrency:     "RUB",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		ExpiryInterval:      30 * time.Second,
		OutcomeRetention:    24 * time.Hour,
	}
}

// LoadConfig читает конфигурацию из окружения. Файл .env подхватывается,
// если присутствует; явные переменные окружения имеют приоритет.
func LoadConfig(logger *log.Entry) (Config, error) {
	if logger == nil {
		logger = log.WithField("component", "config")
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("failed to load .env file")
	}

	cfg := DefaultConfig()

	if v := os.Getenv("CHECKOUT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CHECKOUT_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitBrokers(v)
	}
	if v := os.Getenv("CHECKOUT_STORAGE_DRIVER"); v != "" {
		switch StorageDriver(v) {
		case StorageDriverMemory, StorageDriverPostgres:
			cfg.StorageDriver = StorageDriver(v)
		default:
			return Config{}, fmt.Errorf("unsupported storage driver: %s", v)
		}
	}
	if v := os.Getenv("CHECKOUT_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
		cfg.StorageDriver = StorageDriverPostgres
	}
	if v := os.Getenv("CHECKOUT_POSTGRES_AUTO_MIGRATE"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHECKOUT_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		cfg.PostgresAutoMigrate = parsed
	}
	if v := os.Getenv("CHECKOUT_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CHECKOUT_DEFAULT_CURRENCY"); v != "" {
		cfg.DefaultCurrency = v
	}

	var err error
	if cfg.RedisLedgerTTL, err = envDuration("CHECKOUT_REDIS_LEDGER_TTL", cfg.RedisLedgerTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = envDuration("CHECKOUT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetryDelay, err = envDuration("CHECKOUT_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.PendingDeadline, err = envDuration("CHECKOUT_PENDING_DEADLINE", cfg.PendingDeadline); err != nil {
		return Config{}, err
	}
	if cfg.ExpiryInterval, err = envDuration("CHECKOUT_EXPIRY_INTERVAL", cfg.ExpiryInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutcomeRetention, err = envDuration("CHECKOUT_OUTCOME_RETENTION", cfg.OutcomeRetention); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("CHECKOUT_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("CHECKOUT_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka brokers are required (CHECKOUT_KAFKA_BROKERS)")
	}
	if c.StorageDriver == StorageDriverPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres dsn is required for postgres storage driver")
	}
	if c.DefaultCurrency == "" {
		return fmt.Errorf("default currency must not be empty")
	}
	return nil
}

func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}
