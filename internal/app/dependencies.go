package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

// Dependencies содержит подключённые хранилища приложения.
type Dependencies struct {
	Orders    domain.OrderRepository
	Outcomes  domain.OutcomeRepository
	Outbox    domain.OutboxRepository
	Ledger    domain.ReservationLedger
	Stocks    domain.StockRepository
	Balances  domain.BalanceRepository
	Carts     domain.CartRepository
	Customers domain.AddressReader
	Logger    *log.Entry

	pg          *postgres.Store
	redisClient *goredis.Client
	redisLedger *redisstore.Ledger
}

// NewDependencies подключает хранилища согласно конфигурации.
// Драйвер memory предназначен для локальной разработки и демо и
// засеивается тестовыми данными.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		deps.pg = store

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		deps.Orders = postgres.NewOrderRepository(store)
		deps.Outcomes = postgres.NewOutcomeRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Ledger = postgres.NewLedgerRepository(store)
		deps.Stocks = postgres.NewStockRepository(store)
		deps.Balances = postgres.NewBalanceRepository(store)
		deps.Carts = postgres.NewCartRepository(store)
		deps.Customers = postgres.NewCustomerRepository(store)
		logger.Info("using postgres storage")

	case StorageDriverMemory:
		deps.Orders = memory.NewOrderRepository()
		deps.Outcomes = memory.NewOutcomeRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Ledger = memory.NewLedger()
		seedDemoData(deps, logger)
		logger.Info("using in-memory storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		ledger := redisstore.NewLedger(client, cfg.RedisLedgerTTL)
		if err := ledger.Ping(ctx); err != nil {
			deps.Close()
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.redisClient = client
		deps.redisLedger = ledger
		deps.Ledger = ledger
		logger.WithField("addr", cfg.RedisAddr).Info("using redis reservation ledger")
	}

	return deps, nil
}

// outboxBacklogThreshold — число неотправленных событий, после которого
// readiness деградирует: сага работает, но публикация отстаёт.
const outboxBacklogThreshold = 500

// RegisterHealthCheckers добавляет проверки подключённых хранилищ
// и backlog transactional outbox.
func (d *Dependencies) RegisterHealthCheckers(handler *healthcheck.Handler) {
	if d.pg != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return d.pg.Ping(context.Background())
		}))
	}
	if d.redisLedger != nil {
		handler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			return d.redisLedger.Ping(context.Background())
		}))
	}
	handler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", outboxBacklogThreshold, func() (int, error) {
		stats, err := d.Outbox.Stats()
		if err != nil {
			return 0, err
		}
		return stats.PendingCount, nil
	}))
}

// Close освобождает подключения к внешним хранилищам.
func (d *Dependencies) Close() {
	if d.pg != nil {
		if err := d.pg.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres connection")
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis connection")
		}
	}
}

// seedDemoData наполняет in-memory хранилища демонстрационными данными,
// чтобы чекаут можно было прогнать без внешних сервисов.
func seedDemoData(deps *Dependencies, logger *log.Entry) {
	deps.Stocks = memory.NewStockRepository(map[string]int32{
		"demo-keyboard": 25,
		"demo-mouse":    40,
		"demo-monitor":  10,
	})
	deps.Balances = memory.NewBalanceRepository(map[string]int64{
		"demo-customer": 1_000_000,
	})
	deps.Customers = memory.NewCustomerRepository(map[string]string{
		"demo-customer": "Москва, ул. Пушкина, д. 1",
	})

	carts := memory.NewCartRepository()
	carts.Put("demo-customer", domain.CartItem{ProductID: "demo-keyboard", Qty: 1, PriceMinor: 450_000})
	carts.Put("demo-customer", domain.CartItem{ProductID: "demo-mouse", Qty: 2, PriceMinor: 120_000})
	deps.Carts = carts

	logger.Info("in-memory storage seeded with demo data")
}
