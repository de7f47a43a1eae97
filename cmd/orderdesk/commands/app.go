package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/external/alpaca"
	"github.com/wonny/orderdesk/backend/internal/market"
	"github.com/wonny/orderdesk/backend/internal/orders"
	"github.com/wonny/orderdesk/backend/pkg/config"
	"github.com/wonny/orderdesk/backend/pkg/database"
	"github.com/wonny/orderdesk/backend/pkg/httputil"
	"github.com/wonny/orderdesk/backend/pkg/logger"
	"github.com/wonny/orderdesk/backend/pkg/metrics"
	"github.com/wonny/orderdesk/backend/pkg/redis"
)

// app holds the wired server-side components shared by api, scheduler and stream
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	redis   *redis.Client
	monitor *metrics.Monitor

	broker      orders.Broker
	clock       *market.ClockService
	service     *orders.Service
	coordinator *orders.Coordinator
}

// newApp loads config and wires every component
func newApp(ctx context.Context) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("Connected to database")

	repo := orders.NewPGRepository(db.Pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 4. Connect to Redis (no-op when disabled)
	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	cache := redis.NewCache(rdb, "orderdesk")

	// 5. Metrics
	monitor := metrics.New("orderdesk")

	// 6. Brokerage
	var broker orders.Broker
	var source market.Source
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.SecretKey == "" {
		log.Warn("ALPACA_API_KEY not set, using in-memory mock broker")
		mock := orders.NewMockBroker()
		broker, source = mock, mock
	} else {
		httpClient := httputil.New(log)
		client := alpaca.NewClient(cfg.Alpaca, httpClient, log).WithRecorder(monitor)
		broker, source = client, client
	}

	// 7. Market clock
	clock := market.NewClockService(source, log).WithCache(cache, redis.TTLMedium)

	// 8. Order service (force-sell decisions read the live brokerage clock)
	// ⭐ 사용자 액션과 일괄 동기화는 같은 ActionSet을 공유
	actions := orders.NewActionSet()
	service := orders.NewService(repo, broker, source, log).
		WithActions(actions).
		WithCache(cache).
		WithExitPolicy(exitPolicy(cfg.Sync)).
		WithRecorder(monitor)

	// 9. Action coordinator
	coordinator := orders.NewCoordinator(service, log).
		WithActions(actions).
		WithRefresher(service.Invalidate).
		WithObserver(monitor)

	return &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		redis:       rdb,
		monitor:     monitor,
		broker:      broker,
		clock:       clock,
		service:     service,
		coordinator: coordinator,
	}, nil
}

func exitPolicy(cfg config.SyncConfig) orders.ExitPolicy {
	return orders.ExitPolicy{
		ForceSellLead:   cfg.ForceSellLead,
		TargetProfitPct: decimal.NewFromFloat(cfg.TargetProfitPct),
		StopLossPct:     decimal.NewFromFloat(cfg.StopLossPct),
	}
}

// Close releases connections
func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close redis")
	}
	a.db.Close()
}
