package main

import (
	"context"
	"fmt"
	"net/http"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/adapter/gateway"
	httpHandler "marketplace-ledger/internal/adapter/http/handler"
	"marketplace-ledger/internal/adapter/storage/memory"
	pgStorage "marketplace-ledger/internal/adapter/storage/postgres"
	redisStorage "marketplace-ledger/internal/adapter/storage/redis"
	"marketplace-ledger/internal/adapter/storage/sqlite"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/internal/worker"
	"marketplace-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// backend bundles the persistence and coordination adapters of one storage driver.
type backend struct {
	users        ports.UserRepository
	vendors      ports.VendorRepository
	ledger       ports.LedgerRepository
	transactions ports.TransactionRepository
	vouchers     ports.VoucherRepository
	settlements  ports.SettlementRepository
	idempotency  ports.IdempotencyRepository
	audit        ports.AuditRepository
	transactor   ports.DBTransactor

	idempotencyCache ports.IdempotencyCache
	balanceCache     ports.BalanceCache
	locker           ports.Locker
	rateLimiter      ports.RateLimiter

	checkers []ports.HealthChecker
	close    func()
}

// app is the wired engine: HTTP surface, periodic jobs and the audit queue.
type app struct {
	router    *gin.Engine
	scheduler *worker.Scheduler
	audit     *service.AuditServiceImpl
	tokens    *service.JWTTokenService
}

func newApp(cfg *config.Config, be *backend, spool *sqlite.AuditSpool, log zerolog.Logger) *app {
	// External gateways
	vendorGW := gateway.NewVendorClient(&http.Client{Timeout: cfg.Vendor.ChargeTimeout}, logger.Component(log, "vendor_client"))
	payoutGW := gateway.NewPayoutClient(&http.Client{Timeout: cfg.Payout.Timeout}, cfg.Payout.BaseURL, cfg.Payout.Secret, logger.Component(log, "payout_client"))
	notifier := gateway.NewLogNotifier(logger.Component(log, "notifier"))
	verifier := gateway.NewUserVerifier(be.users)

	// Core services
	auditSvc := service.NewAuditService(be.audit, spool, cfg.Audit.QueueSize, cfg.Audit.Workers, logger.Component(log, "audit"))
	ledgerSvc := service.NewLedgerService(be.ledger, be.users, be.balanceCache, be.transactor, cfg.Wallet.BalanceCacheTTL, logger.Component(log, "ledger"))
	walletSvc := service.NewWalletService(be.users, be.ledger, ledgerSvc, be.transactor, auditSvc, cfg.Wallet.MaxConflictRetries, logger.Component(log, "wallet"))
	voucherSvc := service.NewVoucherService(
		be.vouchers, walletSvc, be.transactor, service.NewCodeHasher(cfg.Voucher.CodeSecret),
		auditSvc, notifier, cfg.Voucher.MaxCASRetries, logger.Component(log, "voucher"),
	)
	purchaseSvc := service.NewPurchaseService(
		be.vendors, be.transactions, be.idempotency, be.idempotencyCache,
		walletSvc, voucherSvc, be.transactor, verifier,
		vendorGW, notifier, auditSvc,
		service.PurchaseConfig{ChargeTimeout: cfg.Vendor.ChargeTimeout, IdempotencyTTL: cfg.Purchase.IdempotencyTTL},
		logger.Component(log, "purchase"),
	)
	settlementSvc := service.NewSettlementService(
		be.vendors, be.transactions, be.settlements, be.transactor, be.locker, payoutGW, notifier, auditSvc,
		service.SettlementConfig{
			RetryIntervals: cfg.Settlement.RetryIntervals,
			LockTTL:        cfg.Settlement.LockTTL,
			LockRetries:    cfg.Settlement.LockRetries,
			LockRetryWait:  cfg.Settlement.LockRetryWait,
		},
		logger.Component(log, "settlement"),
	)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Periodic jobs
	scheduler := worker.NewScheduler(logger.Component(log, "scheduler"))
	worker.RegisterJobs(scheduler, settlementSvc, purchaseSvc, auditSvc, worker.Intervals{
		Settlement: cfg.Settlement.ScheduleEvery,
		StaleSweep: cfg.Purchase.SweepInterval,
		StaleAfter: cfg.Purchase.StaleAfter,
		AuditDrain: cfg.Audit.DrainInterval,

		SettlementStaleAfter: cfg.Settlement.StaleAfter,

		IdempotencyPurge:     cfg.Purchase.PurgeInterval,
		IdempotencyRetention: cfg.Purchase.IdempotencyRetention,
	}, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Wallets:     walletSvc,
		Vouchers:    voucherSvc,
		Purchases:   purchaseSvc,
		Settlements: settlementSvc,
		TokenSvc:    tokenSvc,
		RateLimiter: be.rateLimiter,
		RateLimits: httpHandler.RateLimits{
			Purchases:   cfg.RateLimit.Purchases,
			Redemptions: cfg.RateLimit.Redemptions,
			Topups:      cfg.RateLimit.Topups,
			Window:      cfg.RateLimit.Window,
		},
		HealthCheckers: append(be.checkers, spool),
		Logger:         log,
	})

	return &app{
		router:    router,
		scheduler: scheduler,
		audit:     auditSvc,
		tokens:    tokenSvc,
	}
}

func memoryBackend() *backend {
	store := memory.NewStore()
	return &backend{
		users:            memory.NewUserRepo(store),
		vendors:          memory.NewVendorRepo(store),
		ledger:           memory.NewLedgerRepo(store),
		transactions:     memory.NewTransactionRepo(store),
		vouchers:         memory.NewVoucherRepo(store),
		settlements:      memory.NewSettlementRepo(store),
		idempotency:      memory.NewIdempotencyRepo(store),
		audit:            memory.NewAuditRepo(store),
		transactor:       store,
		idempotencyCache: memory.NewIdempotencyCache(),
		balanceCache:     memory.NewBalanceCache(),
		locker:           memory.NewLocker(),
		rateLimiter:      memory.NewRateLimiter(),
		close:            func() {},
	}
}

func postgresBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pgStorage.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("Redis connected")

	return &backend{
		users:            pgStorage.NewUserRepo(pool),
		vendors:          pgStorage.NewVendorRepo(pool),
		ledger:           pgStorage.NewLedgerRepo(pool),
		transactions:     pgStorage.NewTransactionRepo(pool),
		vouchers:         pgStorage.NewVoucherRepo(pool),
		settlements:      pgStorage.NewSettlementRepo(pool),
		idempotency:      pgStorage.NewIdempotencyRepo(pool),
		audit:            pgStorage.NewAuditRepo(pool),
		transactor:       pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
		idempotencyCache: redisStorage.NewIdempotencyCache(rdb),
		balanceCache:     redisStorage.NewBalanceCache(rdb),
		locker:           redisStorage.NewLocker(rdb),
		rateLimiter:      redisStorage.NewRateLimiter(rdb),
		checkers:         []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		close: func() {
			_ = rdb.Close()
			pool.Close()
		},
	}, nil
}
