package handler

import (
	"time"

	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimits caps money-moving requests per actor. A zero limit disables the rule.
type RateLimits struct {
	Purchases   int64
	Redemptions int64
	Topups      int64
	Window      time.Duration
}

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Wallets        ports.WalletService
	Vouchers       ports.VoucherService
	Purchases      ports.PurchaseService
	Settlements    ports.SettlementService
	TokenSvc       ports.TokenService
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	RateLimits     RateLimits
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rl := func(group string, limit int64) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule := middleware.RateLimitRule{Limit: limit, Window: deps.RateLimits.Window}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}
	operators := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleService)
	admins := middleware.RequireRole(middleware.RoleAdmin)

	v1 := r.Group("/api/v1", middleware.ActorAuth(deps.TokenSvc, deps.Logger))

	purchaseHandler := NewPurchaseHandler(deps.Purchases)
	v1.POST("/purchases", rl("purchases", deps.RateLimits.Purchases), purchaseHandler.Purchase)
	transactions := v1.Group("/transactions")
	{
		transactions.GET("/:id", purchaseHandler.GetTransaction)
		transactions.POST("/:id/reverse", operators, purchaseHandler.Reverse)
	}

	walletHandler := NewWalletHandler(deps.Wallets, deps.Purchases)
	wallets := v1.Group("/wallets/:user_id")
	{
		wallets.POST("/topup", operators, rl("topups", deps.RateLimits.Topups), walletHandler.Topup)
		wallets.GET("/balance", walletHandler.Balance)
		wallets.GET("/ledger", walletHandler.Ledger)
		wallets.POST("/reconcile", admins, walletHandler.Reconcile)
	}

	voucherHandler := NewVoucherHandler(deps.Vouchers)
	vouchers := v1.Group("/vouchers")
	{
		vouchers.POST("", admins, voucherHandler.Issue)
		vouchers.POST("/redeem", rl("redemptions", deps.RateLimits.Redemptions), voucherHandler.Redeem)
		vouchers.POST("/revoke", admins, voucherHandler.Revoke)
	}

	settlementHandler := NewSettlementHandler(deps.Settlements)
	settlements := v1.Group("/settlements")
	{
		settlements.POST("/run", operators, settlementHandler.Run)
		settlements.GET("/:id", settlementHandler.Get)
		settlements.POST("/:id/retry", operators, settlementHandler.Retry)
	}

	return r
}
