package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Voucher    VoucherConfig    `mapstructure:"voucher"`
	Purchase   PurchaseConfig   `mapstructure:"purchase"`
	Vendor     VendorConfig     `mapstructure:"vendor"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Audit      AuditConfig      `mapstructure:"audit"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"` // per-transaction row lock wait
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig verifies actor tokens minted by the identity provider.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type WalletConfig struct {
	MaxConflictRetries int           `mapstructure:"max_conflict_retries"`
	BalanceCacheTTL    time.Duration `mapstructure:"balance_cache_ttl"`
}

type VoucherConfig struct {
	CodeSecret    string `mapstructure:"code_secret"` // keys the code digest
	MaxCASRetries int    `mapstructure:"max_cas_retries"`
}

type PurchaseConfig struct {
	IdempotencyTTL       time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyRetention time.Duration `mapstructure:"idempotency_retention"` // zero keeps logs forever
	PurgeInterval        time.Duration `mapstructure:"purge_interval"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

type VendorConfig struct {
	ChargeTimeout time.Duration `mapstructure:"charge_timeout"`
}

type PayoutConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Secret  string        `mapstructure:"secret"` // signs payout requests
	Timeout time.Duration `mapstructure:"timeout"`
}

type SettlementConfig struct {
	RetryIntervals []time.Duration `mapstructure:"retry_intervals"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl"`
	LockRetries    int             `mapstructure:"lock_retries"`
	LockRetryWait  time.Duration   `mapstructure:"lock_retry_wait"`
	ScheduleEvery  time.Duration   `mapstructure:"schedule_every"`
	StaleAfter     time.Duration   `mapstructure:"stale_after"` // processing longer than this is an interrupted payout
}

type AuditConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	Workers       int           `mapstructure:"workers"`
	SpoolPath     string        `mapstructure:"spool_path"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

// RateLimitConfig caps requests per actor on money-moving routes. A zero limit disables the rule.
type RateLimitConfig struct {
	Purchases   int64         `mapstructure:"purchases"`
	Redemptions int64         `mapstructure:"redemptions"`
	Topups      int64         `mapstructure:"topups"`
	Window      time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first; real environment
// variables win over it. Environment variables override file values.
// Prefix: MWL_ (Marketplace Wallet Ledger). Nested keys use underscore:
// MWL_DATABASE_HOST, MWL_SETTLEMENT_LOCK_TTL, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "marketplace_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "identity-service")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("wallet.max_conflict_retries", 3)
	v.SetDefault("wallet.balance_cache_ttl", "10m")
	v.SetDefault("voucher.code_secret", "")
	v.SetDefault("voucher.max_cas_retries", 5)
	v.SetDefault("purchase.idempotency_ttl", "24h")
	v.SetDefault("purchase.stale_after", "5m")
	v.SetDefault("purchase.sweep_interval", "1m")
	v.SetDefault("purchase.idempotency_retention", "0s")
	v.SetDefault("purchase.purge_interval", "1h")
	v.SetDefault("vendor.charge_timeout", "30s")
	v.SetDefault("payout.base_url", "http://localhost:9090")
	v.SetDefault("payout.secret", "")
	v.SetDefault("payout.timeout", "30s")
	v.SetDefault("settlement.retry_intervals", []string{"5s", "30s", "2m"})
	v.SetDefault("settlement.lock_ttl", "5m")
	v.SetDefault("settlement.lock_retries", 3)
	v.SetDefault("settlement.lock_retry_wait", "200ms")
	v.SetDefault("settlement.schedule_every", "1h")
	v.SetDefault("settlement.stale_after", "15m")
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.spool_path", "audit_spool.db")
	v.SetDefault("audit.drain_interval", "1m")
	v.SetDefault("rate_limit.purchases", 60)
	v.SetDefault("rate_limit.redemptions", 20)
	v.SetDefault("rate_limit.topups", 20)
	v.SetDefault("rate_limit.window", "1m")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// MWL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("MWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Wallet.MaxConflictRetries < 1 {
		return fmt.Errorf("wallet.max_conflict_retries must be at least 1")
	}
	if c.Voucher.MaxCASRetries < 1 {
		return fmt.Errorf("voucher.max_cas_retries must be at least 1")
	}
	if c.Vendor.ChargeTimeout <= 0 {
		return fmt.Errorf("vendor.charge_timeout must be positive")
	}
	// The stale sweep must not compensate a purchase whose vendor call is still in flight.
	if c.Purchase.StaleAfter <= c.Vendor.ChargeTimeout {
		return fmt.Errorf("purchase.stale_after (%s) must exceed vendor.charge_timeout (%s)",
			c.Purchase.StaleAfter, c.Vendor.ChargeTimeout)
	}
	if c.Settlement.StaleAfter < c.Settlement.LockTTL {
		return fmt.Errorf("settlement.stale_after (%s) must be at least settlement.lock_ttl (%s)",
			c.Settlement.StaleAfter, c.Settlement.LockTTL)
	}
	if c.Audit.QueueSize < 1 || c.Audit.Workers < 1 {
		return fmt.Errorf("audit.queue_size and audit.workers must be positive")
	}
	return nil
}
