package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const devEnv = "dev"

type Config struct {
	// Secrets (from .env)
	BotWalletAddress    string
	BotWalletPrivateKey string
	APIKey              string
	WebhookURL          string
	BotName             string
	CORSAllowOrigin     string

	// Runtime
	AppEnv   string
	APIPort  int
	LogLevel string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Scheduling
	GlobalCheckDelay time.Duration
	OperationTimeout time.Duration

	// Gas policy
	CongestedChainID    int64
	GasPriceCeilingGwei int64
	FlatGasPriceGwei    int64

	// Ingestion
	BackfillOnStart   bool
	LiveEventsEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	delayMS := envInt("GLOBAL_CHECK_DELAY", 15000)
	if delayMS <= 0 {
		return nil, fmt.Errorf("GLOBAL_CHECK_DELAY must be positive, got %d", delayMS)
	}

	cfg := &Config{
		// Secrets
		BotWalletAddress:    envStr("BOT_WALLET_ADDRESS", ""),
		BotWalletPrivateKey: envStr("BOT_WALLET_PRIVATE_KEY", ""),
		APIKey:              envStr("API_KEY", ""),
		WebhookURL:          envStr("WEBHOOK_URL", ""),
		BotName:             envStr("BOT_NAME", "TrahnKeeper"),
		CORSAllowOrigin:     envStr("CORS_ALLOW_ORIGIN", "*"),

		// Runtime
		AppEnv:   envStr("APP_ENV", "prod"),
		APIPort:  envInt("API_PORT", 3001),
		LogLevel: envStr("LOG_LEVEL", "info"),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "trahn_keeper"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		// Scheduling
		GlobalCheckDelay: time.Duration(delayMS) * time.Millisecond,
		OperationTimeout: envDuration("OPERATION_TIMEOUT", 60*time.Second),

		// Gas policy
		CongestedChainID:    int64(envInt("CONGESTED_CHAIN_ID", 137)),
		GasPriceCeilingGwei: int64(envInt("GAS_PRICE_CEILING_GWEI", 100)),
		FlatGasPriceGwei:    int64(envInt("FLAT_GAS_PRICE_GWEI", 5)),

		// Ingestion
		BackfillOnStart:   envBool("BACKFILL_ON_START", true),
		LiveEventsEnabled: envBool("LIVE_EVENTS_ENABLED", true),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.BotWalletPrivateKey == "" {
		errs = append(errs, "BOT_WALLET_PRIVATE_KEY is required")
	}
	if c.BotWalletAddress != "" && !common.IsHexAddress(c.BotWalletAddress) {
		errs = append(errs, "BOT_WALLET_ADDRESS is not a valid address")
	}
	if c.GasPriceCeilingGwei <= 0 || c.FlatGasPriceGwei <= 0 {
		errs = append(errs, "GAS_PRICE_CEILING_GWEI and FLAT_GAS_PRICE_GWEI must be positive")
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, "OPERATION_TIMEOUT must be positive")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set; REST API has no authentication")
	}
	if c.IsDev() {
		fmt.Println("[WARN] APP_ENV=dev: force-run endpoint is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// IsDev reports whether development-only operations are allowed.
func (c *Config) IsDev() bool {
	return c.AppEnv == devEnv
}

func (c *Config) Print() {
	fmt.Println("=== DCA Keeper Configuration ===")
	fmt.Printf("Environment: %s\n", c.AppEnv)
	if len(c.BotWalletAddress) > 16 {
		fmt.Printf("Operator: %s...%s\n", c.BotWalletAddress[:10], c.BotWalletAddress[len(c.BotWalletAddress)-6:])
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("Check delay: %s\n", c.GlobalCheckDelay)
	fmt.Printf("Operation timeout: %s\n", c.OperationTimeout)
	fmt.Printf("Gas: chain %d capped at %d gwei, others flat %d gwei\n",
		c.CongestedChainID, c.GasPriceCeilingGwei, c.FlatGasPriceGwei)
	fmt.Println("--------------------------------------")
	fmt.Printf("Backfill on start: %v\n", c.BackfillOnStart)
	fmt.Printf("Live events: %v\n", c.LiveEventsEnabled)
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// SlogLevel parses LOG_LEVEL, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
