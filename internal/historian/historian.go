// Package historian rebuilds and follows the ledger of bot executions and
// answers the period reports built on it.
package historian

import (
	"context"
	"log/slog"
	"time"

	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/retry"
)

type GatewayProvider interface {
	Gateway(ctx context.Context, chainID int64) (ethereum.Chain, error)
}

type NetworkLister interface {
	List(ctx context.Context) ([]models.Network, error)
}

// Ledger is the append-only transaction store.
type Ledger interface {
	Exists(ctx context.Context, txHash string) (bool, error)
	Insert(ctx context.Context, t *models.Transaction) (bool, error)
	MaxBlockNumber(ctx context.Context, chainID int64) (uint64, bool, error)
	FindByPeriod(ctx context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error)
	Periods(ctx context.Context, chainID int64, botID uint64, limit int) ([]int, error)
	MinPeriod(ctx context.Context, chainID int64, botID uint64) (int, bool, error)
}

// Registry is the part of the bot registry that owns period counters.
type Registry interface {
	GetByChainAndBotID(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error)
	Create(ctx context.Context, b *models.Bot) (*models.Bot, error)
	CurrentPeriod(ctx context.Context, chainID int64, botID uint64) (int, error)
	IncrementPeriod(ctx context.Context, chainID int64, botID uint64) (int, error)
	SetPeriod(ctx context.Context, chainID int64, botID uint64, period int) error
}

type Config struct {
	FetchRetry       retry.Config  // historical event queries
	Resubscribe      retry.Backoff // live stream reconnects
	EventTimeout     time.Duration // bound on handling one live log
	BackfillParallel int           // networks backfilled at once
}

var DefaultConfig = Config{
	FetchRetry:       retry.Config{MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
	Resubscribe:      retry.Backoff{Base: time.Second, Max: time.Minute},
	EventTimeout:     60 * time.Second,
	BackfillParallel: 4,
}

type Engine struct {
	gateways GatewayProvider
	networks NetworkLister
	ledger   Ledger
	registry Registry
	cfg      Config
	log      *slog.Logger
}

func NewEngine(gateways GatewayProvider, networks NetworkLister, ledger Ledger, registry Registry, cfg Config, log *slog.Logger) *Engine {
	log = log.With("component", "historian")
	if cfg.FetchRetry.Logger == nil {
		cfg.FetchRetry.Logger = log
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultConfig.EventTimeout
	}
	if cfg.BackfillParallel <= 0 {
		cfg.BackfillParallel = DefaultConfig.BackfillParallel
	}
	return &Engine{
		gateways: gateways,
		networks: networks,
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}
