package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/trahn-keeper/internal/api"
	"github.com/kjannette/trahn-keeper/internal/bot"
	"github.com/kjannette/trahn-keeper/internal/config"
	"github.com/kjannette/trahn-keeper/internal/db"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/historian"
	"github.com/kjannette/trahn-keeper/internal/keeper"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/network"
	"github.com/kjannette/trahn-keeper/internal/notifications"
	"github.com/kjannette/trahn-keeper/internal/repository"
	"github.com/kjannette/trahn-keeper/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║        TRAHN DCA Keeper v0.3         ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		pool.Close()
		fmt.Println("[DB] Connection pool closed")
	}()

	now, err := db.ServerTime(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[DB] Connected (server time %s)\n", now.Format(time.RFC3339))

	if err := db.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Migration failed: %v\n", err)
		os.Exit(1)
	}

	// Repos
	botRepo := repository.NewBotRepo(pool)
	networkRepo := repository.NewNetworkRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)

	// Chain access
	networks := network.NewService(networkRepo, network.DialGateway, network.ProbeRPC, log)
	defer networks.Close()

	key, operator, err := ethereum.ParsePrivateKey(cfg.BotWalletPrivateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[KEEPER] %v\n", err)
		os.Exit(1)
	}
	if cfg.BotWalletAddress != "" && common.HexToAddress(cfg.BotWalletAddress) != operator {
		log.Warn("BOT_WALLET_ADDRESS does not match the private key; using the key's address",
			"configured", cfg.BotWalletAddress, "operator", operator.Hex())
	}

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	// Keeper
	gas := keeper.NewGasPolicy(cfg.CongestedChainID, cfg.GasPriceCeilingGwei, cfg.FlatGasPriceGwei)
	evaluator := keeper.NewEvaluator(networks, log)
	executor := keeper.NewExecutor(networks, key, gas, notify, log)

	var botService *bot.Service
	coordinator := scheduler.NewCoordinator(botRepo, evaluator, executor, scheduler.Config{
		Interval:         cfg.GlobalCheckDelay,
		OperationTimeout: cfg.OperationTimeout,
		OnTerminal: func(b models.Bot, cond keeper.Condition) {
			botService.HandleTerminal(b, cond)
		},
	}, log)
	botService = bot.NewService(botRepo, networks, coordinator, executor, notify,
		bot.Options{AllowForceRun: cfg.IsDev()}, log)

	// Historian
	engine := historian.NewEngine(networks, networks, txRepo, botRepo, historian.DefaultConfig, log)
	reports := historian.NewReports(txRepo, botRepo, networks)

	// 1. API server
	srv := api.NewServer(api.Deps{
		Bots:      botService,
		Networks:  networks,
		Reports:   reports,
		DB:        pool,
		Schedules: coordinator,
	}, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin, log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// 2. Restore schedules left by the previous process
	started, err := botService.Reboot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[KEEPER] Reboot failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[KEEPER] %d bot(s) restarted, operator %s\n", started, operator.Hex())

	// 3. Ledger: backfill each network, then follow its live events
	historianDone := make(chan struct{})
	go func() {
		defer close(historianDone)
		if err := engine.Run(ctx, cfg.BackfillOnStart, cfg.LiveEventsEnabled); err != nil {
			log.Error("backfill finished with errors", "error", err)
		}
	}()

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	coordinator.StopAll()
	fmt.Println("[KEEPER] Schedules stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	select {
	case <-historianDone:
	case <-shutdownCtx.Done():
		fmt.Fprintln(os.Stderr, "[HISTORIAN] Did not stop in time")
	}
	fmt.Println("Shutdown complete")
}
