// Package bot owns the bot registry operations: creating and removing
// bots, starting and stopping their schedules, and restoring them at boot.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/keeper"
	"github.com/kjannette/trahn-keeper/internal/models"
)

const terminalUpdateTimeout = 10 * time.Second

type Store interface {
	Create(ctx context.Context, b *models.Bot) (*models.Bot, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Bot, error)
	GetByChainAndBotID(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error)
	List(ctx context.Context) ([]models.Bot, error)
	ListRestartable(ctx context.Context) ([]models.Bot, error)
	Update(ctx context.Context, id uuid.UUID, u models.BotUpdate) (*models.Bot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UnlockAll(ctx context.Context) (int64, error)
	IncrementPeriod(ctx context.Context, chainID int64, botID uint64) (int, error)
	SetPeriod(ctx context.Context, chainID int64, botID uint64, period int) error
	CurrentPeriod(ctx context.Context, chainID int64, botID uint64) (int, error)
}

type Networks interface {
	Get(ctx context.Context, chainID int64) (*models.Network, error)
	Gateway(ctx context.Context, chainID int64) (ethereum.Chain, error)
}

type Scheduler interface {
	Start(bot models.Bot) bool
	Stop(id uuid.UUID) bool
	Running(id uuid.UUID) bool
}

type Executor interface {
	Execute(ctx context.Context, chainID int64, botID uint64) (common.Hash, error)
}

type Notifier interface {
	BotStopped(chainID int64, botID uint64, reason string)
}

type Options struct {
	// AllowForceRun enables ForceAttemptRun (APP_ENV=dev).
	AllowForceRun bool
}

type Service struct {
	store     Store
	networks  Networks
	scheduler Scheduler
	exec      Executor
	notifier  Notifier
	opts      Options
	log       *slog.Logger

	// serializes Start/Stop so the registry flags follow the schedule
	mu sync.Mutex
}

func NewService(store Store, networks Networks, scheduler Scheduler, exec Executor, notifier Notifier, opts Options, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		networks:  networks,
		scheduler: scheduler,
		exec:      exec,
		notifier:  notifier,
		opts:      opts,
		log:       log.With("component", "bot"),
	}
}

// Create registers a bot on an existing network.
func (s *Service) Create(ctx context.Context, b models.Bot) (*models.Bot, error) {
	if _, err := s.networks.Get(ctx, b.ChainID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetByChainAndBotID(ctx, b.ChainID, b.ContractBotID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.PreconditionFailed("bot #%d already created on chain %d", b.ContractBotID, b.ChainID)
	}
	if b.CurrentPeriod < 0 {
		return nil, apperr.PreconditionFailed("current period must not be negative")
	}
	b.IsLocked = false
	return s.store.Create(ctx, &b)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, u models.BotUpdate) (*models.Bot, error) {
	if u.CurrentPeriod != nil && *u.CurrentPeriod < 0 {
		return nil, apperr.PreconditionFailed("current period must not be negative")
	}
	return s.store.Update(ctx, id, u)
}

// Remove deletes a stopped bot. A running bot is a Conflict.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.IsRunning || s.scheduler.Running(id) {
		return apperr.Conflict("bot %s is running; stop it before removal", id)
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Bot, error) {
	return s.store.List(ctx)
}

// Start schedules bot botID on chainID, registering it first when unknown.
// Ids outside 1..nextBotId-1 are rejected.
func (s *Service) Start(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error) {
	gw, err := s.networks.Gateway(ctx, chainID)
	if err != nil {
		return nil, err
	}
	next, err := gw.NextBotID(ctx)
	if err != nil {
		return nil, err
	}
	if botID == 0 || botID >= next {
		return nil, apperr.PreconditionFailed("invalid bot #%d", botID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.GetByChainAndBotID(ctx, chainID, botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b, err = s.store.Create(ctx, &models.Bot{
			ChainID:       chainID,
			ContractBotID: botID,
			IsRunning:     true,
			EnableRestart: true,
		})
		if err != nil {
			return nil, err
		}
	}

	if !s.scheduler.Start(*b) {
		return nil, apperr.Conflict("bot #%d on chain %d is already running", botID, chainID)
	}

	b, err = s.store.Update(ctx, b.ID, models.BotUpdate{IsRunning: ptr(true), EnableRestart: ptr(true)})
	if err != nil {
		return nil, err
	}
	s.log.Info("bot started", "chain_id", chainID, "bot_id", botID, "bot", b.ID)
	return b, nil
}

// Stop ends the bot's schedule and disables restart. Stopping a bot with
// no schedule is a Conflict.
func (s *Service) Stop(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error) {
	b, err := s.find(ctx, chainID, botID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scheduler.Stop(b.ID) {
		return nil, apperr.Conflict("could not stop bot #%d on chain %d: not running", botID, chainID)
	}
	b, err = s.store.Update(ctx, b.ID, models.BotUpdate{IsRunning: ptr(false), EnableRestart: ptr(false)})
	if err != nil {
		return nil, err
	}
	s.log.Info("bot stopped", "chain_id", chainID, "bot_id", botID, "bot", b.ID)
	return b, nil
}

func (s *Service) IsRunning(ctx context.Context, chainID int64, botID uint64) (bool, error) {
	b, err := s.find(ctx, chainID, botID)
	if err != nil {
		return false, err
	}
	return b.IsRunning, nil
}

func (s *Service) UUIDFor(ctx context.Context, chainID int64, botID uint64) (uuid.UUID, error) {
	b, err := s.find(ctx, chainID, botID)
	if err != nil {
		return uuid.Nil, err
	}
	return b.ID, nil
}

// ForceAttemptRun submits run(botID) without evaluating conditions or
// taking the lock. Development environments only.
func (s *Service) ForceAttemptRun(ctx context.Context, chainID int64, botID uint64) (common.Hash, error) {
	if !s.opts.AllowForceRun {
		return common.Hash{}, apperr.Conflict("force run is only available in the dev environment")
	}
	s.log.Warn("forcing run", "chain_id", chainID, "bot_id", botID)
	return s.exec.Execute(ctx, chainID, botID)
}

// Reboot clears every lock left by a previous process and restarts the
// bots with restart enabled. It returns how many were started.
func (s *Service) Reboot(ctx context.Context) (int, error) {
	cleared, err := s.store.UnlockAll(ctx)
	if err != nil {
		return 0, err
	}
	bots, err := s.store.ListRestartable(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("rebooting bots", "locks_cleared", cleared, "restartable", len(bots))

	started := 0
	for _, b := range bots {
		if _, err := s.Start(ctx, b.ChainID, b.ContractBotID); err != nil {
			s.log.Error("restart failed", "chain_id", b.ChainID, "bot_id", b.ContractBotID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// HandleTerminal is the scheduler's terminal callback. The schedule is
// already gone; the registry is brought in line and the operator told.
func (s *Service) HandleTerminal(b models.Bot, cond keeper.Condition) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalUpdateTimeout)
	defer cancel()

	if _, err := s.store.Update(ctx, b.ID, models.BotUpdate{IsRunning: ptr(false), EnableRestart: ptr(false)}); err != nil {
		s.log.Error("mark stopped failed", "chain_id", b.ChainID, "bot_id", b.ContractBotID, "error", err)
	}
	s.log.Info("bot stopped on terminal condition", "chain_id", b.ChainID, "bot_id", b.ContractBotID, "reason", cond.Reason)
	if s.notifier != nil {
		s.notifier.BotStopped(b.ChainID, b.ContractBotID, string(cond.Reason))
	}
}

func (s *Service) IncrementPeriod(ctx context.Context, chainID int64, botID uint64) (int, error) {
	return s.store.IncrementPeriod(ctx, chainID, botID)
}

// CurrentPeriod is 0 for an unknown bot.
func (s *Service) CurrentPeriod(ctx context.Context, chainID int64, botID uint64) (int, error) {
	return s.store.CurrentPeriod(ctx, chainID, botID)
}

func (s *Service) SetPeriod(ctx context.Context, chainID int64, botID uint64, period int) error {
	if period < 0 {
		return apperr.PreconditionFailed("current period must not be negative")
	}
	return s.store.SetPeriod(ctx, chainID, botID, period)
}

func (s *Service) find(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error) {
	b, err := s.store.GetByChainAndBotID(ctx, chainID, botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("unknown bot #%d on chain %d", botID, chainID)
	}
	return b, nil
}

func ptr[T any](v T) *T { return &v }
