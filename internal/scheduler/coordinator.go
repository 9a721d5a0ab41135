// Package scheduler runs one polling loop per bot and serializes cycles
// through the bot registry lock.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/keeper"
	"github.com/kjannette/trahn-keeper/internal/models"
)

const unlockTimeout = 5 * time.Second

type Locker interface {
	TryLock(ctx context.Context, id uuid.UUID) (bool, error)
	Unlock(ctx context.Context, id uuid.UUID) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, chainID int64, botID uint64) keeper.Condition
}

type Executor interface {
	Execute(ctx context.Context, chainID int64, botID uint64) (common.Hash, error)
}

type Config struct {
	Interval         time.Duration // GLOBAL_CHECK_DELAY
	OperationTimeout time.Duration // bound on one cycle

	// OnTerminal runs after the schedule has been removed and its loop is exiting.
	OnTerminal func(bot models.Bot, cond keeper.Condition)
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Coordinator struct {
	locker Locker
	eval   Evaluator
	exec   Executor
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*handle
}

func NewCoordinator(locker Locker, eval Evaluator, exec Executor, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 60 * time.Second
	}
	return &Coordinator{
		locker:  locker,
		eval:    eval,
		exec:    exec,
		cfg:     cfg,
		log:     log.With("component", "scheduler"),
		handles: make(map[uuid.UUID]*handle),
	}
}

// Start schedules bot. It returns false, and changes nothing, when the bot
// already has a schedule.
func (c *Coordinator) Start(bot models.Bot) bool {
	c.mu.Lock()
	if _, ok := c.handles[bot.ID]; ok {
		c.mu.Unlock()
		c.log.Warn("already scheduled", "bot", bot.ID, "chain_id", bot.ChainID, "bot_id", bot.ContractBotID)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	c.handles[bot.ID] = h
	c.mu.Unlock()

	go c.loop(ctx, bot, h)

	c.log.Info("scheduled", "bot", bot.ID, "chain_id", bot.ChainID, "bot_id", bot.ContractBotID,
		"interval", c.cfg.Interval)
	return true
}

// Stop cancels the bot's schedule and waits for its loop to exit, so no
// cycle starts after Stop returns. False means there was no schedule.
func (c *Coordinator) Stop(id uuid.UUID) bool {
	c.mu.Lock()
	h, ok := c.handles[id]
	delete(c.handles, id)
	c.mu.Unlock()
	if !ok {
		return false
	}

	h.cancel()
	<-h.done
	c.log.Info("unscheduled", "bot", id)
	return true
}

func (c *Coordinator) Running(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handles[id]
	return ok
}

func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// StopAll is for shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Stop(id)
	}
}

func (c *Coordinator) loop(ctx context.Context, bot models.Bot, h *handle) {
	defer close(h.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cond := c.Tick(ctx, bot)
			if !cond.Terminal {
				continue
			}
			if c.release(bot.ID, h) && c.cfg.OnTerminal != nil {
				c.cfg.OnTerminal(bot, cond)
			}
			return
		}
	}
}

// release removes h if it is still the bot's schedule.
func (c *Coordinator) release(id uuid.UUID, h *handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[id] != h {
		return false
	}
	delete(c.handles, id)
	h.cancel()
	return true
}

// Tick runs one guarded cycle: take the lock, evaluate, execute when
// runnable, release the lock. Execution errors are logged, never returned.
func (c *Coordinator) Tick(ctx context.Context, bot models.Bot) keeper.Condition {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	locked, err := c.locker.TryLock(ctx, bot.ID)
	if err != nil {
		c.log.Error("lock failed", "bot", bot.ID, "error", err)
		return keeper.Condition{Reason: keeper.ReasonLocked}
	}
	if !locked {
		c.log.Debug("cycle in flight, skipping", "bot", bot.ID)
		return keeper.Condition{Reason: keeper.ReasonLocked}
	}
	defer c.unlock(bot.ID)

	cond := c.eval.Evaluate(ctx, bot.ChainID, bot.ContractBotID)
	if !cond.Runnable {
		c.log.Debug("not runnable", "bot", bot.ID, "reason", cond.Reason, "terminal", cond.Terminal)
		return cond
	}

	if _, err := c.exec.Execute(ctx, bot.ChainID, bot.ContractBotID); err != nil {
		c.log.Error("run failed", "chain_id", bot.ChainID, "bot_id", bot.ContractBotID, "error", err)
	}
	return cond
}

// unlock uses its own context so a cancelled cycle still clears the lock.
func (c *Coordinator) unlock(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := c.locker.Unlock(ctx, id); err != nil {
		c.log.Error("unlock failed", "bot", id, "error", apperr.Conflict("unlock bot %s: %v", id, err))
	}
}
