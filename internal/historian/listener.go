package historian

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"golang.org/x/sync/semaphore"
)

var errSubscriptionClosed = errors.New("subscription closed")

// Run backfills each network and then follows its live events, so a chain
// is followed as soon as its own backfill returns. Backfills share the
// BackfillParallel limit; listeners run until ctx is done. The error joins
// the backfill failures.
func (e *Engine) Run(ctx context.Context, backfill, live bool) error {
	nets, err := e.networks.List(ctx)
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}

	sem := semaphore.NewWeighted(int64(e.cfg.BackfillParallel))
	errs := make([]error, len(nets))
	var wg sync.WaitGroup
	for i, n := range nets {
		wg.Go(func() {
			if backfill {
				errs[i] = e.gatedBackfill(ctx, sem, n.ChainID)
			}
			if live && ctx.Err() == nil {
				e.ListenNetwork(ctx, n.ChainID)
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (e *Engine) gatedBackfill(ctx context.Context, sem *semaphore.Weighted, chainID int64) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	if err := e.BackfillNetwork(ctx, chainID); err != nil {
		e.log.Error("backfill failed", "chain_id", chainID, "error", err)
		return fmt.Errorf("chain %d: %w", chainID, err)
	}
	return nil
}

// ListenNetwork resubscribes with backoff whenever the stream fails.
func (e *Engine) ListenNetwork(ctx context.Context, chainID int64) {
	backoff := e.cfg.Resubscribe
	for {
		subscribed, err := e.stream(ctx, chainID)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff.Reset()
		}

		delay := backoff.Next()
		e.log.Warn("live stream ended, resubscribing", "chain_id", chainID, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (e *Engine) stream(ctx context.Context, chainID int64) (bool, error) {
	gw, err := e.gateways.Gateway(ctx, chainID)
	if err != nil {
		return false, err
	}

	logs := make(chan types.Log, 64)
	sub, err := gw.SubscribeBotLogs(ctx, logs)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	e.log.Info("live stream subscribed", "chain_id", chainID)

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return true, err
		case l := <-logs:
			e.handleLog(ctx, gw, l)
		}
	}
}

func (e *Engine) handleLog(ctx context.Context, gw ethereum.Chain, l types.Log) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EventTimeout)
	defer cancel()

	ev, err := ethereum.DecodeBotEvent(l)
	if err != nil {
		e.log.Warn("undecodable log", "chain_id", gw.ChainID(), "tx", l.TxHash.Hex(), "error", err)
		return
	}
	if ev.Removed {
		e.handleRemoved(ctx, gw.ChainID(), *ev)
		return
	}
	if err := e.HandleEvent(ctx, gw, *ev); err != nil {
		e.log.Error("live event failed",
			"kind", ev.Kind, "chain_id", gw.ChainID(), "bot_id", ev.BotID, "tx", ev.TxHash.Hex(), "error", err)
	}
}

// handleRemoved skips a log dropped by a reorg. Records are never rewritten,
// so a record already taken from the orphaned block is only reported.
func (e *Engine) handleRemoved(ctx context.Context, chainID int64, ev ethereum.BotEvent) {
	exists, err := e.ledger.Exists(ctx, ev.TxHash.Hex())
	if err != nil {
		e.log.Warn("removed log lookup failed", "chain_id", chainID, "tx", ev.TxHash.Hex(), "error", err)
		return
	}
	if !exists {
		e.log.Info("ignoring removed log", "chain_id", chainID, "tx", ev.TxHash.Hex())
		return
	}
	e.log.Warn("recorded event was removed by a reorg; ledger keeps the orphaned block",
		"chain_id", chainID, "bot_id", ev.BotID, "tx", ev.TxHash.Hex(),
		"block", ev.BlockNumber, "block_hash", ev.BlockHash.Hex())
}

// HandleEvent records one live event. BotInitialized opens a new period
// before it is recorded; BotRunSuccess joins the current one.
func (e *Engine) HandleEvent(ctx context.Context, gw ethereum.Chain, ev ethereum.BotEvent) error {
	chainID := gw.ChainID()

	// A redelivered log must not open a second period.
	exists, err := e.ledger.Exists(ctx, ev.TxHash.Hex())
	if err != nil {
		return fmt.Errorf("exists: %w", err)
	}
	if exists {
		e.log.Debug("event already recorded", "chain_id", chainID, "tx", ev.TxHash.Hex())
		return nil
	}

	snap, err := gw.Bot(ctx, ev.BotID, nil)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	var period int
	switch ev.Kind {
	case ethereum.EventRunSuccess:
		period, err = e.registry.CurrentPeriod(ctx, chainID, ev.BotID)
	case ethereum.EventInitialized:
		period, err = e.openPeriod(ctx, chainID, ev.BotID)
	default:
		return fmt.Errorf("unexpected event kind %s", ev.Kind)
	}
	if err != nil {
		return fmt.Errorf("period: %w", err)
	}

	prices := e.prices(ctx, gw, ev.BotID, snap, nil)
	_, err = e.Record(ctx, ev, snap, prices, chainID, ev.BotID, period)
	return err
}

// openPeriod increments the bot's counter, registering an unknown bot idle
// with its first period.
func (e *Engine) openPeriod(ctx context.Context, chainID int64, botID uint64) (int, error) {
	period, err := e.registry.IncrementPeriod(ctx, chainID, botID)
	if err == nil || !apperr.IsNotFound(err) {
		return period, err
	}
	b, err := e.registry.Create(ctx, &models.Bot{ChainID: chainID, ContractBotID: botID, CurrentPeriod: 1})
	if err != nil {
		return 0, err
	}
	return b.CurrentPeriod, nil
}
