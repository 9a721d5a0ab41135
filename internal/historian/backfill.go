package historian

import (
	"context"
	"fmt"
	"math/big"

	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/retry"
	"golang.org/x/sync/errgroup"
)

// Backfill reconciles the ledger with chain history for every network.
// Networks run concurrently; bots within a network run in id order. A
// failing network does not stop the others.
func (e *Engine) Backfill(ctx context.Context) error {
	nets, err := e.networks.List(ctx)
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.BackfillParallel)
	for _, n := range nets {
		g.Go(func() error {
			if err := e.BackfillNetwork(ctx, n.ChainID); err != nil {
				e.log.Error("backfill failed", "chain_id", n.ChainID, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// StartBlock is 1 for a chain with no records, else the highest recorded
// block, which is scanned again.
func (e *Engine) StartBlock(ctx context.Context, chainID int64) (uint64, error) {
	max, ok, err := e.ledger.MaxBlockNumber(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("max block: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return max, nil
}

func (e *Engine) BackfillNetwork(ctx context.Context, chainID int64) error {
	gw, err := e.gateways.Gateway(ctx, chainID)
	if err != nil {
		return err
	}
	start, err := e.StartBlock(ctx, chainID)
	if err != nil {
		return err
	}
	next, err := gw.NextBotID(ctx)
	if err != nil {
		return fmt.Errorf("next bot id: %w", err)
	}

	e.log.Info("backfill started", "chain_id", chainID, "from_block", start, "bots", next-1)
	for botID := uint64(1); botID < next; botID++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.backfillBot(ctx, gw, botID, start); err != nil {
			e.log.Warn("bot backfill incomplete", "chain_id", chainID, "bot_id", botID, "error", err)
		}
	}
	e.log.Info("backfill finished", "chain_id", chainID)
	return nil
}

func (e *Engine) backfillBot(ctx context.Context, gw ethereum.Chain, botID, start uint64) error {
	chainID := gw.ChainID()

	events, err := retry.Do(ctx, e.cfg.FetchRetry, func(ctx context.Context) ([]ethereum.BotEvent, error) {
		return gw.RunSuccessEvents(ctx, botID, start)
	})
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	bot, err := e.registry.GetByChainAndBotID(ctx, chainID, botID)
	if err != nil {
		return err
	}
	period := 0
	if bot != nil {
		period = bot.CurrentPeriod
	}
	initial := period

	// The counter only advances for events actually written, so a rescan
	// of already-recorded blocks leaves it unchanged.
	var walkErr error
	for _, ev := range events {
		exists, err := e.ledger.Exists(ctx, ev.TxHash.Hex())
		if err != nil {
			walkErr = err
			break
		}
		if exists {
			continue
		}

		block := new(big.Int).SetUint64(ev.BlockNumber)
		snap, err := gw.Bot(ctx, botID, block)
		if err != nil {
			walkErr = fmt.Errorf("snapshot at %d: %w", ev.BlockNumber, err)
			break
		}
		prices := e.prices(ctx, gw, botID, snap, block)

		next := period
		if snap.CurrentDepth == 0 {
			next++
		}
		inserted, err := e.Record(ctx, ev, snap, prices, chainID, botID, next)
		if err != nil {
			walkErr = fmt.Errorf("record %s: %w", ev.TxHash.Hex(), err)
			break
		}
		if inserted {
			period = next
		}
	}

	if period != initial || bot == nil {
		if err := e.persistPeriod(ctx, bot, chainID, botID, period); err != nil {
			return err
		}
	}
	return walkErr
}

// persistPeriod stores the counter, registering the bot idle when unknown.
func (e *Engine) persistPeriod(ctx context.Context, bot *models.Bot, chainID int64, botID uint64, period int) error {
	if bot != nil {
		return e.registry.SetPeriod(ctx, chainID, botID, period)
	}
	_, err := e.registry.Create(ctx, &models.Bot{
		ChainID:       chainID,
		ContractBotID: botID,
		IsRunning:     false,
		EnableRestart: false,
		CurrentPeriod: period,
	})
	if err != nil {
		return fmt.Errorf("register bot #%d: %w", botID, err)
	}
	return nil
}
