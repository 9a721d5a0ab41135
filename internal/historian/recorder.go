package historian

import (
	"context"
	"fmt"
	"math/big"

	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
)

// Record stores ev with its snapshot unless the transaction hash is already
// in the ledger. The boolean reports whether a record was written.
func (e *Engine) Record(ctx context.Context, ev ethereum.BotEvent, snap *ethereum.BotSnapshot, prices ethereum.Prices, chainID int64, botID uint64, period int) (bool, error) {
	hash := ev.TxHash.Hex()
	exists, err := e.ledger.Exists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", hash, err)
	}
	if exists {
		return false, nil
	}

	gw, err := e.gateways.Gateway(ctx, chainID)
	if err != nil {
		return false, err
	}
	ts, err := gw.BlockTime(ctx, ev.BlockNumber)
	if err != nil {
		return false, err
	}

	tx := &models.Transaction{
		Timestamp:        int64(ts),
		Address:          ev.Address.Hex(),
		BlockNumber:      ev.BlockNumber,
		TransactionHash:  hash,
		TransactionIndex: ev.TxIndex,
		BlockHash:        ev.BlockHash.Hex(),
		Removed:          ev.Removed,
		BotID:            botID,
		ChainID:          chainID,
		Period:           period,
		EntryFunds:       Normalize(snap.EntryFunds, stableDecimals),
		CurrentDepth:     snap.CurrentDepth,
		InitPrice:        Normalize(snap.InitPrice, priceDecimals),
		StableBalance:    Normalize(snap.StableBalance, stableDecimals),
		TokenBalance:     Normalize(snap.TokenBalance, tokenDecimals),
		GasBill:          Normalize(snap.GasBill, gasDecimals),
		BuyInPrice:       Normalize(prices.BuyIn, priceDecimals),
		SellOffPrice:     Normalize(prices.SellOff, priceDecimals),
	}

	inserted, err := e.ledger.Insert(ctx, tx)
	if err != nil {
		return false, err
	}
	if inserted {
		e.log.Info("recorded",
			"kind", ev.Kind, "chain_id", chainID, "bot_id", botID,
			"period", period, "depth", snap.CurrentDepth, "block", ev.BlockNumber, "tx", hash)
	}
	return inserted, nil
}

// prices reads both manager quotes; a failed quote is logged and left nil.
func (e *Engine) prices(ctx context.Context, gw ethereum.Chain, botID uint64, snap *ethereum.BotSnapshot, block *big.Int) ethereum.Prices {
	var p ethereum.Prices
	var err error
	if p.BuyIn, err = gw.BuyInPrice(ctx, botID, snap, block); err != nil {
		e.log.Warn("buy-in price failed", "chain_id", gw.ChainID(), "bot_id", botID, "block", block, "error", err)
	}
	if p.SellOff, err = gw.SellOffPrice(ctx, snap, block); err != nil {
		e.log.Warn("sell-off price failed", "chain_id", gw.ChainID(), "bot_id", botID, "block", block, "error", err)
	}
	return p
}
