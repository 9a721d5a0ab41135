package historian

import (
	"context"
	"math/big"
	"time"

	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/shopspring/decimal"
)

const maxPeriods = 5

// PeriodReader is the registry view the reports need.
type PeriodReader interface {
	CurrentPeriod(ctx context.Context, chainID int64, botID uint64) (int, error)
}

type Reports struct {
	ledger   Ledger
	periods  PeriodReader
	gateways GatewayProvider
}

func NewReports(ledger Ledger, periods PeriodReader, gateways GatewayProvider) *Reports {
	return &Reports{ledger: ledger, periods: periods, gateways: gateways}
}

// Transactions lists one period's records by ascending depth.
func (r *Reports) Transactions(ctx context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error) {
	txs, err := r.ledger.FindByPeriod(ctx, chainID, botID, period)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

// Periods returns the newest periods on record, at most five.
func (r *Reports) Periods(ctx context.Context, chainID int64, botID uint64) ([]int, error) {
	p, err := r.ledger.Periods(ctx, chainID, botID, maxPeriods)
	if err != nil {
		return nil, err
	}
	if len(p) > maxPeriods {
		p = p[:maxPeriods]
	}
	if p == nil {
		p = []int{}
	}
	return p, nil
}

// PeriodTVL values the period's last record.
func (r *Reports) PeriodTVL(ctx context.Context, chainID int64, botID uint64, period int) (decimal.Decimal, error) {
	txs, err := r.period(ctx, chainID, botID, period)
	if err != nil {
		return decimal.Zero, err
	}
	return txs[len(txs)-1].TVL(), nil
}

// PeriodProfit is the last record's TVL less the first record's entry
// funds, with four decimals.
func (r *Reports) PeriodProfit(ctx context.Context, chainID int64, botID uint64, period int) (string, error) {
	txs, err := r.period(ctx, chainID, botID, period)
	if err != nil {
		return "", err
	}
	profit := txs[len(txs)-1].TVL().Sub(txs[0].EntryFunds)
	return profit.StringFixed(4), nil
}

// Timestamps spans from the period's first record to the first record of
// the next period, or to its own last record while it is still open.
func (r *Reports) Timestamps(ctx context.Context, chainID int64, botID uint64, period int) (*models.PeriodTimestamps, error) {
	txs, err := r.period(ctx, chainID, botID, period)
	if err != nil {
		return nil, err
	}
	next, err := r.ledger.FindByPeriod(ctx, chainID, botID, period+1)
	if err != nil {
		return nil, err
	}

	start := time.Unix(txs[0].Timestamp, 0).UTC()
	end := time.Unix(txs[len(txs)-1].Timestamp, 0).UTC()
	if len(next) > 0 {
		end = time.Unix(next[0].Timestamp, 0).UTC()
	}
	return &models.PeriodTimestamps{
		Start:    start,
		End:      end,
		Duration: HumanDuration(end.Sub(start)),
	}, nil
}

// OpenPositions lists the records of the bot's current period.
func (r *Reports) OpenPositions(ctx context.Context, chainID int64, botID uint64) ([]models.Transaction, error) {
	current, err := r.periods.CurrentPeriod(ctx, chainID, botID)
	if err != nil {
		return nil, err
	}
	return r.Transactions(ctx, chainID, botID, current)
}

// TotalProfit is the bot's live TVL over the entry funds of its earliest
// period on record, with four decimals.
func (r *Reports) TotalProfit(ctx context.Context, chainID int64, botID uint64) (string, error) {
	lowest, ok, err := r.ledger.MinPeriod(ctx, chainID, botID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.NotFound("no records for bot #%d on chain %d", botID, chainID)
	}
	first, err := r.period(ctx, chainID, botID, lowest)
	if err != nil {
		return "", err
	}
	entry := first[0].EntryFunds
	if entry.IsZero() {
		return "", apperr.PreconditionFailed("bot #%d has no entry funds on record", botID)
	}

	gw, err := r.gateways.Gateway(ctx, chainID)
	if err != nil {
		return "", err
	}
	snap, err := gw.Bot(ctx, botID, nil)
	if err != nil {
		return "", err
	}
	price, err := gw.SellOffPrice(ctx, snap, nil)
	if err != nil {
		return "", err
	}

	tvl := LiveTVL(snap.StableBalance, snap.TokenBalance, price)
	return tvl.Div(entry).StringFixed(4), nil
}

// LiveTVL normalizes raw balances and price and values them.
func LiveTVL(stable, token, price *big.Int) decimal.Decimal {
	return Normalize(stable, stableDecimals).
		Add(Normalize(token, tokenDecimals).Mul(Normalize(price, priceDecimals)))
}

func (r *Reports) period(ctx context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error) {
	txs, err := r.ledger.FindByPeriod(ctx, chainID, botID, period)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, apperr.NotFound("period %d does not exist for bot #%d on chain %d", period, botID, chainID)
	}
	return txs, nil
}
