package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-keeper/internal/models"
)

const transactionColumns = `id, timestamp, address, block_number, transaction_hash,
	transaction_index, block_hash, removed, bot_id, chain_id, period,
	entry_funds, current_depth, init_price, stable_balance, token_balance,
	gas_bill, buy_in_price, sell_off_price, created_at`

// TransactionRepo is the append-only execution ledger.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Exists(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE transaction_hash = $1)`, txHash,
	).Scan(&exists)
	return exists, err
}

// Insert stores t unless its hash is already present. The boolean reports
// whether a row was written.
func (r *TransactionRepo) Insert(ctx context.Context, t *models.Transaction) (bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO transactions
		 (id, timestamp, address, block_number, transaction_hash, transaction_index,
		  block_hash, removed, bot_id, chain_id, period,
		  entry_funds, current_depth, init_price, stable_balance, token_balance,
		  gas_bill, buy_in_price, sell_off_price)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 ON CONFLICT (transaction_hash) DO NOTHING`,
		t.ID, t.Timestamp, t.Address, t.BlockNumber, t.TransactionHash, t.TransactionIndex,
		t.BlockHash, t.Removed, t.BotID, t.ChainID, t.Period,
		t.EntryFunds, t.CurrentDepth, t.InitPrice, t.StableBalance, t.TokenBalance,
		t.GasBill, t.BuyInPrice, t.SellOffPrice,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", t.TransactionHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MaxBlockNumber returns the highest recorded block for the chain; ok is
// false when the chain has no records.
func (r *TransactionRepo) MaxBlockNumber(ctx context.Context, chainID int64) (block uint64, ok bool, err error) {
	var max *int64
	if err := r.pool.QueryRow(ctx,
		`SELECT MAX(block_number) FROM transactions WHERE chain_id = $1`, chainID,
	).Scan(&max); err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return uint64(*max), true, nil
}

// FindByPeriod returns the period's records ordered by depth.
func (r *TransactionRepo) FindByPeriod(ctx context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE chain_id = $1 AND bot_id = $2 AND period = $3
		 ORDER BY current_depth ASC, block_number ASC, transaction_index ASC`,
		chainID, botID, period,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// Periods returns up to limit distinct periods, newest first.
func (r *TransactionRepo) Periods(ctx context.Context, chainID int64, botID uint64, limit int) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT period FROM transactions
		 WHERE chain_id = $1 AND bot_id = $2
		 ORDER BY period DESC LIMIT $3`,
		chainID, botID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) MinPeriod(ctx context.Context, chainID int64, botID uint64) (period int, ok bool, err error) {
	var min *int
	if err := r.pool.QueryRow(ctx,
		`SELECT MIN(period) FROM transactions WHERE chain_id = $1 AND bot_id = $2`,
		chainID, botID,
	).Scan(&min); err != nil {
		return 0, false, err
	}
	if min == nil {
		return 0, false, nil
	}
	return *min, true, nil
}

// --- scan helpers ---

func scanTransaction(row scannable) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.Timestamp, &t.Address, &t.BlockNumber, &t.TransactionHash,
		&t.TransactionIndex, &t.BlockHash, &t.Removed, &t.BotID, &t.ChainID, &t.Period,
		&t.EntryFunds, &t.CurrentDepth, &t.InitPrice, &t.StableBalance, &t.TokenBalance,
		&t.GasBill, &t.BuyInPrice, &t.SellOffPrice, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows rowsIter) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
