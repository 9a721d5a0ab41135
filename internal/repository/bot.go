package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
)

const botColumns = `id, contract_bot_id, chain_id, is_running, enable_restart,
	is_locked, current_period, created_at, updated_at`

type BotRepo struct {
	pool *pgxpool.Pool
}

func NewBotRepo(pool *pgxpool.Pool) *BotRepo {
	return &BotRepo{pool: pool}
}

// Create inserts a new bot. A duplicate (chainId, contractBotId) is a
// PreconditionFailed; an unknown chain is NotFound.
func (r *BotRepo) Create(ctx context.Context, b *models.Bot) (*models.Bot, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO bots
		 (id, contract_bot_id, chain_id, is_running, enable_restart, is_locked, current_period)
		 VALUES ($1,$2,$3,$4,$5,false,$6)
		 RETURNING `+botColumns,
		b.ID, b.ContractBotID, b.ChainID, b.IsRunning, b.EnableRestart, b.CurrentPeriod,
	)
	out, err := scanBot(row)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, apperr.PreconditionFailed("bot #%d already exists on chain %d", b.ContractBotID, b.ChainID)
		case pgForeignKeyViolation:
			return nil, apperr.NotFound("network %d", b.ChainID)
		}
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return out, nil
}

func (r *BotRepo) Get(ctx context.Context, id uuid.UUID) (*models.Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("bot %s", id)
		}
		return nil, err
	}
	return b, nil
}

// GetByChainAndBotID returns nil, nil when the bot is not registered.
func (r *BotRepo) GetByChainAndBotID(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+botColumns+` FROM bots WHERE chain_id = $1 AND contract_bot_id = $2`,
		chainID, botID,
	)
	b, err := scanBot(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func (r *BotRepo) List(ctx context.Context) ([]models.Bot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY chain_id, contract_bot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

// ListRestartable returns bots flagged to resume after a reboot.
func (r *BotRepo) ListRestartable(ctx context.Context) ([]models.Bot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE enable_restart = true ORDER BY chain_id, contract_bot_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func (r *BotRepo) Update(ctx context.Context, id uuid.UUID, u models.BotUpdate) (*models.Bot, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE bots SET
		   is_running     = COALESCE($2, is_running),
		   enable_restart = COALESCE($3, enable_restart),
		   is_locked      = COALESCE($4, is_locked),
		   current_period = COALESCE($5, current_period),
		   updated_at     = NOW()
		 WHERE id = $1
		 RETURNING `+botColumns,
		id, u.IsRunning, u.EnableRestart, u.IsLocked, u.CurrentPeriod,
	)
	b, err := scanBot(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("bot %s", id)
		}
		return nil, err
	}
	return b, nil
}

// Delete refuses to remove a running bot.
func (r *BotRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bots WHERE id = $1 AND is_running = false`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		b, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return apperr.Conflict("bot #%d on chain %d is running", b.ContractBotID, b.ChainID)
	}
	return nil
}

// TryLock sets is_locked only if it is currently clear. The boolean reports
// whether this caller now owns the lock.
func (r *BotRepo) TryLock(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bots SET is_locked = true, updated_at = NOW() WHERE id = $1 AND is_locked = false`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BotRepo) Unlock(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bots SET is_locked = false, updated_at = NOW() WHERE id = $1`, id,
	)
	return err
}

// UnlockAll clears every lock. Only safe before any schedule is started.
func (r *BotRepo) UnlockAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bots SET is_locked = false, updated_at = NOW() WHERE is_locked = true`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IncrementPeriod bumps the counter atomically and returns the new value.
func (r *BotRepo) IncrementPeriod(ctx context.Context, chainID int64, botID uint64) (int, error) {
	var period int
	err := r.pool.QueryRow(ctx,
		`UPDATE bots SET current_period = current_period + 1, updated_at = NOW()
		 WHERE chain_id = $1 AND contract_bot_id = $2
		 RETURNING current_period`,
		chainID, botID,
	).Scan(&period)
	if err != nil {
		if isNoRows(err) {
			return 0, apperr.NotFound("bot #%d on chain %d", botID, chainID)
		}
		return 0, err
	}
	return period, nil
}

func (r *BotRepo) SetPeriod(ctx context.Context, chainID int64, botID uint64, period int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bots SET current_period = $3, updated_at = NOW()
		 WHERE chain_id = $1 AND contract_bot_id = $2`,
		chainID, botID, period,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bot #%d on chain %d", botID, chainID)
	}
	return nil
}

// CurrentPeriod returns 0 for a bot that is not registered.
func (r *BotRepo) CurrentPeriod(ctx context.Context, chainID int64, botID uint64) (int, error) {
	b, err := r.GetByChainAndBotID(ctx, chainID, botID)
	if err != nil || b == nil {
		return 0, err
	}
	return b.CurrentPeriod, nil
}

// --- scan helpers ---

func scanBot(row scannable) (*models.Bot, error) {
	var b models.Bot
	err := row.Scan(
		&b.ID, &b.ContractBotID, &b.ChainID, &b.IsRunning, &b.EnableRestart,
		&b.IsLocked, &b.CurrentPeriod, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBots(rows rowsIter) ([]models.Bot, error) {
	var out []models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
