package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
)

const networkColumns = `id, chain_id, trader_contract_address, manager_contract_address,
	rpc, symbol, created_at`

type NetworkRepo struct {
	pool *pgxpool.Pool
}

func NewNetworkRepo(pool *pgxpool.Pool) *NetworkRepo {
	return &NetworkRepo{pool: pool}
}

func (r *NetworkRepo) Create(ctx context.Context, n *models.Network) (*models.Network, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	rpc := n.RPC
	if rpc == nil {
		rpc = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO networks
		 (id, chain_id, trader_contract_address, manager_contract_address, rpc, symbol)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING `+networkColumns,
		n.ID, n.ChainID, n.TraderContractAddress, n.ManagerContractAddress, rpc, n.Symbol,
	)
	out, err := scanNetwork(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, apperr.PreconditionFailed("network %d already exists", n.ChainID)
		}
		return nil, fmt.Errorf("insert network: %w", err)
	}
	return out, nil
}

func (r *NetworkRepo) Get(ctx context.Context, id uuid.UUID) (*models.Network, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+networkColumns+` FROM networks WHERE id = $1`, id)
	n, err := scanNetwork(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("network %s", id)
		}
		return nil, err
	}
	return n, nil
}

func (r *NetworkRepo) GetByChainID(ctx context.Context, chainID int64) (*models.Network, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+networkColumns+` FROM networks WHERE chain_id = $1`, chainID)
	n, err := scanNetwork(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("network %d", chainID)
		}
		return nil, err
	}
	return n, nil
}

func (r *NetworkRepo) List(ctx context.Context) ([]models.Network, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+networkColumns+` FROM networks ORDER BY chain_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *NetworkRepo) Update(ctx context.Context, id uuid.UUID, u models.NetworkUpdate) (*models.Network, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE networks SET
		   trader_contract_address  = COALESCE($2, trader_contract_address),
		   manager_contract_address = COALESCE($3, manager_contract_address),
		   rpc                      = COALESCE($4, rpc),
		   symbol                   = COALESCE($5, symbol)
		 WHERE id = $1
		 RETURNING `+networkColumns,
		id, u.TraderContractAddress, u.ManagerContractAddress, u.RPC, u.Symbol,
	)
	n, err := scanNetwork(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("network %s", id)
		}
		return nil, err
	}
	return n, nil
}

// Delete fails with Conflict while bots still reference the chain.
func (r *NetworkRepo) Delete(ctx context.Context, chainID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM networks WHERE chain_id = $1`, chainID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return apperr.Conflict("network %d still has bots", chainID)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("network %d", chainID)
	}
	return nil
}

func scanNetwork(row scannable) (*models.Network, error) {
	var n models.Network
	err := row.Scan(
		&n.ID, &n.ChainID, &n.TraderContractAddress, &n.ManagerContractAddress,
		&n.RPC, &n.Symbol, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
