// Package keeper decides whether a bot may run and submits run(botId).
package keeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
)

type GatewayProvider interface {
	Gateway(ctx context.Context, chainID int64) (ethereum.Chain, error)
}

type Notifier interface {
	TxSubmitted(chainID int64, botID uint64, hash common.Hash)
}
