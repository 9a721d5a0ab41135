package ethereum

import (
	"context"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is everything the keeper and the historian need from one network.
// A nil block means latest.
type Chain interface {
	ChainID() int64
	TraderAddress() common.Address

	Bot(ctx context.Context, botID uint64, block *big.Int) (*BotSnapshot, error)
	NextBotID(ctx context.Context) (uint64, error)
	IsFulfillable(ctx context.Context, botID uint64) (bool, error)
	BuyInPrice(ctx context.Context, botID uint64, snap *BotSnapshot, block *big.Int) (*big.Int, error)
	SellOffPrice(ctx context.Context, snap *BotSnapshot, block *big.Int) (*big.Int, error)

	RunSuccessEvents(ctx context.Context, botID uint64, fromBlock uint64) ([]BotEvent, error)
	SubscribeBotLogs(ctx context.Context, ch chan<- types.Log) (geth.Subscription, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)

	RunCalldata(botID uint64) ([]byte, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	Close()
}

// BotSnapshot is the trader contract's bots(id) struct.
type BotSnapshot struct {
	Owner           common.Address
	TokenStrategyID *big.Int
	EntryFunds      *big.Int
	InitPrice       *big.Int
	CurrentDepth    uint64
	StableBalance   *big.Int
	TokenBalance    *big.Int
	GasBill         *big.Int
	Destroyed       bool
}

// Prices are the manager quotes taken alongside a snapshot. A nil entry
// means the read failed.
type Prices struct {
	BuyIn   *big.Int
	SellOff *big.Int
}
