package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Gateway talks to one network's trader and manager contracts over ethclient.
type Gateway struct {
	rpc        *ethclient.Client
	chainID    int64
	trader     common.Address
	manager    common.Address
	traderABI  abi.ABI
	managerABI abi.ABI
}

var _ Chain = (*Gateway)(nil)

func Dial(ctx context.Context, rpcURL string, chainID int64, trader, manager common.Address) (*Gateway, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	g, err := newGateway(rpc, chainID, trader, manager)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return g, nil
}

func newGateway(rpc *ethclient.Client, chainID int64, trader, manager common.Address) (*Gateway, error) {
	tABI, err := abi.JSON(traderABIJSON())
	if err != nil {
		return nil, fmt.Errorf("parse trader ABI: %w", err)
	}
	mABI, err := abi.JSON(managerABIJSON())
	if err != nil {
		return nil, fmt.Errorf("parse manager ABI: %w", err)
	}
	return &Gateway{
		rpc:        rpc,
		chainID:    chainID,
		trader:     trader,
		manager:    manager,
		traderABI:  tABI,
		managerABI: mABI,
	}, nil
}

// ProbeChainID dials rpcURL and asks the node for its chain id.
func ProbeChainID(ctx context.Context, rpcURL string, timeout time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, fmt.Errorf("dial RPC: %w", err)
	}
	defer rpc.Close()

	id, err := rpc.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	return id.Int64(), nil
}

func (g *Gateway) ChainID() int64                { return g.chainID }
func (g *Gateway) TraderAddress() common.Address { return g.trader }
func (g *Gateway) Close()                        { g.rpc.Close() }

// --- contract reads ---

// botStruct matches the output names of bots(uint256) after abi.ToCamelCase.
type botStruct struct {
	Owner             common.Address
	TokenStrategyId   *big.Int
	EntryFunds        *big.Int
	InitPrice         *big.Int
	CurrentDepth      *big.Int
	STABLECOINBalance *big.Int
	TokenBalance      *big.Int
	GasBill           *big.Int
	Destroyed         bool
}

func (g *Gateway) Bot(ctx context.Context, botID uint64, block *big.Int) (*BotSnapshot, error) {
	out, err := g.call(ctx, g.trader, &g.traderABI, block, "bots", new(big.Int).SetUint64(botID))
	if err != nil {
		return nil, err
	}
	return UnpackBot(&g.traderABI, out)
}

// UnpackBot decodes the return data of bots(uint256).
func UnpackBot(traderABI *abi.ABI, data []byte) (*BotSnapshot, error) {
	var raw botStruct
	if err := traderABI.UnpackIntoInterface(&raw, "bots", data); err != nil {
		return nil, fmt.Errorf("unpack bots: %w", err)
	}
	if raw.CurrentDepth == nil || !raw.CurrentDepth.IsUint64() {
		return nil, fmt.Errorf("unpack bots: depth out of range")
	}
	return &BotSnapshot{
		Owner:           raw.Owner,
		TokenStrategyID: raw.TokenStrategyId,
		EntryFunds:      raw.EntryFunds,
		InitPrice:       raw.InitPrice,
		CurrentDepth:    raw.CurrentDepth.Uint64(),
		StableBalance:   raw.STABLECOINBalance,
		TokenBalance:    raw.TokenBalance,
		GasBill:         raw.GasBill,
		Destroyed:       raw.Destroyed,
	}, nil
}

// NextBotID is exclusive: valid ids are 1..next-1.
func (g *Gateway) NextBotID(ctx context.Context) (uint64, error) {
	out, err := g.call(ctx, g.trader, &g.traderABI, nil, "getBotNextId")
	if err != nil {
		return 0, err
	}
	vals, err := g.traderABI.Unpack("getBotNextId", out)
	if err != nil {
		return 0, fmt.Errorf("unpack getBotNextId: %w", err)
	}
	next := *abi.ConvertType(vals[0], new(*big.Int)).(**big.Int)
	if next == nil || !next.IsUint64() {
		return 0, fmt.Errorf("next bot id %v overflows uint64", next)
	}
	return next.Uint64(), nil
}

func (g *Gateway) IsFulfillable(ctx context.Context, botID uint64) (bool, error) {
	out, err := g.call(ctx, g.trader, &g.traderABI, nil, "isFulfillable", new(big.Int).SetUint64(botID))
	if err != nil {
		return false, err
	}
	vals, err := g.traderABI.Unpack("isFulfillable", out)
	if err != nil {
		return false, fmt.Errorf("unpack isFulfillable: %w", err)
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}

// BuyInPrice quotes the manager with the buy amount scheduled for the
// snapshot's current depth.
func (g *Gateway) BuyInPrice(ctx context.Context, botID uint64, snap *BotSnapshot, block *big.Int) (*big.Int, error) {
	out, err := g.call(ctx, g.trader, &g.traderABI, block, "getBotBuyAmounts", new(big.Int).SetUint64(botID))
	if err != nil {
		return nil, err
	}
	vals, err := g.traderABI.Unpack("getBotBuyAmounts", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getBotBuyAmounts: %w", err)
	}
	amounts := *abi.ConvertType(vals[0], new([]*big.Int)).(*[]*big.Int)
	if snap.CurrentDepth >= uint64(len(amounts)) {
		return nil, fmt.Errorf("depth %d outside %d buy amounts", snap.CurrentDepth, len(amounts))
	}
	return g.quote(ctx, "getCurrentBuyInPrice", amounts[snap.CurrentDepth], snap.TokenStrategyID, block)
}

// SellOffPrice quotes the manager for the snapshot's whole token balance.
func (g *Gateway) SellOffPrice(ctx context.Context, snap *BotSnapshot, block *big.Int) (*big.Int, error) {
	return g.quote(ctx, "getCurrentSellOffPrice", snap.TokenBalance, snap.TokenStrategyID, block)
}

func (g *Gateway) quote(ctx context.Context, method string, input, strategy *big.Int, block *big.Int) (*big.Int, error) {
	out, err := g.call(ctx, g.manager, &g.managerABI, block, method, input, strategy)
	if err != nil {
		return nil, err
	}
	var res struct {
		Output *big.Int
		Price  *big.Int
	}
	if err := g.managerABI.UnpackIntoInterface(&res, method, out); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res.Price, nil
}

func (g *Gateway) call(ctx context.Context, to common.Address, a *abi.ABI, block *big.Int, method string, args ...any) ([]byte, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := g.rpc.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// --- events ---

// RunSuccessEvents returns the bot's BotRunSuccess logs from fromBlock on,
// ordered by (block, log index).
func (g *Gateway) RunSuccessEvents(ctx context.Context, botID uint64, fromBlock uint64) ([]BotEvent, error) {
	logs, err := g.rpc.FilterLogs(ctx, geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{g.trader},
		Topics:    [][]common.Hash{{RunSuccessTopic}, nil, {botIDTopic(botID)}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	SortLogs(logs)

	out := make([]BotEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := DecodeBotEvent(l)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, nil
}

// SortLogs orders logs by (block number, log index).
func SortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// SubscribeBotLogs streams BotRunSuccess and BotInitialized logs. Requires a
// websocket or IPC endpoint.
func (g *Gateway) SubscribeBotLogs(ctx context.Context, ch chan<- types.Log) (geth.Subscription, error) {
	return g.rpc.SubscribeFilterLogs(ctx, geth.FilterQuery{
		Addresses: []common.Address{g.trader},
		Topics:    [][]common.Hash{{RunSuccessTopic, InitializedTopic}},
	}, ch)
}

func (g *Gateway) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	h, err := g.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	return h.Time, nil
}

// --- transactions ---

func (g *Gateway) RunCalldata(botID uint64) ([]byte, error) {
	return g.traderABI.Pack("run", new(big.Int).SetUint64(botID))
}

func (g *Gateway) EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error) {
	return g.rpc.EstimateGas(ctx, msg)
}

func (g *Gateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return g.rpc.SuggestGasPrice(ctx)
}

func (g *Gateway) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return g.rpc.PendingNonceAt(ctx, addr)
}

func (g *Gateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return g.rpc.SendTransaction(ctx, tx)
}
