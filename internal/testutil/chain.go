package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
)

var ErrFakeRPC = errors.New("fake rpc failure")

// FakeChain is an in-memory ethereum.Chain. Exported fields may be set
// before use; methods are safe for concurrent callers.
type FakeChain struct {
	mu sync.Mutex

	ID     int64
	Trader common.Address
	Next   uint64

	Bots        map[uint64]*ethereum.BotSnapshot            // latest state
	BotsAt      map[uint64]map[uint64]*ethereum.BotSnapshot // block -> bot -> state
	BotErr      error
	Fulfillable map[uint64]bool
	FulfillErr  error

	BuyIn      *big.Int
	SellOff    *big.Int
	BuyInErr   error
	SellOffErr error

	Events         map[uint64][]ethereum.BotEvent
	EventsFailures int // first N RunSuccessEvents calls fail
	BlockTimes     map[uint64]uint64

	Gas          uint64
	GasPrice     *big.Int
	Nonce        uint64
	SendErr      error
	Sent         []*types.Transaction
	EstimateMsgs []geth.CallMsg

	SubscribeFailures int // first N SubscribeBotLogs calls fail

	GasPriceCalls  int
	EventCalls     int
	SubscribeCalls int

	feed event.Feed
}

var _ ethereum.Chain = (*FakeChain)(nil)

// Gateways resolves chain ids to fixed chains.
type Gateways map[int64]ethereum.Chain

func (g Gateways) Gateway(_ context.Context, chainID int64) (ethereum.Chain, error) {
	c, ok := g[chainID]
	if !ok {
		return nil, apperr.NotFound("network %d", chainID)
	}
	return c, nil
}

func NewFakeChain(chainID int64) *FakeChain {
	return &FakeChain{
		ID:          chainID,
		Trader:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Bots:        make(map[uint64]*ethereum.BotSnapshot),
		BotsAt:      make(map[uint64]map[uint64]*ethereum.BotSnapshot),
		Fulfillable: make(map[uint64]bool),
		Events:      make(map[uint64][]ethereum.BotEvent),
		BlockTimes:  make(map[uint64]uint64),
		BuyIn:       big.NewInt(1_000_000),
		SellOff:     big.NewInt(1_000_000),
		Gas:         100_000,
		GasPrice:    big.NewInt(30_000_000_000),
	}
}

// SetBotAt records the bot's state as of a block.
func (f *FakeChain) SetBotAt(block, botID uint64, snap *ethereum.BotSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BotsAt[block] == nil {
		f.BotsAt[block] = make(map[uint64]*ethereum.BotSnapshot)
	}
	f.BotsAt[block][botID] = snap
}

// Emit delivers a log to every live subscriber.
func (f *FakeChain) Emit(l types.Log) int {
	return f.feed.Send(l)
}

func (f *FakeChain) SentTransactions() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.Sent...)
}

func (f *FakeChain) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SubscribeCalls
}

func (f *FakeChain) ChainID() int64                { return f.ID }
func (f *FakeChain) TraderAddress() common.Address { return f.Trader }
func (f *FakeChain) Close()                        {}

func (f *FakeChain) Bot(_ context.Context, botID uint64, block *big.Int) (*ethereum.BotSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BotErr != nil {
		return nil, f.BotErr
	}
	if block != nil {
		if snap, ok := f.BotsAt[block.Uint64()][botID]; ok {
			return copySnapshot(snap), nil
		}
	}
	snap, ok := f.Bots[botID]
	if !ok {
		return nil, ErrFakeRPC
	}
	return copySnapshot(snap), nil
}

func (f *FakeChain) NextBotID(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Next, nil
}

func (f *FakeChain) IsFulfillable(_ context.Context, botID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FulfillErr != nil {
		return false, f.FulfillErr
	}
	return f.Fulfillable[botID], nil
}

func (f *FakeChain) BuyInPrice(context.Context, uint64, *ethereum.BotSnapshot, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuyInErr != nil {
		return nil, f.BuyInErr
	}
	return new(big.Int).Set(f.BuyIn), nil
}

func (f *FakeChain) SellOffPrice(context.Context, *ethereum.BotSnapshot, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SellOffErr != nil {
		return nil, f.SellOffErr
	}
	return new(big.Int).Set(f.SellOff), nil
}

func (f *FakeChain) RunSuccessEvents(_ context.Context, botID uint64, fromBlock uint64) ([]ethereum.BotEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EventCalls++
	if f.EventsFailures > 0 {
		f.EventsFailures--
		return nil, ErrFakeRPC
	}
	var out []ethereum.BotEvent
	for _, ev := range f.Events[botID] {
		if ev.BlockNumber >= fromBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *FakeChain) SubscribeBotLogs(_ context.Context, ch chan<- types.Log) (geth.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubscribeCalls++
	if f.SubscribeFailures > 0 {
		f.SubscribeFailures--
		return nil, ErrFakeRPC
	}
	return f.feed.Subscribe(ch), nil
}

func (f *FakeChain) BlockTime(_ context.Context, number uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.BlockTimes[number]; ok {
		return ts, nil
	}
	return 1_700_000_000 + number*2, nil
}

func (f *FakeChain) RunCalldata(botID uint64) ([]byte, error) {
	return new(big.Int).SetUint64(botID).Bytes(), nil
}

func (f *FakeChain) EstimateGas(_ context.Context, msg geth.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EstimateMsgs = append(f.EstimateMsgs, msg)
	return f.Gas, nil
}

func (f *FakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GasPriceCalls++
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *FakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nonce, nil
}

func (f *FakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	f.Nonce++
	return nil
}

func copySnapshot(s *ethereum.BotSnapshot) *ethereum.BotSnapshot {
	c := *s
	return &c
}

// Snapshot builds a live bot with round balances at the given depth.
func Snapshot(depth uint64) *ethereum.BotSnapshot {
	return &ethereum.BotSnapshot{
		Owner:           common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		TokenStrategyID: big.NewInt(1),
		EntryFunds:      big.NewInt(100_000_000),
		InitPrice:       big.NewInt(1_000_000),
		CurrentDepth:    depth,
		StableBalance:   big.NewInt(50_000_000),
		TokenBalance:    new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		GasBill:         big.NewInt(0),
	}
}

// RunSuccess builds a BotRunSuccess event for botID at block.
func RunSuccess(botID, block uint64, txHash string) ethereum.BotEvent {
	return ethereum.BotEvent{
		Kind:        ethereum.EventRunSuccess,
		BotID:       botID,
		Address:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		TxHash:      common.HexToHash(txHash),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		BlockNumber: block,
	}
}
