package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one settled BotRunSuccess event with the bot snapshot taken
// at its block. Records are immutable; TransactionHash is unique.
type Transaction struct {
	ID               uuid.UUID `json:"id"`
	Timestamp        int64     `json:"timestamp"` // unix seconds of the block
	Address          string    `json:"address"`
	BlockNumber      uint64    `json:"blockNumber"`
	TransactionHash  string    `json:"transactionHash"`
	TransactionIndex uint      `json:"transactionIndex"`
	BlockHash        string    `json:"blockHash"`
	Removed          bool      `json:"removed"`

	BotID   uint64 `json:"botId"`
	ChainID int64  `json:"chainId"`
	Period  int    `json:"period"`

	EntryFunds    decimal.Decimal `json:"entryFunds"`
	CurrentDepth  uint64          `json:"currentDepth"`
	InitPrice     decimal.Decimal `json:"initPrice"`
	StableBalance decimal.Decimal `json:"stableBalance"`
	TokenBalance  decimal.Decimal `json:"tokenBalance"`
	GasBill       decimal.Decimal `json:"gasBill"`
	BuyInPrice    decimal.Decimal `json:"buyInPrice"`
	SellOffPrice  decimal.Decimal `json:"sellOffPrice"`

	CreatedAt time.Time `json:"createdAt"`
}

// TVL values the record's holdings at its sell-off price.
func (t *Transaction) TVL() decimal.Decimal {
	return t.StableBalance.Add(t.TokenBalance.Mul(t.SellOffPrice))
}

type PeriodTimestamps struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration string    `json:"duration"`
}
