package models

import (
	"time"

	"github.com/google/uuid"
)

// Bot mirrors one on-chain trader bot. (ChainID, ContractBotID) is unique.
type Bot struct {
	ID            uuid.UUID `json:"id"`
	ContractBotID uint64    `json:"contractBotId"`
	ChainID       int64     `json:"chainId"`
	IsRunning     bool      `json:"isRunning"`
	EnableRestart bool      `json:"enableRestart"`
	IsLocked      bool      `json:"isLocked"`
	CurrentPeriod int       `json:"currentPeriod"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BotUpdate is a partial update; nil fields are left untouched.
type BotUpdate struct {
	IsRunning     *bool `json:"isRunning,omitempty"`
	EnableRestart *bool `json:"enableRestart,omitempty"`
	IsLocked      *bool `json:"isLocked,omitempty"`
	CurrentPeriod *int  `json:"currentPeriod,omitempty"`
}
