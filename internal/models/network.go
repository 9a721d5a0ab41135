package models

import (
	"time"

	"github.com/google/uuid"
)

type Network struct {
	ID                     uuid.UUID `json:"id"`
	ChainID                int64     `json:"chainId"`
	TraderContractAddress  string    `json:"traderContractAddress"`
	ManagerContractAddress string    `json:"managerContractAddress"`
	RPC                    []string  `json:"rpc"` // first entry is primary
	Symbol                 string    `json:"symbol"`
	CreatedAt              time.Time `json:"createdAt"`
}

// PrimaryRPC returns the first configured endpoint, or "" when none is set.
func (n *Network) PrimaryRPC() string {
	if len(n.RPC) == 0 {
		return ""
	}
	return n.RPC[0]
}

type NetworkUpdate struct {
	TraderContractAddress  *string  `json:"traderContractAddress,omitempty"`
	ManagerContractAddress *string  `json:"managerContractAddress,omitempty"`
	RPC                    []string `json:"rpc,omitempty"`
	Symbol                 *string  `json:"symbol,omitempty"`
}
