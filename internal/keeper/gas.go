package keeper

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// GasPolicy prices run transactions. The congested chain follows the node's
// suggestion up to Ceiling; every other chain pays Flat.
type GasPolicy struct {
	CongestedChainID int64
	Ceiling          *big.Int
	Flat             *big.Int
}

func NewGasPolicy(congestedChainID, ceilingGwei, flatGwei int64) GasPolicy {
	return GasPolicy{
		CongestedChainID: congestedChainID,
		Ceiling:          gwei(ceilingGwei),
		Flat:             gwei(flatGwei),
	}
}

// NeedsLivePrice reports whether Price uses the live suggestion for chainID.
func (p GasPolicy) NeedsLivePrice(chainID int64) bool {
	return chainID == p.CongestedChainID
}

// Price returns the gas price for chainID; live is ignored on flat chains.
func (p GasPolicy) Price(chainID int64, live *big.Int) *big.Int {
	if !p.NeedsLivePrice(chainID) {
		return new(big.Int).Set(p.Flat)
	}
	if live == nil || live.Cmp(p.Ceiling) > 0 {
		return new(big.Int).Set(p.Ceiling)
	}
	return new(big.Int).Set(live)
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}
