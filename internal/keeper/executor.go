package keeper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const gasLimitMultiplier = 2

type Executor struct {
	gateways GatewayProvider
	key      *ecdsa.PrivateKey
	from     common.Address
	gas      GasPolicy
	notifier Notifier
	log      *slog.Logger
}

func NewExecutor(gateways GatewayProvider, key *ecdsa.PrivateKey, gas GasPolicy, notifier Notifier, log *slog.Logger) *Executor {
	return &Executor{
		gateways: gateways,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		gas:      gas,
		notifier: notifier,
		log:      log.With("component", "executor"),
	}
}

func (e *Executor) Operator() common.Address { return e.from }

// Execute signs and submits run(botID) once. A failed step returns an error
// and nothing is retried.
func (e *Executor) Execute(ctx context.Context, chainID int64, botID uint64) (common.Hash, error) {
	gw, err := e.gateways.Gateway(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := gw.RunCalldata(botID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack run: %w", err)
	}
	to := gw.TraderAddress()

	estimate, err := gw.EstimateGas(ctx, geth.CallMsg{From: e.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	var live *big.Int
	if e.gas.NeedsLivePrice(chainID) {
		live, err = gw.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("get gas price: %w", err)
		}
	}
	gasPrice := e.gas.Price(chainID, live)

	nonce, err := gw.PendingNonce(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      estimate * gasLimitMultiplier,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.NewEIP155Signer(big.NewInt(chainID))
	signed, err := types.SignTx(tx, signer, e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := gw.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	hash := signed.Hash()
	e.log.Info("run submitted",
		"chain_id", chainID, "bot_id", botID, "tx", hash.Hex(),
		"nonce", nonce, "gas", signed.Gas(), "gas_price", gasPrice.String())
	if e.notifier != nil {
		e.notifier.TxSubmitted(chainID, botID, hash)
	}
	return hash, nil
}
