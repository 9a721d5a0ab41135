package keeper

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

type Reason string

const (
	ReasonFulfillable    Reason = "fulfillable"
	ReasonNotFulfillable Reason = "not_fulfillable"
	ReasonDestroyed      Reason = "destroyed"
	ReasonReverted       Reason = "reverted"
	ReasonReadFailed     Reason = "read_failed"

	// ReasonLocked marks a cycle skipped because another holds the bot lock.
	ReasonLocked Reason = "locked"
)

// Condition is the outcome of one evaluation. Terminal implies !Runnable.
type Condition struct {
	Runnable bool
	Terminal bool
	Reason   Reason
}

type Evaluator struct {
	gateways GatewayProvider
	log      *slog.Logger
}

func NewEvaluator(gateways GatewayProvider, log *slog.Logger) *Evaluator {
	return &Evaluator{gateways: gateways, log: log.With("component", "evaluator")}
}

// Evaluate never returns an error: failed reads are reported as
// non-runnable, non-terminal conditions.
func (e *Evaluator) Evaluate(ctx context.Context, chainID int64, botID uint64) Condition {
	gw, err := e.gateways.Gateway(ctx, chainID)
	if err != nil {
		e.log.Error("no gateway", "chain_id", chainID, "bot_id", botID, "error", err)
		return Condition{Reason: ReasonReadFailed}
	}

	snap, err := gw.Bot(ctx, botID, nil)
	if err != nil {
		e.log.Warn("bots() read failed", "chain_id", chainID, "bot_id", botID, "error", err)
		return Condition{Reason: ReasonReadFailed}
	}
	if snap.Destroyed {
		return Condition{Terminal: true, Reason: ReasonDestroyed}
	}

	ok, err := gw.IsFulfillable(ctx, botID)
	if err != nil {
		if IsRevert(err) {
			// Typical after a sharp price move: the contract rejects the input.
			e.log.Info("isFulfillable reverted", "chain_id", chainID, "bot_id", botID, "error", err)
			return Condition{Reason: ReasonReverted}
		}
		e.log.Warn("isFulfillable read failed", "chain_id", chainID, "bot_id", botID, "error", err)
		return Condition{Reason: ReasonReadFailed}
	}
	if !ok {
		return Condition{Reason: ReasonNotFulfillable}
	}
	return Condition{Runnable: true, Reason: ReasonFulfillable}
}

// IsRevert reports whether err is the node rejecting the call rather than a
// transport failure.
func IsRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
