package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type EventKind int

const (
	EventRunSuccess EventKind = iota + 1
	EventInitialized
)

func (k EventKind) String() string {
	switch k {
	case EventRunSuccess:
		return "BotRunSuccess"
	case EventInitialized:
		return "BotInitialized"
	}
	return "unknown"
}

var (
	RunSuccessTopic  = crypto.Keccak256Hash([]byte("BotRunSuccess(address,uint256)"))
	InitializedTopic = crypto.Keccak256Hash([]byte("BotInitialized(address,uint256)"))
)

// BotEvent is a decoded trader log with the provenance the ledger keeps.
type BotEvent struct {
	Kind        EventKind
	BotID       uint64
	Address     common.Address
	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
	Removed     bool
}

func DecodeBotEvent(vLog types.Log) (*BotEvent, error) {
	// topics:
	// 0: event sig
	// 1: caller / owner (address indexed)
	// 2: botId (uint256 indexed)
	if len(vLog.Topics) < 3 {
		return nil, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}

	var kind EventKind
	switch vLog.Topics[0] {
	case RunSuccessTopic:
		kind = EventRunSuccess
	case InitializedTopic:
		kind = EventInitialized
	default:
		return nil, fmt.Errorf("unknown event topic %s", vLog.Topics[0].Hex())
	}

	id := new(big.Int).SetBytes(vLog.Topics[2].Bytes())
	if !id.IsUint64() {
		return nil, fmt.Errorf("bot id %s overflows uint64", id)
	}

	return &BotEvent{
		Kind:        kind,
		BotID:       id.Uint64(),
		Address:     vLog.Address,
		TxHash:      vLog.TxHash,
		BlockHash:   vLog.BlockHash,
		BlockNumber: vLog.BlockNumber,
		TxIndex:     vLog.TxIndex,
		LogIndex:    vLog.Index,
		Removed:     vLog.Removed,
	}, nil
}

func botIDTopic(botID uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(botID))
}
