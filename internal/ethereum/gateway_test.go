package ethereum

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := newGateway(nil, 137,
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	return g
}

func TestUnpackBot(t *testing.T) {
	g := testGateway(t)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	data, err := g.traderABI.Methods["bots"].Outputs.Pack(
		owner,
		big.NewInt(2),           // tokenStrategyId
		big.NewInt(100_000_000), // entryFunds
		big.NewInt(1_500_000),   // initPrice
		big.NewInt(3),           // currentDepth
		big.NewInt(40_000_000),  // STABLECOINBalance
		oneToken,                // tokenBalance
		big.NewInt(5),           // gasBill
		true,                    // destroyed
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	snap, err := UnpackBot(&g.traderABI, data)
	if err != nil {
		t.Fatalf("UnpackBot: %v", err)
	}
	if snap.Owner != owner || snap.CurrentDepth != 3 || !snap.Destroyed {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	if snap.EntryFunds.Int64() != 100_000_000 || snap.StableBalance.Int64() != 40_000_000 {
		t.Fatalf("balances mismatch: %+v", snap)
	}
	if snap.TokenStrategyID.Int64() != 2 {
		t.Fatalf("strategy mismatch: %s", snap.TokenStrategyID)
	}
}

func TestRunCalldata(t *testing.T) {
	g := testGateway(t)
	data, err := g.RunCalldata(7)
	if err != nil {
		t.Fatalf("RunCalldata: %v", err)
	}
	method, err := g.traderABI.MethodById(data[:4])
	if err != nil {
		t.Fatalf("MethodById: %v", err)
	}
	if method.Name != "run" {
		t.Fatalf("expected run, got %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack args: %v", err)
	}
	id := *abi.ConvertType(args[0], new(*big.Int)).(**big.Int)
	if id.Uint64() != 7 {
		t.Fatalf("expected bot 7, got %s", id)
	}
}

func TestIsChecksumAddress(t *testing.T) {
	good := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed").Hex()
	if !IsChecksumAddress(good) {
		t.Fatalf("expected %s to be checksummed", good)
	}
	if IsChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed") {
		t.Fatal("lowercase address must not pass checksum validation")
	}
	if IsChecksumAddress("not-an-address") {
		t.Fatal("garbage must not pass")
	}
}

func TestParsePrivateKey(t *testing.T) {
	// Well-known test key (hardhat account #0).
	_, addr, err := ParsePrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if addr != common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
}

func TestSortLogs(t *testing.T) {
	logs := []types.Log{
		{BlockNumber: 12, Index: 0, TxHash: common.HexToHash("0x4")},
		{BlockNumber: 10, Index: 3, TxHash: common.HexToHash("0x2")},
		{BlockNumber: 11, Index: 1, TxHash: common.HexToHash("0x3")},
		{BlockNumber: 10, Index: 1, TxHash: common.HexToHash("0x1")},
	}
	SortLogs(logs)

	for i, l := range logs {
		if want := common.HexToHash(fmt.Sprintf("0x%d", i+1)); l.TxHash != want {
			t.Fatalf("position %d: expected %s, got %s (block %d index %d)",
				i, want.Hex(), l.TxHash.Hex(), l.BlockNumber, l.Index)
		}
	}
}
