package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/repository"
	"github.com/kjannette/trahn-keeper/internal/testutil"
	"github.com/shopspring/decimal"
)

func createNetwork(t *testing.T, repo *repository.NetworkRepo, chainID int64) *models.Network {
	t.Helper()
	n, err := repo.Create(context.Background(), &models.Network{
		ChainID:                chainID,
		TraderContractAddress:  "0x1111111111111111111111111111111111111111",
		ManagerContractAddress: "0x2222222222222222222222222222222222222222",
		RPC:                    []string{"http://localhost:8545"},
		Symbol:                 "TST",
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	return n
}

// ---------- NetworkRepo ----------

func TestNetworkRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	nets := repository.NewNetworkRepo(pool)
	bots := repository.NewBotRepo(pool)
	ctx := context.Background()
	chainID := testutil.UniqueChainID()

	n := createNetwork(t, nets, chainID)
	t.Logf("Created network: id=%s chain=%d", n.ID, n.ChainID)

	if _, err := nets.Create(ctx, &models.Network{ChainID: chainID}); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed on duplicate, got %v", err)
	}

	got, err := nets.GetByChainID(ctx, chainID)
	if err != nil {
		t.Fatalf("GetByChainID: %v", err)
	}
	if got.PrimaryRPC() != "http://localhost:8545" {
		t.Fatalf("rpc mismatch: %v", got.RPC)
	}

	symbol := "NEW"
	updated, err := nets.Update(ctx, n.ID, models.NetworkUpdate{Symbol: &symbol})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Symbol != "NEW" || updated.TraderContractAddress != n.TraderContractAddress {
		t.Fatalf("partial update mismatch: %+v", updated)
	}

	b, err := bots.Create(ctx, &models.Bot{ChainID: chainID, ContractBotID: 1})
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	if err := nets.Delete(ctx, chainID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict while bots exist, got %v", err)
	}

	if err := bots.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete bot: %v", err)
	}
	if err := nets.Delete(ctx, chainID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := nets.GetByChainID(ctx, chainID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

// ---------- BotRepo ----------

func TestBotRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	nets := repository.NewNetworkRepo(pool)
	repo := repository.NewBotRepo(pool)
	ctx := context.Background()
	chainID := testutil.UniqueChainID()
	createNetwork(t, nets, chainID)

	b, err := repo.Create(ctx, &models.Bot{ChainID: chainID, ContractBotID: 7})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, &models.Bot{ChainID: chainID, ContractBotID: 7}); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed on duplicate, got %v", err)
	}

	// Lock is exclusive until released.
	ok, err := repo.TryLock(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	ok, err = repo.TryLock(ctx, b.ID)
	if err != nil || ok {
		t.Fatalf("second TryLock should fail: ok=%v err=%v", ok, err)
	}
	if err := repo.Unlock(ctx, b.ID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = repo.TryLock(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("TryLock after Unlock: ok=%v err=%v", ok, err)
	}
	if _, err := repo.UnlockAll(ctx); err != nil {
		t.Fatalf("UnlockAll: %v", err)
	}

	p, err := repo.IncrementPeriod(ctx, chainID, 7)
	if err != nil || p != 1 {
		t.Fatalf("IncrementPeriod: p=%d err=%v", p, err)
	}
	if err := repo.SetPeriod(ctx, chainID, 7, 4); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	cur, err := repo.CurrentPeriod(ctx, chainID, 7)
	if err != nil || cur != 4 {
		t.Fatalf("CurrentPeriod: %d err=%v", cur, err)
	}
	if cur, _ := repo.CurrentPeriod(ctx, chainID, 99); cur != 0 {
		t.Fatalf("unknown bot period should be 0, got %d", cur)
	}

	running := true
	if _, err := repo.Update(ctx, b.ID, models.BotUpdate{IsRunning: &running, EnableRestart: &running}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := repo.Delete(ctx, b.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict deleting running bot, got %v", err)
	}

	restartable, err := repo.ListRestartable(ctx)
	if err != nil {
		t.Fatalf("ListRestartable: %v", err)
	}
	found := false
	for _, r := range restartable {
		if r.ID == b.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected bot in restartable list")
	}
}

// ---------- TransactionRepo ----------

func TestTransactionRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewTransactionRepo(pool)
	ctx := context.Background()
	chainID := testutil.UniqueChainID()

	if _, ok, err := repo.MaxBlockNumber(ctx, chainID); err != nil || ok {
		t.Fatalf("empty chain MaxBlockNumber: ok=%v err=%v", ok, err)
	}

	for i := 0; i < 7; i++ {
		tx := &models.Transaction{
			Timestamp:       int64(1_700_000_000 + i),
			Address:         "0x1111111111111111111111111111111111111111",
			BlockNumber:     uint64(100 + i),
			TransactionHash: fmt.Sprintf("0x%d-%d", chainID, i),
			BlockHash:       "0xblock",
			BotID:           3,
			ChainID:         chainID,
			Period:          i,
			EntryFunds:      decimal.NewFromInt(100),
			CurrentDepth:    uint64(7 - i),
			StableBalance:   decimal.NewFromInt(50),
			TokenBalance:    decimal.RequireFromString("0.5"),
			SellOffPrice:    decimal.NewFromInt(120),
		}
		inserted, err := repo.Insert(ctx, tx)
		if err != nil || !inserted {
			t.Fatalf("Insert #%d: inserted=%v err=%v", i, inserted, err)
		}
	}

	dup := &models.Transaction{TransactionHash: fmt.Sprintf("0x%d-0", chainID), ChainID: chainID, BotID: 3}
	inserted, err := repo.Insert(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate insert: inserted=%v err=%v", inserted, err)
	}

	exists, err := repo.Exists(ctx, dup.TransactionHash)
	if err != nil || !exists {
		t.Fatalf("Exists: %v err=%v", exists, err)
	}

	max, ok, err := repo.MaxBlockNumber(ctx, chainID)
	if err != nil || !ok || max != 106 {
		t.Fatalf("MaxBlockNumber: %d ok=%v err=%v", max, ok, err)
	}

	periods, err := repo.Periods(ctx, chainID, 3, 5)
	if err != nil {
		t.Fatalf("Periods: %v", err)
	}
	if len(periods) != 5 || periods[0] != 6 || periods[4] != 2 {
		t.Fatalf("expected [6..2], got %v", periods)
	}

	min, ok, err := repo.MinPeriod(ctx, chainID, 3)
	if err != nil || !ok || min != 0 {
		t.Fatalf("MinPeriod: %d ok=%v err=%v", min, ok, err)
	}

	recs, err := repo.FindByPeriod(ctx, chainID, 3, 2)
	if err != nil || len(recs) != 1 {
		t.Fatalf("FindByPeriod: %d err=%v", len(recs), err)
	}
	if !recs[0].TVL().Equal(decimal.NewFromInt(110)) {
		t.Fatalf("TVL: %s", recs[0].TVL())
	}
	t.Logf("Period 2 record: depth=%d tvl=%s", recs[0].CurrentDepth, recs[0].TVL())
}
