package historian

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/retry"
	"github.com/kjannette/trahn-keeper/internal/testutil"
	"github.com/shopspring/decimal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fastConfig = Config{
	FetchRetry:       retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	Resubscribe:      retry.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	EventTimeout:     time.Second,
	BackfillParallel: 2,
}

type harness struct {
	engine *Engine
	ledger *testutil.MemLedger
	bots   *testutil.MemBots
}

func newHarness(chains ...*testutil.FakeChain) *harness {
	gws := testutil.Gateways{}
	var nets testutil.NetworkList
	for _, c := range chains {
		gws[c.ID] = c
		nets = append(nets, models.Network{ChainID: c.ID})
	}
	h := &harness{ledger: testutil.NewMemLedger(), bots: testutil.NewMemBots()}
	h.engine = NewEngine(gws, nets, h.ledger, h.bots, fastConfig, quietLogger())
	return h
}

func periodsOf(txs []models.Transaction) []int {
	out := make([]int, len(txs))
	for i, t := range txs {
		out[i] = t.Period
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// seedDepths gives bot botID one RunSuccess per depth at consecutive blocks
// starting from 10.
func seedDepths(c *testutil.FakeChain, botID uint64, depths []uint64) {
	for i, d := range depths {
		block := uint64(10 + i)
		c.SetBotAt(block, botID, testutil.Snapshot(d))
		hash := common.BigToHash(big.NewInt(int64(1000*botID) + int64(i+1))).Hex()
		c.Events[botID] = append(c.Events[botID], testutil.RunSuccess(botID, block, hash))
	}
}

func TestBackfill_DepthZeroOpensPeriods(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(137)
	chain.Next = 6
	chain.EventsFailures = 1
	seedDepths(chain, 5, []uint64{0, 1, 0})
	h := newHarness(chain)

	if err := h.engine.Backfill(ctx); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	txs := h.ledger.All()
	if got := periodsOf(txs); !equalInts(got, []int{1, 1, 2}) {
		t.Fatalf("expected periods [1 1 2], got %v", got)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 137, 5); p != 2 {
		t.Fatalf("expected stored period 2, got %d", p)
	}
	b, _ := h.bots.GetByChainAndBotID(ctx, 137, 5)
	if b == nil || b.IsRunning || b.EnableRestart {
		t.Fatalf("expected bot registered idle, got %+v", b)
	}
	if b, _ := h.bots.GetByChainAndBotID(ctx, 137, 1); b != nil {
		t.Fatalf("bot without history should not be registered: %+v", b)
	}

	tx := txs[0]
	if tx.StableBalance.String() != "50" || tx.TokenBalance.String() != "1" || tx.SellOffPrice.String() != "1" {
		t.Fatalf("unexpected normalization: stable=%s token=%s price=%s", tx.StableBalance, tx.TokenBalance, tx.SellOffPrice)
	}
	if tx.Timestamp != 1_700_000_000+20 {
		t.Fatalf("unexpected timestamp %d", tx.Timestamp)
	}
}

func TestBackfill_RescanDoesNotDrift(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(137)
	chain.Next = 6
	seedDepths(chain, 5, []uint64{0, 1, 0})
	h := newHarness(chain)

	for i := 0; i < 3; i++ {
		if err := h.engine.BackfillNetwork(ctx, 137); err != nil {
			t.Fatalf("BackfillNetwork #%d: %v", i, err)
		}
	}
	if n := len(h.ledger.All()); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 137, 5); p != 2 {
		t.Fatalf("period drifted to %d", p)
	}
}

func TestBackfill_ContinuesFromKnownPeriod(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(1)
	chain.Next = 2
	seedDepths(chain, 1, []uint64{1, 0})
	h := newHarness(chain)
	if _, err := h.bots.Create(ctx, &models.Bot{ChainID: 1, ContractBotID: 1, CurrentPeriod: 4}); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.BackfillNetwork(ctx, 1); err != nil {
		t.Fatalf("BackfillNetwork: %v", err)
	}
	if got := periodsOf(h.ledger.All()); !equalInts(got, []int{4, 5}) {
		t.Fatalf("expected periods [4 5], got %v", got)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 1, 1); p != 5 {
		t.Fatalf("expected period 5, got %d", p)
	}
}

func TestBackfill_StopsBotAtSnapshotFailure(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(1)
	chain.Next = 2
	seedDepths(chain, 1, []uint64{0, 1, 0})
	delete(chain.BotsAt[11], 1) // no snapshot at block 11 and no latest fallback
	h := newHarness(chain)

	if err := h.engine.BackfillNetwork(ctx, 1); err != nil {
		t.Fatalf("BackfillNetwork: %v", err)
	}
	if n := len(h.ledger.All()); n != 1 {
		t.Fatalf("expected walk to stop after 1 record, got %d", n)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 1, 1); p != 1 {
		t.Fatalf("expected progress persisted as period 1, got %d", p)
	}
}

func TestBackfill_FailingNetworkDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	good := testutil.NewFakeChain(137)
	good.Next = 2
	seedDepths(good, 1, []uint64{0})

	h := newHarness(good)
	h.engine.networks = testutil.NetworkList{{ChainID: 999}, {ChainID: 137}}

	if err := h.engine.Backfill(ctx); err == nil {
		t.Fatal("expected error from unknown network")
	}
	if n := len(h.ledger.All()); n != 1 {
		t.Fatalf("expected healthy network backfilled, got %d records", n)
	}
}

func TestStartBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(testutil.NewFakeChain(1))

	if b, err := h.engine.StartBlock(ctx, 1); err != nil || b != 1 {
		t.Fatalf("expected 1 for empty chain, got %d (%v)", b, err)
	}
	h.ledger.Insert(ctx, &models.Transaction{ChainID: 1, BlockNumber: 40, TransactionHash: "0xa"})
	h.ledger.Insert(ctx, &models.Transaction{ChainID: 1, BlockNumber: 12, TransactionHash: "0xb"})
	h.ledger.Insert(ctx, &models.Transaction{ChainID: 2, BlockNumber: 90, TransactionHash: "0xc"})
	if b, _ := h.engine.StartBlock(ctx, 1); b != 40 {
		t.Fatalf("expected 40, got %d", b)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		v        *big.Int
		decimals int32
		want     string
	}{
		{big.NewInt(12_345_678), 6, "12.345678"},
		{big.NewInt(5), 0, "0"},
		{nil, 6, "0"},
		{new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), 18, "1"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.v, tt.decimals).String(); got != tt.want {
			t.Errorf("Normalize(%v, %d) = %s, want %s", tt.v, tt.decimals, got, tt.want)
		}
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42.0 Sec"},
		{59960 * time.Millisecond, "1.0 Min"},
		{90 * time.Second, "1.5 Min"},
		{90 * time.Minute, "1.5 Hrs"},
		{36 * time.Hour, "1.5 Days"},
	}
	for _, tt := range tests {
		if got := HumanDuration(tt.d); got != tt.want {
			t.Errorf("HumanDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func record(chainID int64, botID uint64, period int, depth uint64, ts int64, hash string) *models.Transaction {
	return &models.Transaction{
		ChainID:         chainID,
		BotID:           botID,
		Period:          period,
		CurrentDepth:    depth,
		Timestamp:       ts,
		BlockNumber:     uint64(ts),
		TransactionHash: hash,
		EntryFunds:      decimal.NewFromInt(100),
		StableBalance:   decimal.NewFromInt(10),
		TokenBalance:    decimal.NewFromInt(100),
		SellOffPrice:    decimal.NewFromInt(1),
	}
}

func TestReports_PeriodFigures(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewMemLedger()
	ledger.Insert(ctx, record(1, 5, 1, 1, 1060, "0x2"))
	ledger.Insert(ctx, record(1, 5, 1, 0, 1000, "0x1"))
	ledger.Insert(ctx, record(1, 5, 2, 0, 1090, "0x3"))
	r := NewReports(ledger, testutil.NewMemBots(), testutil.Gateways{})

	txs, err := r.Transactions(ctx, 1, 5, 1)
	if err != nil || len(txs) != 2 || txs[0].CurrentDepth != 0 {
		t.Fatalf("expected 2 records ordered by depth, got %+v (%v)", txs, err)
	}

	tvl, err := r.PeriodTVL(ctx, 1, 5, 1)
	if err != nil || !tvl.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected TVL 110, got %s (%v)", tvl, err)
	}
	profit, err := r.PeriodProfit(ctx, 1, 5, 1)
	if err != nil || profit != "10.0000" {
		t.Fatalf("expected profit 10.0000, got %q (%v)", profit, err)
	}

	ts, err := r.Timestamps(ctx, 1, 5, 1)
	if err != nil {
		t.Fatalf("Timestamps: %v", err)
	}
	if ts.Start.Unix() != 1000 || ts.End.Unix() != 1090 || ts.Duration != "1.5 Min" {
		t.Fatalf("unexpected timestamps %+v", ts)
	}
	open, _ := r.Timestamps(ctx, 1, 5, 2)
	if open.Start.Unix() != 1090 || open.End.Unix() != 1090 || open.Duration != "0.0 Sec" {
		t.Fatalf("unexpected open period timestamps %+v", open)
	}
}

func TestReports_EmptyPeriod(t *testing.T) {
	ctx := context.Background()
	r := NewReports(testutil.NewMemLedger(), testutil.NewMemBots(), testutil.Gateways{})

	txs, err := r.Transactions(ctx, 1, 5, 3)
	if err != nil || txs == nil || len(txs) != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%v)", txs, err)
	}
	if _, err := r.PeriodTVL(ctx, 1, 5, 3); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.PeriodProfit(ctx, 1, 5, 3); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.TotalProfit(ctx, 1, 5); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	open, err := r.OpenPositions(ctx, 1, 5)
	if err != nil || len(open) != 0 {
		t.Fatalf("expected no open positions, got %v (%v)", open, err)
	}
}

func TestReports_PeriodsNewestFive(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewMemLedger()
	for p := 1; p <= 7; p++ {
		ledger.Insert(ctx, record(1, 5, p, 0, int64(p), common.BigToHash(big.NewInt(int64(p))).Hex()))
	}
	r := NewReports(ledger, testutil.NewMemBots(), testutil.Gateways{})

	got, err := r.Periods(ctx, 1, 5)
	if err != nil {
		t.Fatalf("Periods: %v", err)
	}
	if !equalInts(got, []int{7, 6, 5, 4, 3}) {
		t.Fatalf("expected [7 6 5 4 3], got %v", got)
	}
}

func TestReports_OpenPositionsAndTotalProfit(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewMemLedger()
	ledger.Insert(ctx, record(1, 5, 1, 0, 10, "0x1"))
	ledger.Insert(ctx, record(1, 5, 2, 0, 20, "0x2"))
	ledger.Insert(ctx, record(1, 5, 2, 1, 30, "0x3"))

	bots := testutil.NewMemBots()
	bots.Create(ctx, &models.Bot{ChainID: 1, ContractBotID: 5, CurrentPeriod: 2})

	chain := testutil.NewFakeChain(1)
	chain.Bots[5] = testutil.Snapshot(1)
	chain.SellOff = big.NewInt(2_000_000)
	r := NewReports(ledger, bots, testutil.Gateways{1: chain})

	open, err := r.OpenPositions(ctx, 1, 5)
	if err != nil || len(open) != 2 {
		t.Fatalf("expected 2 open positions, got %v (%v)", open, err)
	}

	// live: 50 stable + 1 token at 2.0 = 52 over entry 100
	total, err := r.TotalProfit(ctx, 1, 5)
	if err != nil || total != "0.5200" {
		t.Fatalf("expected 0.5200, got %q (%v)", total, err)
	}
}

func TestHandleEvent_InitializedOpensPeriod(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(137)
	chain.Bots[3] = testutil.Snapshot(0)
	h := newHarness(chain)

	init1 := testutil.RunSuccess(3, 50, "0x51")
	init1.Kind = ethereum.EventInitialized
	if err := h.engine.HandleEvent(ctx, chain, init1); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 137, 3); p != 1 {
		t.Fatalf("expected unknown bot registered at period 1, got %d", p)
	}

	run := testutil.RunSuccess(3, 51, "0x52")
	if err := h.engine.HandleEvent(ctx, chain, run); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	init2 := testutil.RunSuccess(3, 52, "0x53")
	init2.Kind = ethereum.EventInitialized
	if err := h.engine.HandleEvent(ctx, chain, init2); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// duplicate hash is ignored
	if err := h.engine.HandleEvent(ctx, chain, run); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// a reorg re-includes the first initialization at a later block
	replay := init1
	replay.BlockNumber = 60
	if err := h.engine.HandleEvent(ctx, chain, replay); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if got := periodsOf(h.ledger.All()); !equalInts(got, []int{1, 1, 2}) {
		t.Fatalf("expected periods [1 1 2], got %v", got)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 137, 3); p != 2 {
		t.Fatalf("expected period 2, got %d", p)
	}
}

func TestHandleEvent_PriceFailureStillRecords(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(1)
	chain.Bots[3] = testutil.Snapshot(1)
	chain.SellOffErr = testutil.ErrFakeRPC
	h := newHarness(chain)

	if err := h.engine.HandleEvent(ctx, chain, testutil.RunSuccess(3, 9, "0x99")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	txs := h.ledger.All()
	if len(txs) != 1 || !txs[0].SellOffPrice.IsZero() || txs[0].BuyInPrice.String() != "1" {
		t.Fatalf("unexpected record %+v", txs)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func botLog(kind common.Hash, botID uint64, block uint64, hash string, removed bool) types.Log {
	return types.Log{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Topics: []common.Hash{
			kind,
			common.HexToHash("0x00000000000000000000000000000000000000cc"),
			common.BigToHash(new(big.Int).SetUint64(botID)),
		},
		BlockNumber: block,
		TxHash:      common.HexToHash(hash),
		Removed:     removed,
	}
}

func TestListenNetwork_ResubscribesAndRecords(t *testing.T) {
	chain := testutil.NewFakeChain(137)
	chain.Bots[8] = testutil.Snapshot(0)
	chain.SubscribeFailures = 2
	h := newHarness(chain)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.ListenNetwork(ctx, 137)
		close(done)
	}()

	removed := botLog(ethereum.RunSuccessTopic, 8, 70, "0x70", true)
	waitFor(t, "live subscription", func() bool { return chain.Emit(removed) > 0 })
	if n := chain.Subscriptions(); n != 3 {
		t.Fatalf("expected 3 subscribe attempts, got %d", n)
	}

	chain.Emit(botLog(ethereum.InitializedTopic, 8, 71, "0x71", false))
	waitFor(t, "recorded event", func() bool { return len(h.ledger.All()) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ListenNetwork did not stop")
	}

	txs := h.ledger.All()
	if txs[0].TransactionHash != common.HexToHash("0x71").Hex() || txs[0].Period != 1 {
		t.Fatalf("unexpected record %+v", txs[0])
	}
}

func TestHandleEvent_RedeliveredInitializationKeepsPeriod(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(137)
	chain.Bots[4] = testutil.Snapshot(0)
	h := newHarness(chain)

	ev := testutil.RunSuccess(4, 50, "0x61")
	ev.Kind = ethereum.EventInitialized
	for _, block := range []uint64{50, 51, 52} {
		ev.BlockNumber = block
		if err := h.engine.HandleEvent(ctx, chain, ev); err != nil {
			t.Fatalf("HandleEvent at %d: %v", block, err)
		}
	}

	if n := len(h.ledger.All()); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
	if p, _ := h.bots.CurrentPeriod(ctx, 137, 4); p != 1 {
		t.Fatalf("expected period 1, got %d", p)
	}
}

func TestHandleLog_RemovedRecordedEventIsReported(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain(137)
	chain.Bots[8] = testutil.Snapshot(1)
	h := newHarness(chain)
	var out bytes.Buffer
	h.engine.log = slog.New(slog.NewTextHandler(&out, nil))

	if err := h.engine.HandleEvent(ctx, chain, testutil.RunSuccess(8, 70, "0x70")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	h.engine.handleLog(ctx, chain, botLog(ethereum.RunSuccessTopic, 8, 71, "0x71", true))
	if strings.Contains(out.String(), "level=WARN") {
		t.Fatalf("unrecorded removed log should not warn: %s", out.String())
	}

	h.engine.handleLog(ctx, chain, botLog(ethereum.RunSuccessTopic, 8, 70, "0x70", true))
	if !strings.Contains(out.String(), "level=WARN") || !strings.Contains(out.String(), "removed by a reorg") {
		t.Fatalf("expected a warning for the orphaned record, got: %s", out.String())
	}

	txs := h.ledger.All()
	if len(txs) != 1 || txs[0].BlockNumber != 70 {
		t.Fatalf("record must be kept unchanged, got %+v", txs)
	}
}

func TestRun_FollowsNetworkAfterItsBackfill(t *testing.T) {
	good := testutil.NewFakeChain(137)
	good.Next = 2
	seedDepths(good, 1, []uint64{0})
	good.Bots[1] = testutil.Snapshot(0)

	h := newHarness(good)
	h.engine.networks = testutil.NetworkList{{ChainID: 999}, {ChainID: 137}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, true, true) }()

	waitFor(t, "backfill", func() bool { return len(h.ledger.All()) == 1 })

	live := botLog(ethereum.InitializedTopic, 1, 80, "0x80", false)
	waitFor(t, "live subscription", func() bool { return good.Emit(live) > 0 })
	waitFor(t, "live record", func() bool { return len(h.ledger.All()) == 2 })

	cancel()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "chain 999") {
			t.Fatalf("expected the failing network reported, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if got := periodsOf(h.ledger.All()); !equalInts(got, []int{1, 2}) {
		t.Fatalf("expected periods [1 2], got %v", got)
	}
}
