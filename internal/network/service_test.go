package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/kjannette/trahn-keeper/internal/testutil"
)

const (
	trader  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	manager = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type memStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Network
}

func newMemStore() *memStore { return &memStore{byID: map[uuid.UUID]*models.Network{}} }

func (m *memStore) Create(_ context.Context, n *models.Network) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	c := *n
	m.byID[n.ID] = &c
	return &c, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.byID[id]; ok {
		c := *n
		return &c, nil
	}
	return nil, apperr.NotFound("network %s", id)
}

func (m *memStore) GetByChainID(_ context.Context, chainID int64) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.byID {
		if n.ChainID == chainID {
			c := *n
			return &c, nil
		}
	}
	return nil, apperr.NotFound("network %d", chainID)
}

func (m *memStore) List(context.Context) ([]models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Network
	for _, n := range m.byID {
		out = append(out, *n)
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, id uuid.UUID, u models.NetworkUpdate) (*models.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("network %s", id)
	}
	if u.Symbol != nil {
		n.Symbol = *u.Symbol
	}
	if u.TraderContractAddress != nil {
		n.TraderContractAddress = *u.TraderContractAddress
	}
	if u.RPC != nil {
		n.RPC = u.RPC
	}
	c := *n
	return &c, nil
}

func (m *memStore) Delete(_ context.Context, chainID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.byID {
		if n.ChainID == chainID {
			delete(m.byID, id)
			return nil
		}
	}
	return apperr.NotFound("network %d", chainID)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func probeServing(chainID int64) Prober {
	return func(context.Context, string) (int64, error) { return chainID, nil }
}

func fakeDialer(dials *atomic.Int32) Dialer {
	return func(_ context.Context, n *models.Network) (ethereum.Chain, error) {
		dials.Add(1)
		return testutil.NewFakeChain(n.ChainID), nil
	}
}

func validNetwork() models.Network {
	return models.Network{
		ChainID:                137,
		TraderContractAddress:  trader,
		ManagerContractAddress: manager,
		RPC:                    []string{"wss://polygon.example"},
		Symbol:                 "MATIC",
	}
}

func TestCreate(t *testing.T) {
	var dials atomic.Int32
	svc := NewService(newMemStore(), fakeDialer(&dials), probeServing(137), quietLogger())
	ctx := context.Background()

	n, err := svc.Create(ctx, validNetwork())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID == uuid.Nil {
		t.Fatal("expected an id")
	}

	if _, err := svc.Create(ctx, validNetwork()); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("duplicate chain: expected PreconditionFailed, got %v", err)
	}
}

func TestCreate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		probe  Prober
		mutate func(n *models.Network)
	}{
		{"unreachable rpc", func(context.Context, string) (int64, error) { return 0, errors.New("dial") }, func(*models.Network) {}},
		{"wrong chain", probeServing(1), func(*models.Network) {}},
		{"no rpc", probeServing(137), func(n *models.Network) { n.RPC = nil }},
		{"lowercase trader", probeServing(137), func(n *models.Network) { n.TraderContractAddress = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" }},
		{"bad manager", probeServing(137), func(n *models.Network) { n.ManagerContractAddress = "0x123" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dials atomic.Int32
			svc := NewService(newMemStore(), fakeDialer(&dials), tc.probe, quietLogger())
			n := validNetwork()
			tc.mutate(&n)
			if _, err := svc.Create(context.Background(), n); !errors.Is(err, apperr.ErrPreconditionFailed) {
				t.Fatalf("expected PreconditionFailed, got %v", err)
			}
		})
	}
}

func TestGateway_CachesAndEvicts(t *testing.T) {
	var dials atomic.Int32
	svc := NewService(newMemStore(), fakeDialer(&dials), probeServing(137), quietLogger())
	ctx := context.Background()

	n, err := svc.Create(ctx, validNetwork())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Gateway(ctx, 137); err != nil {
				t.Errorf("Gateway: %v", err)
			}
		}()
	}
	wg.Wait()
	if dials.Load() != 1 {
		t.Fatalf("expected a single dial, got %d", dials.Load())
	}

	symbol := "POL"
	if _, err := svc.Update(ctx, n.ID, models.NetworkUpdate{Symbol: &symbol}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.Gateway(ctx, 137); err != nil {
		t.Fatalf("Gateway after update: %v", err)
	}
	if dials.Load() != 2 {
		t.Fatalf("update must evict the cached gateway, dials=%d", dials.Load())
	}

	if _, err := svc.Gateway(ctx, 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown chain: expected NotFound, got %v", err)
	}
}

func TestUpdate_ValidatesAddresses(t *testing.T) {
	var dials atomic.Int32
	svc := NewService(newMemStore(), fakeDialer(&dials), probeServing(137), quietLogger())
	n, _ := svc.Create(context.Background(), validNetwork())

	bad := "0xnope"
	if _, err := svc.Update(context.Background(), n.ID, models.NetworkUpdate{TraderContractAddress: &bad}); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
}
