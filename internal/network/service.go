// Package network manages chain configuration and one cached gateway per chain.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/ethereum"
	"github.com/kjannette/trahn-keeper/internal/models"
	"golang.org/x/sync/singleflight"
)

const probeTimeout = 10 * time.Second

type Store interface {
	Create(ctx context.Context, n *models.Network) (*models.Network, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Network, error)
	GetByChainID(ctx context.Context, chainID int64) (*models.Network, error)
	List(ctx context.Context) ([]models.Network, error)
	Update(ctx context.Context, id uuid.UUID, u models.NetworkUpdate) (*models.Network, error)
	Delete(ctx context.Context, chainID int64) error
}

// Dialer opens a gateway for a stored network.
type Dialer func(ctx context.Context, n *models.Network) (ethereum.Chain, error)

// Prober returns the chain id served at rpcURL.
type Prober func(ctx context.Context, rpcURL string) (int64, error)

func DialGateway(ctx context.Context, n *models.Network) (ethereum.Chain, error) {
	gw, err := ethereum.Dial(ctx, n.PrimaryRPC(), n.ChainID,
		common.HexToAddress(n.TraderContractAddress),
		common.HexToAddress(n.ManagerContractAddress))
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func ProbeRPC(ctx context.Context, rpcURL string) (int64, error) {
	return ethereum.ProbeChainID(ctx, rpcURL, probeTimeout)
}

type Service struct {
	store Store
	dial  Dialer
	probe Prober
	log   *slog.Logger

	mu       sync.Mutex
	gateways map[int64]ethereum.Chain
	group    singleflight.Group
}

func NewService(store Store, dial Dialer, probe Prober, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		dial:     dial,
		probe:    probe,
		log:      log.With("component", "network"),
		gateways: make(map[int64]ethereum.Chain),
	}
}

// Create registers a network after checking the chain id is new, the
// primary RPC answers for that chain, and both contract addresses are
// checksummed.
func (s *Service) Create(ctx context.Context, n models.Network) (*models.Network, error) {
	if _, err := s.store.GetByChainID(ctx, n.ChainID); err == nil {
		return nil, apperr.PreconditionFailed("network %d already created", n.ChainID)
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	if n.PrimaryRPC() == "" {
		return nil, apperr.PreconditionFailed("at least one RPC endpoint is required")
	}
	served, err := s.probe(ctx, n.PrimaryRPC())
	if err != nil {
		s.log.Warn("rpc probe failed", "chain_id", n.ChainID, "rpc", n.PrimaryRPC(), "error", err)
		return nil, apperr.PreconditionFailed("could not connect to RPC")
	}
	if served != n.ChainID {
		return nil, apperr.PreconditionFailed("RPC serves chain %d, not %d", served, n.ChainID)
	}

	if err := validateAddresses(n.TraderContractAddress, n.ManagerContractAddress); err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &n)
	if err != nil {
		return nil, err
	}
	s.log.Info("network created", "chain_id", created.ChainID, "symbol", created.Symbol)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, u models.NetworkUpdate) (*models.Network, error) {
	var addrs []string
	if u.TraderContractAddress != nil {
		addrs = append(addrs, *u.TraderContractAddress)
	}
	if u.ManagerContractAddress != nil {
		addrs = append(addrs, *u.ManagerContractAddress)
	}
	if err := validateAddresses(addrs...); err != nil {
		return nil, err
	}

	n, err := s.store.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	s.evict(n.ChainID)
	return n, nil
}

// Remove fails with Conflict while bots reference the network.
func (s *Service) Remove(ctx context.Context, chainID int64) error {
	if err := s.store.Delete(ctx, chainID); err != nil {
		return err
	}
	s.evict(chainID)
	return nil
}

func (s *Service) Get(ctx context.Context, chainID int64) (*models.Network, error) {
	return s.store.GetByChainID(ctx, chainID)
}

func (s *Service) List(ctx context.Context) ([]models.Network, error) {
	return s.store.List(ctx)
}

// Gateway returns the cached gateway for chainID, dialing the primary RPC
// on first use. Concurrent first calls share one dial.
func (s *Service) Gateway(ctx context.Context, chainID int64) (ethereum.Chain, error) {
	s.mu.Lock()
	gw, ok := s.gateways[chainID]
	s.mu.Unlock()
	if ok {
		return gw, nil
	}

	v, err, _ := s.group.Do(strconv.FormatInt(chainID, 10), func() (any, error) {
		s.mu.Lock()
		if gw, ok := s.gateways[chainID]; ok {
			s.mu.Unlock()
			return gw, nil
		}
		s.mu.Unlock()

		n, err := s.store.GetByChainID(ctx, chainID)
		if err != nil {
			return nil, err
		}
		gw, err := s.dial(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("gateway for chain %d: %w", chainID, err)
		}

		s.mu.Lock()
		s.gateways[chainID] = gw
		s.mu.Unlock()
		s.log.Info("gateway connected", "chain_id", chainID, "rpc", n.PrimaryRPC())
		return gw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ethereum.Chain), nil
}

// Close releases every cached gateway.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, gw := range s.gateways {
		gw.Close()
		delete(s.gateways, id)
	}
}

func (s *Service) evict(chainID int64) {
	s.mu.Lock()
	gw, ok := s.gateways[chainID]
	delete(s.gateways, chainID)
	s.mu.Unlock()
	if ok {
		gw.Close()
	}
}

func validateAddresses(addrs ...string) error {
	for _, a := range addrs {
		if !ethereum.IsChecksumAddress(a) {
			return apperr.PreconditionFailed("invalid contract address %q", a)
		}
	}
	return nil
}
