package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
)

// MemBots is an in-memory bot registry with the same semantics as
// repository.BotRepo.
type MemBots struct {
	mu   sync.Mutex
	bots map[uuid.UUID]*models.Bot
}

func NewMemBots() *MemBots {
	return &MemBots{bots: make(map[uuid.UUID]*models.Bot)}
}

func (m *MemBots) find(chainID int64, botID uint64) *models.Bot {
	for _, b := range m.bots {
		if b.ChainID == chainID && b.ContractBotID == botID {
			return b
		}
	}
	return nil
}

func (m *MemBots) Create(_ context.Context, b *models.Bot) (*models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(b.ChainID, b.ContractBotID) != nil {
		return nil, apperr.PreconditionFailed("bot #%d already exists on chain %d", b.ContractBotID, b.ChainID)
	}
	c := *b
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.IsLocked = false
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.bots[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MemBots) Get(_ context.Context, id uuid.UUID) (*models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, apperr.NotFound("bot %s", id)
	}
	c := *b
	return &c, nil
}

func (m *MemBots) GetByChainAndBotID(_ context.Context, chainID int64, botID uint64) (*models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.find(chainID, botID)
	if b == nil {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (m *MemBots) List(context.Context) ([]models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Bot, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChainID != out[j].ChainID {
			return out[i].ChainID < out[j].ChainID
		}
		return out[i].ContractBotID < out[j].ContractBotID
	})
	return out, nil
}

func (m *MemBots) ListRestartable(ctx context.Context) ([]models.Bot, error) {
	all, _ := m.List(ctx)
	var out []models.Bot
	for _, b := range all {
		if b.EnableRestart {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemBots) Update(_ context.Context, id uuid.UUID, u models.BotUpdate) (*models.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, apperr.NotFound("bot %s", id)
	}
	if u.IsRunning != nil {
		b.IsRunning = *u.IsRunning
	}
	if u.EnableRestart != nil {
		b.EnableRestart = *u.EnableRestart
	}
	if u.IsLocked != nil {
		b.IsLocked = *u.IsLocked
	}
	if u.CurrentPeriod != nil {
		b.CurrentPeriod = *u.CurrentPeriod
	}
	b.UpdatedAt = time.Now()
	c := *b
	return &c, nil
}

func (m *MemBots) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return apperr.NotFound("bot %s", id)
	}
	if b.IsRunning {
		return apperr.Conflict("bot #%d on chain %d is running", b.ContractBotID, b.ChainID)
	}
	delete(m.bots, id)
	return nil
}

func (m *MemBots) TryLock(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok || b.IsLocked {
		return false, nil
	}
	b.IsLocked = true
	return true, nil
}

func (m *MemBots) Unlock(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bots[id]; ok {
		b.IsLocked = false
	}
	return nil
}

func (m *MemBots) UnlockAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bots {
		if b.IsLocked {
			b.IsLocked = false
			n++
		}
	}
	return n, nil
}

func (m *MemBots) IncrementPeriod(_ context.Context, chainID int64, botID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.find(chainID, botID)
	if b == nil {
		return 0, apperr.NotFound("bot #%d on chain %d", botID, chainID)
	}
	b.CurrentPeriod++
	return b.CurrentPeriod, nil
}

func (m *MemBots) SetPeriod(_ context.Context, chainID int64, botID uint64, period int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.find(chainID, botID)
	if b == nil {
		return apperr.NotFound("bot #%d on chain %d", botID, chainID)
	}
	b.CurrentPeriod = period
	return nil
}

func (m *MemBots) CurrentPeriod(_ context.Context, chainID int64, botID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.find(chainID, botID); b != nil {
		return b.CurrentPeriod, nil
	}
	return 0, nil
}

// MemLedger is an in-memory transaction ledger with the same semantics as
// repository.TransactionRepo.
type MemLedger struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func NewMemLedger() *MemLedger { return &MemLedger{} }

func (l *MemLedger) All() []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Transaction(nil), l.txs...)
}

func (l *MemLedger) Exists(_ context.Context, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exists(hash), nil
}

func (l *MemLedger) exists(hash string) bool {
	for _, t := range l.txs {
		if t.TransactionHash == hash {
			return true
		}
	}
	return false
}

func (l *MemLedger) Insert(_ context.Context, t *models.Transaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exists(t.TransactionHash) {
		return false, nil
	}
	c := *t
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	l.txs = append(l.txs, c)
	return true, nil
}

func (l *MemLedger) MaxBlockNumber(_ context.Context, chainID int64) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var max uint64
	found := false
	for _, t := range l.txs {
		if t.ChainID == chainID && (!found || t.BlockNumber > max) {
			max, found = t.BlockNumber, true
		}
	}
	return max, found, nil
}

func (l *MemLedger) FindByPeriod(_ context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, t := range l.txs {
		if t.ChainID == chainID && t.BotID == botID && t.Period == period {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CurrentDepth != out[j].CurrentDepth {
			return out[i].CurrentDepth < out[j].CurrentDepth
		}
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].TransactionIndex < out[j].TransactionIndex
	})
	return out, nil
}

func (l *MemLedger) Periods(_ context.Context, chainID int64, botID uint64, limit int) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[int]bool{}
	var out []int
	for _, t := range l.txs {
		if t.ChainID == chainID && t.BotID == botID && !seen[t.Period] {
			seen[t.Period] = true
			out = append(out, t.Period)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemLedger) MinPeriod(_ context.Context, chainID int64, botID uint64) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	min, found := 0, false
	for _, t := range l.txs {
		if t.ChainID == chainID && t.BotID == botID && (!found || t.Period < min) {
			min, found = t.Period, true
		}
	}
	return min, found, nil
}

// NetworkList is a fixed NetworkLister.
type NetworkList []models.Network

func (n NetworkList) List(context.Context) ([]models.Network, error) {
	return append([]models.Network(nil), n...), nil
}
