package db

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory implements Store with in-memory maps. Used for testing and
// development; nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	orders    map[string]Order
	wallets   map[string]Wallet
	tokens    map[string]Token
	positions map[string]Position
	logs      map[string]TransactionLog
	logOrder  []string

	// FailWrites makes every mutating call fail; tests use it to
	// exercise persistence-error escalation paths.
	FailWrites error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]Order),
		wallets:   make(map[string]Wallet),
		tokens:    make(map[string]Token),
		positions: make(map[string]Position),
		logs:      make(map[string]TransactionLog),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) failing() error {
	return m.FailWrites
}

func (m *Memory) CreateOrder(_ context.Context, o *Order) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.orders[o.ID] = cp
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (m *Memory) SetOrderActive(_ context.Context, id string, active bool) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Active = active
	m.orders[id] = o
	return nil
}

func (m *Memory) CreateWallet(_ context.Context, w *Wallet) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.wallets[w.ID] = cp
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := w
	return &cp, nil
}

func (m *Memory) UpdateWalletBalance(_ context.Context, id string, balance decimal.Decimal) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.BalanceBase = balance
	w.BalanceAt = time.Now()
	m.wallets[id] = w
	return nil
}

func (m *Memory) GetToken(_ context.Context, address string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (m *Memory) UpsertToken(_ context.Context, t *Token) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.CheckedAt = time.Now()
	m.tokens[t.Address] = cp
	return nil
}

func (m *Memory) InsertPosition(_ context.Context, p *Position) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	m.positions[p.ID] = cp
	return nil
}

func (m *Memory) GetPosition(_ context.Context, id string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *Memory) UpdatePositionPnL(_ context.Context, id string, pnlPct, pnlBase decimal.Decimal) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return ErrNotFound
	}
	p.PnLPct = pnlPct
	p.PnLBase = pnlBase
	p.UpdatedAt = time.Now()
	m.positions[id] = p
	return nil
}

func (m *Memory) ClosePosition(_ context.Context, id string, sellPrice decimal.Decimal, sellTxHash string, pnlPct, pnlBase decimal.Decimal) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = PositionClosed
	p.SellPrice = sellPrice
	p.SellTxHash = sellTxHash
	p.PnLPct = pnlPct
	p.PnLBase = pnlBase
	p.UpdatedAt = time.Now()
	m.positions[id] = p
	return nil
}

func (m *Memory) ListOpenPositions(_ context.Context) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Position
	for _, p := range m.positions {
		if p.Status != PositionClosed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) InsertTransactionLog(_ context.Context, l *TransactionLog) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.logs[l.ID] = cp
	m.logOrder = append(m.logOrder, l.ID)
	return nil
}

func (m *Memory) SetTransactionLogStatus(_ context.Context, id, status string) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	m.logs[id] = l
	return nil
}

func (m *Memory) SetTransactionLogTxHash(_ context.Context, id, txHash string) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.TxHash = txHash
	m.logs[id] = l
	return nil
}

func (m *Memory) BumpTransactionLogAttempts(_ context.Context, id string) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.Attempts++
	m.logs[id] = l
	return nil
}

func (m *Memory) ListTransactionLogsByStatus(_ context.Context, status string) ([]TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TransactionLog
	for _, id := range m.logOrder {
		if l := m.logs[id]; l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

// AllTransactionLogs returns every log row in insertion order (tests).
func (m *Memory) AllTransactionLogs() []TransactionLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TransactionLog, 0, len(m.logOrder))
	for _, id := range m.logOrder {
		out = append(out, m.logs[id])
	}
	return out
}
