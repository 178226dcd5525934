// Package position keeps the authoritative in-memory set of open
// positions, synced to durable storage. Memory is authoritative at
// runtime; the store is authoritative only at process start.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/internal/events"
	"dex-core/internal/monitor"
	"dex-core/pkg/db"
)

// ErrNotHydrated rejects mutations before startup hydration completes.
var ErrNotHydrated = errors.New("position ledger not hydrated")

// ErrUnknownPosition is returned for ids not resident in the live set.
var ErrUnknownPosition = errors.New("position not tracked")

// Ledger is the live view of open positions.
type Ledger struct {
	store   db.Store
	bus     *events.Bus
	metrics *monitor.Metrics

	mu        sync.RWMutex
	positions map[string]db.Position
	hydrated  bool
}

// NewLedger constructs an empty, unhydrated ledger.
func NewLedger(store db.Store, bus *events.Bus, metrics *monitor.Metrics) *Ledger {
	return &Ledger{
		store:     store,
		bus:       bus,
		metrics:   metrics,
		positions: make(map[string]db.Position),
	}
}

// Load seeds the live set from durable storage. Must complete before
// any Add; execution is gated on it.
func (l *Ledger) Load(ctx context.Context) error {
	open, err := l.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("hydrate positions: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range open {
		l.positions[p.ID] = p
	}
	l.hydrated = true
	log.Printf("✓ position ledger hydrated: %d open positions", len(open))
	return nil
}

// Add registers a freshly opened position: memory first, then the
// durable write (retried once, escalated loudly on repeat failure).
func (l *Ledger) Add(ctx context.Context, p *db.Position) error {
	l.mu.Lock()
	if !l.hydrated {
		l.mu.Unlock()
		return ErrNotHydrated
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	l.positions[p.ID] = *p
	l.mu.Unlock()

	l.persist(ctx, p.ID, func() error { return l.store.InsertPosition(ctx, p) })
	l.bus.Publish(events.EventPositionOpened, *p)
	return nil
}

// UpdatePrice recomputes PnL against a fresh price and syncs storage.
// PnL% is (price-buy)/buy ×100; PnL(base) is amountOut×(price-buy).
func (l *Ledger) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*db.Position, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrUnknownPosition
	}
	diff := price.Sub(p.BuyPrice)
	if p.BuyPrice.IsZero() {
		p.PnLPct = decimal.Zero
	} else {
		p.PnLPct = diff.DivRound(p.BuyPrice, 8).Mul(decimal.NewFromInt(100))
	}
	p.PnLBase = p.AmountOutToken.Mul(diff)
	p.UpdatedAt = time.Now()
	l.positions[id] = p
	l.mu.Unlock()

	l.persist(ctx, id, func() error { return l.store.UpdatePositionPnL(ctx, id, p.PnLPct, p.PnLBase) })
	return &p, nil
}

// Close finalizes a position at its sell price, persists the outcome
// and evicts it from the live set.
func (l *Ledger) Close(ctx context.Context, id string, sellPrice decimal.Decimal, sellTxHash string) (*db.Position, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrUnknownPosition
	}
	diff := sellPrice.Sub(p.BuyPrice)
	if p.BuyPrice.IsZero() {
		p.PnLPct = decimal.Zero
	} else {
		p.PnLPct = diff.DivRound(p.BuyPrice, 8).Mul(decimal.NewFromInt(100))
	}
	p.PnLBase = p.AmountOutToken.Mul(diff)
	p.Status = db.PositionClosed
	p.SellPrice = sellPrice
	p.SellTxHash = sellTxHash
	p.UpdatedAt = time.Now()
	delete(l.positions, id)
	l.mu.Unlock()

	l.persist(ctx, id, func() error {
		return l.store.ClosePosition(ctx, id, sellPrice, sellTxHash, p.PnLPct, p.PnLBase)
	})
	l.bus.Publish(events.EventPositionClosed, p)
	return &p, nil
}

// Get returns a copy of a live position.
func (l *Ledger) Get(id string) (*db.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return nil, false
	}
	return &p, true
}

// ByUser returns the user's open positions. Linear scan: only open
// positions are resident.
func (l *Ledger) ByUser(userID string) []db.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []db.Position
	for _, p := range l.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

// ByOrder returns open positions created by an order.
func (l *Ledger) ByOrder(orderID string) []db.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []db.Position
	for _, p := range l.positions {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

// Open returns a snapshot of every live position.
func (l *Ledger) Open() []db.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]db.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// persist runs a durable write, retrying once. Memory already holds
// the truth; a second failure is surfaced to operators, not to callers.
func (l *Ledger) persist(ctx context.Context, id string, write func() error) {
	err := write()
	if err == nil {
		return
	}
	log.Printf("ledger: durable write for %s failed, retrying: %v", id, err)
	if err = write(); err == nil {
		return
	}
	l.metrics.PersistenceFailures.Inc()
	l.bus.Publish(events.EventPersistenceDegraded, fmt.Sprintf("position %s: %v", id, err))
	log.Printf("⚠️ ledger: durable write for %s failed after retry, store lags memory: %v", id, err)
}
