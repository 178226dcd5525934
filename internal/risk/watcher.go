package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/internal/oracle"
	"dex-core/internal/order"
	"dex-core/pkg/db"
)

// Decision is the outcome of checking one position against its order's
// exit thresholds.
type Decision struct {
	PositionID string
	Triggered  bool
	Reason     string
	PnLPct     decimal.Decimal
}

// Seller is the exit path; the watcher never swaps on its own.
type Seller interface {
	ExecuteSell(ctx context.Context, userID, positionID, walletID string) (*order.Receipt, error)
}

// PositionBook is the open-position view the watcher evaluates.
type PositionBook interface {
	Open() []db.Position
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*db.Position, error)
}

// PriceSource supplies current reference prices.
type PriceSource interface {
	GetPrice(ctx context.Context, t *db.Token) (*oracle.Quote, error)
}

// Watcher polls open positions, refreshes their unrealized PnL, and
// closes them when a take-profit or stop-loss threshold is crossed.
type Watcher struct {
	book     PositionBook
	prices   PriceSource
	store    db.Store
	seller   Seller
	interval time.Duration

	// selling tracks positions with an exit already in flight so slow
	// sells are not re-triggered on the next tick.
	mu      sync.Mutex
	selling map[string]struct{}
}

func NewWatcher(book PositionBook, prices PriceSource, store db.Store, seller Seller, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watcher{
		book:     book,
		prices:   prices,
		store:    store,
		seller:   seller,
		interval: interval,
		selling:  make(map[string]struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	log.Printf("✓ risk watcher started, interval %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep evaluates every open position once.
func (w *Watcher) Sweep(ctx context.Context) {
	for _, pos := range w.book.Open() {
		if w.exitInFlight(pos.ID) {
			continue
		}

		tok, err := w.store.GetToken(ctx, pos.TokenAddress)
		if err != nil {
			log.Printf("risk: token %s: %v", pos.TokenAddress, err)
			continue
		}
		quote, err := w.prices.GetPrice(ctx, tok)
		if err != nil {
			// Stale price means no decision this tick; never exit blind.
			log.Printf("risk: no price for %s: %v", tok.Symbol, err)
			continue
		}

		updated, err := w.book.UpdatePrice(ctx, pos.ID, quote.InBase)
		if err != nil {
			log.Printf("risk: update position %s: %v", pos.ID, err)
			continue
		}

		ord, err := w.store.GetOrder(ctx, pos.OrderID)
		if err != nil {
			log.Printf("risk: order %s: %v", pos.OrderID, err)
			continue
		}

		decision := Evaluate(updated, ord)
		if !decision.Triggered {
			continue
		}
		log.Printf("risk: %s for position %s (pnl %s%%)", decision.Reason, pos.ID, decision.PnLPct.StringFixed(2))

		w.markExit(pos.ID)
		go func(p *db.Position) {
			defer w.clearExit(p.ID)
			if _, err := w.seller.ExecuteSell(ctx, p.UserID, p.ID, p.WalletID); err != nil {
				log.Printf("⚠️ risk: exit for position %s failed: %v", p.ID, err)
			}
		}(updated)
	}
}

func (w *Watcher) exitInFlight(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, busy := w.selling[id]
	return busy
}

func (w *Watcher) markExit(id string) {
	w.mu.Lock()
	w.selling[id] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) clearExit(id string) {
	w.mu.Lock()
	delete(w.selling, id)
	w.mu.Unlock()
}

// Evaluate applies an order's exit thresholds to a position's current
// PnL. A zero threshold means that side is disabled.
func Evaluate(pos *db.Position, ord *db.Order) Decision {
	d := Decision{PositionID: pos.ID, PnLPct: pos.PnLPct}
	if ord.TakeProfitPct > 0 && pos.PnLPct.GreaterThanOrEqual(decimal.NewFromFloat(ord.TakeProfitPct)) {
		d.Triggered = true
		d.Reason = fmt.Sprintf("take profit at %.2f%%", ord.TakeProfitPct)
		return d
	}
	if ord.StopLossPct > 0 && pos.PnLPct.LessThanOrEqual(decimal.NewFromFloat(-ord.StopLossPct)) {
		d.Triggered = true
		d.Reason = fmt.Sprintf("stop loss at -%.2f%%", ord.StopLossPct)
		return d
	}
	return d
}
