package balance

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/pkg/cache"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// ChainBalancer reads native wei balances from the node.
type ChainBalancer interface {
	BalanceAt(ctx context.Context, addr evm.Address) (*big.Int, error)
}

// Manager serves wallet base-currency balances with a short TTL cache
// so pre-flight checks do not hammer the node. Swap completion must
// call Invalidate so the next check sees the spent funds.
type Manager struct {
	chain ChainBalancer
	store db.Store
	cache *cache.TTLCache
	ttl   time.Duration
}

func NewManager(chain ChainBalancer, store db.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Manager{chain: chain, store: store, cache: cache.New(), ttl: ttl}
}

// Available returns the wallet's spendable base balance. Fresh reads
// are mirrored to the store best-effort for dashboards.
func (m *Manager) Available(ctx context.Context, w *db.Wallet) (decimal.Decimal, error) {
	if v, ok := m.cache.Get(w.Address); ok {
		return v.(decimal.Decimal), nil
	}

	wei, err := m.chain.BalanceAt(ctx, evm.Address(w.Address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", w.Address, err)
	}
	bal := evm.FromWei(wei, evm.BaseDecimals)
	m.cache.Set(w.Address, bal, m.ttl)

	if err := m.store.UpdateWalletBalance(ctx, w.ID, bal); err != nil {
		log.Printf("balance: mirror for wallet %s failed: %v", w.ID, err)
	}
	return bal, nil
}

// Invalidate drops the cached balance so the next read hits the node.
func (m *Manager) Invalidate(address string) {
	m.cache.Delete(address)
}
