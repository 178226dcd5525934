package reconciliation

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dex-core/internal/events"
	"dex-core/internal/monitor"
	"dex-core/internal/position"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// maxAttempts bounds re-checks of a hash that never lands in a block.
const maxAttempts = 10

// ChainReader is the receipt and balance surface reconciliation needs.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, hash evm.Hash) (*evm.Receipt, error)
	TokenBalanceOf(ctx context.Context, token, owner evm.Address) (*big.Int, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp time.Time
	Checked   int
	Applied   int
	Reverted  int
	Unknown   int
}

// Service re-checks failed execution attempts that carry a submitted
// transaction hash. A confirmation timeout does not mean the chain
// dropped the transaction; when the receipt eventually shows success
// the pass completes the bookkeeping the executor could not.
type Service struct {
	chain    ChainReader
	store    db.Store
	ledger   *position.Ledger
	bus      *events.Bus
	metrics  *monitor.Metrics
	interval time.Duration
	mu       sync.Mutex
}

func NewService(chain ChainReader, store db.Store, ledger *position.Ledger, bus *events.Bus, metrics *monitor.Metrics, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Service{
		chain:    chain,
		store:    store,
		ledger:   ledger,
		bus:      bus,
		metrics:  metrics,
		interval: interval,
	}
}

// Start runs periodic passes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Printf("✓ reconciliation started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := s.Reconcile(ctx); err != nil {
				log.Printf("reconciliation pass failed: %v", err)
			} else if report.Applied > 0 {
				log.Printf("✓ reconciliation applied %d of %d checked", report.Applied, report.Checked)
			}
		}
	}
}

// Reconcile runs one pass over FAILED logs that have a hash.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := s.store.ListTransactionLogsByStatus(ctx, db.LogFailed)
	if err != nil {
		return nil, err
	}

	report := &Report{Timestamp: time.Now().UTC()}
	for i := range logs {
		l := &logs[i]
		if l.TxHash == "" || l.Attempts >= maxAttempts {
			continue
		}
		report.Checked++

		receipt, err := s.chain.TransactionReceipt(ctx, evm.Hash(l.TxHash))
		if err != nil {
			log.Printf("reconciliation: receipt %s: %v", l.TxHash, err)
			continue
		}
		if receipt == nil {
			// Still not mined. Count the look so a hash the chain never
			// saw stops being polled eventually.
			report.Unknown++
			if err := s.store.BumpTransactionLogAttempts(ctx, l.ID); err != nil {
				log.Printf("reconciliation: bump attempts %s: %v", l.ID, err)
			}
			continue
		}
		if receipt.Status == 0 {
			// Genuinely reverted; FAILED stands.
			report.Reverted++
			s.metrics.ReconciliationsTotal.WithLabelValues("reverted").Inc()
			continue
		}

		if err := s.apply(ctx, l, receipt); err != nil {
			log.Printf("⚠️ reconciliation: apply %s: %v", l.TxHash, err)
			continue
		}
		report.Applied++
		s.metrics.ReconciliationsTotal.WithLabelValues("applied").Inc()
		s.bus.Publish(events.EventReconciliationApplied, l.TxHash)
	}
	return report, nil
}

// apply completes the bookkeeping for a confirmed-after-timeout swap.
func (s *Service) apply(ctx context.Context, l *db.TransactionLog, receipt *evm.Receipt) error {
	switch l.Side {
	case db.SideBuy:
		if err := s.adoptBuy(ctx, l); err != nil {
			return err
		}
	case db.SideSell:
		if l.PositionID != "" {
			// Realized sell price is unrecoverable here; close at the
			// position's last known price so the book stops carrying it.
			if p, ok := s.ledger.Get(l.PositionID); ok {
				lastPrice := p.BuyPrice
				if _, err := s.ledger.Close(ctx, l.PositionID, lastPrice, l.TxHash); err != nil {
					return err
				}
			}
		}
	}
	return s.store.SetTransactionLogStatus(ctx, l.ID, db.LogReconciled)
}

// adoptBuy opens the position the timed-out buy actually created. The
// output amount is the wallet's current token balance minus whatever
// other tracked positions already account for.
func (s *Service) adoptBuy(ctx context.Context, l *db.TransactionLog) error {
	// A prior pass may have adopted this hash and then failed the
	// status write; adoption must not repeat.
	for _, p := range s.ledger.Open() {
		if p.BuyTxHash == l.TxHash {
			return nil
		}
	}

	wallet, err := s.store.GetWallet(ctx, l.WalletID)
	if err != nil {
		return err
	}
	tok, err := s.store.GetToken(ctx, l.TokenAddress)
	if err != nil {
		return err
	}
	raw, err := s.chain.TokenBalanceOf(ctx, evm.Address(l.TokenAddress), evm.Address(wallet.Address))
	if err != nil {
		return err
	}
	amountOut := evm.FromWei(raw, tok.Decimals)
	for _, p := range s.ledger.Open() {
		if p.WalletID == l.WalletID && p.TokenAddress == l.TokenAddress {
			amountOut = amountOut.Sub(p.AmountOutToken)
		}
	}
	if amountOut.IsNegative() {
		amountOut = decimal.Zero
	}

	buyPrice := decimal.Zero
	if !amountOut.IsZero() {
		buyPrice = l.AmountBase.DivRound(amountOut, 18)
	}
	return s.ledger.Add(ctx, &db.Position{
		ID:             uuid.NewString(),
		UserID:         l.UserID,
		OrderID:        l.OrderID,
		WalletID:       l.WalletID,
		TokenAddress:   l.TokenAddress,
		AmountInBase:   l.AmountBase,
		AmountOutToken: amountOut,
		BuyPrice:       buyPrice,
		BuyTxHash:      l.TxHash,
		Status:         db.PositionActive,
		PnLPct:         decimal.Zero,
		PnLBase:        decimal.Zero,
	})
}
