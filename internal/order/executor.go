package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dex-core/internal/events"
	"dex-core/internal/monitor"
	"dex-core/internal/oracle"
	"dex-core/internal/position"
	"dex-core/internal/swap"
	"dex-core/internal/token"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// Pre-flight rejections. These happen before an execution attempt
// exists, so no transaction log row is written for them.
var (
	ErrOrderInactive       = errors.New("order is inactive")
	ErrInsufficientBalance = errors.New("wallet balance below trading amount")
	ErrNotOwner            = errors.New("resource belongs to another user")
)

// Keystore resolves a wallet's signing delegate. Implementations hold
// the encrypted key material; this core never sees it.
type Keystore interface {
	ResolveSigningWallet(ctx context.Context, walletID, userID string) (evm.Signer, error)
}

// TokenValidator is the validation surface the executor needs.
type TokenValidator interface {
	Validate(ctx context.Context, address string) (*token.Result, error)
}

// PriceSource is the best-effort reference-price surface.
type PriceSource interface {
	GetPrice(ctx context.Context, t *db.Token) (*oracle.Quote, error)
}

// BalanceSource reports a wallet's spendable base currency.
type BalanceSource interface {
	Available(ctx context.Context, w *db.Wallet) (decimal.Decimal, error)
	Invalidate(address string)
}

// Receipt is the outcome of a successful execution.
type Receipt struct {
	PositionID string
	TxHash     string
	AmountOut  decimal.Decimal
	Fee        decimal.Decimal
}

// Executor runs the buy/sell sagas.
type Executor struct {
	store     db.Store
	validator TokenValidator
	prices    PriceSource
	balances  BalanceSource
	keystore  Keystore
	queue     *Queue
	ledger    *position.Ledger
	bus       *events.Bus
	metrics   *monitor.Metrics
}

// NewExecutor wires the saga's collaborators.
func NewExecutor(store db.Store, validator TokenValidator, prices PriceSource, balances BalanceSource,
	keystore Keystore, queue *Queue, ledger *position.Ledger, bus *events.Bus, metrics *monitor.Metrics) *Executor {
	return &Executor{
		store:     store,
		validator: validator,
		prices:    prices,
		balances:  balances,
		keystore:  keystore,
		queue:     queue,
		ledger:    ledger,
		bus:       bus,
		metrics:   metrics,
	}
}

// ExecuteBuy runs one buy attempt for an order. Pre-flight failures
// (inactive order, bad address, short balance, invalid token) return
// before anything is queued and leave no audit row; once a swap is
// attempted, exactly one transaction log row records the outcome.
func (e *Executor) ExecuteBuy(ctx context.Context, userID, orderID, walletID string) (*Receipt, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	if !order.Active {
		return nil, ErrOrderInactive
	}
	if !evm.IsValidAddress(order.TokenAddress) {
		return nil, &token.ValidationError{Reason: token.ReasonMalformedAddress, Detail: order.TokenAddress}
	}

	wallet, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, err)
	}
	balance, err := e.balances.Available(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("balance for %s: %w", wallet.Address, err)
	}
	if balance.LessThan(order.TradingAmount) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, order.TradingAmount)
	}

	validated, err := e.validator.Validate(ctx, order.TokenAddress)
	if err != nil {
		return nil, err
	}

	// Reference price is best-effort; execution proceeds without one.
	var refPrice decimal.Decimal
	if quote, err := e.prices.GetPrice(ctx, validated.Token); err == nil {
		refPrice = quote.InBase
	} else {
		log.Printf("executor: no reference price for %s: %v", validated.Token.Symbol, err)
	}

	signer, err := e.keystore.ResolveSigningWallet(ctx, walletID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve signing wallet: %w", err)
	}

	req := &SwapRequest{
		Side:        db.SideBuy,
		Wallet:      signer.Address(),
		Signer:      signer,
		Token:       validated.Token,
		AmountIn:    order.TradingAmount,
		SlippagePct: order.SlippagePct,
		Gas:         gasPolicyOf(order),
		Priority:    PriorityNormal,
	}
	e.queue.Submit(req)

	res, err := e.queue.Await(ctx, req)
	if err != nil {
		e.metrics.SwapsTotal.WithLabelValues(db.SideBuy, "failed").Inc()
		entry := &db.TransactionLog{
			UserID:       userID,
			OrderID:      orderID,
			WalletID:     walletID,
			TokenAddress: validated.Token.Address,
			Side:         db.SideBuy,
			Status:       db.LogFailed,
			TxHash:       pendingHash(err),
			AmountBase:   order.TradingAmount,
			Detail:       err.Error(),
		}
		e.logAttempt(ctx, entry)
		if entry.TxHash == "" {
			go e.amendPendingHash(req, entry.ID)
		}
		e.bus.Publish(events.EventOrderFailed, orderID)
		return nil, err
	}

	buyPrice := refPrice
	if !res.AmountOut.IsZero() {
		// Realized price beats the oracle's reference.
		buyPrice = order.TradingAmount.DivRound(res.AmountOut, 18)
	}

	pos := &db.Position{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrderID:        orderID,
		WalletID:       walletID,
		TokenAddress:   validated.Token.Address,
		AmountInBase:   order.TradingAmount,
		AmountOutToken: res.AmountOut,
		BuyPrice:       buyPrice,
		BuyTxHash:      res.TxHash.Hex(),
		Status:         db.PositionActive,
		PnLPct:         decimal.Zero,
		PnLBase:        decimal.Zero,
	}
	if err := e.ledger.Add(ctx, pos); err != nil {
		// The swap confirmed; surface the ledger problem loudly but
		// keep reporting the swap's own outcome.
		log.Printf("⚠️ executor: swap %s confirmed but ledger rejected position: %v", res.TxHash.Hex(), err)
		return nil, fmt.Errorf("swap %s confirmed but position not tracked: %w", res.TxHash.Hex(), err)
	}

	e.logAttempt(ctx, &db.TransactionLog{
		UserID:       userID,
		OrderID:      orderID,
		PositionID:   pos.ID,
		WalletID:     walletID,
		TokenAddress: validated.Token.Address,
		Side:         db.SideBuy,
		Status:       db.LogSuccess,
		TxHash:       res.TxHash.Hex(),
		AmountBase:   order.TradingAmount,
	})

	e.balances.Invalidate(wallet.Address)
	e.metrics.SwapsTotal.WithLabelValues(db.SideBuy, "completed").Inc()
	e.bus.Publish(events.EventOrderExecuted, Receipt{
		PositionID: pos.ID, TxHash: res.TxHash.Hex(), AmountOut: res.AmountOut, Fee: res.Fee,
	})
	return &Receipt{PositionID: pos.ID, TxHash: res.TxHash.Hex(), AmountOut: res.AmountOut, Fee: res.Fee}, nil
}

// ExecuteSell closes an open position: queues a SELL for its full token
// amount, then finalizes the ledger entry with the realized price.
func (e *Executor) ExecuteSell(ctx context.Context, userID, positionID, walletID string) (*Receipt, error) {
	pos, ok := e.ledger.Get(positionID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, db.ErrNotFound)
	}
	if pos.UserID != userID {
		return nil, ErrNotOwner
	}

	order, err := e.store.GetOrder(ctx, pos.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", pos.OrderID, err)
	}

	tok, err := e.store.GetToken(ctx, pos.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", pos.TokenAddress, err)
	}

	signer, err := e.keystore.ResolveSigningWallet(ctx, walletID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve signing wallet: %w", err)
	}

	req := &SwapRequest{
		Side:        db.SideSell,
		Wallet:      signer.Address(),
		Signer:      signer,
		Token:       tok,
		AmountIn:    pos.AmountOutToken,
		SlippagePct: order.SlippagePct,
		Gas:         gasPolicyOf(order),
		Priority:    PriorityHigh, // exits outrank entries
	}
	e.queue.Submit(req)

	res, err := e.queue.Await(ctx, req)
	if err != nil {
		e.metrics.SwapsTotal.WithLabelValues(db.SideSell, "failed").Inc()
		entry := &db.TransactionLog{
			UserID:       userID,
			OrderID:      pos.OrderID,
			PositionID:   positionID,
			WalletID:     walletID,
			TokenAddress: pos.TokenAddress,
			Side:         db.SideSell,
			Status:       db.LogFailed,
			TxHash:       pendingHash(err),
			AmountBase:   pos.AmountInBase,
			Detail:       err.Error(),
		}
		e.logAttempt(ctx, entry)
		if entry.TxHash == "" {
			go e.amendPendingHash(req, entry.ID)
		}
		return nil, err
	}

	sellPrice := decimal.Zero
	if !pos.AmountOutToken.IsZero() {
		sellPrice = res.AmountOut.DivRound(pos.AmountOutToken, 18)
	}
	if _, err := e.ledger.Close(ctx, positionID, sellPrice, res.TxHash.Hex()); err != nil {
		log.Printf("⚠️ executor: sell %s confirmed but ledger close failed: %v", res.TxHash.Hex(), err)
	}

	e.logAttempt(ctx, &db.TransactionLog{
		UserID:       userID,
		OrderID:      pos.OrderID,
		PositionID:   positionID,
		WalletID:     walletID,
		TokenAddress: pos.TokenAddress,
		Side:         db.SideSell,
		Status:       db.LogSuccess,
		TxHash:       res.TxHash.Hex(),
		AmountBase:   res.AmountOut,
	})

	e.balances.Invalidate(req.Wallet.Hex())
	e.metrics.SwapsTotal.WithLabelValues(db.SideSell, "completed").Inc()
	return &Receipt{PositionID: positionID, TxHash: res.TxHash.Hex(), AmountOut: res.AmountOut, Fee: res.Fee}, nil
}

// logAttempt appends the audit row for an execution attempt. The write
// is retried once and escalated on repeat failure, but it never masks
// the execution outcome it records.
func (e *Executor) logAttempt(ctx context.Context, l *db.TransactionLog) {
	l.ID = uuid.NewString()
	err := e.store.InsertTransactionLog(ctx, l)
	if err == nil {
		return
	}
	log.Printf("executor: transaction log write failed, retrying: %v", err)
	if err = e.store.InsertTransactionLog(ctx, l); err == nil {
		return
	}
	e.metrics.PersistenceFailures.Inc()
	e.bus.Publish(events.EventPersistenceDegraded, fmt.Sprintf("transaction log %s: %v", l.ID, err))
	log.Printf("⚠️ executor: transaction log %s lost after retry: %v", l.ID, err)
}

// amendPendingHash back-fills the audit row of a request the caller
// stopped waiting on. The queue never abandons a dispatched request,
// so its terminal outcome still arrives; once that outcome names a tx
// hash the row gets it and reconciliation can re-check the submission.
func (e *Executor) amendPendingHash(req *SwapRequest, logID string) {
	<-req.Done()
	res, err := req.Outcome()
	hash := pendingHash(err)
	if res != nil {
		hash = res.TxHash.Hex()
	}
	if hash == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.SetTransactionLogTxHash(ctx, logID, hash); err != nil {
		log.Printf("⚠️ executor: late hash %s for log %s not recorded: %v", hash, logID, err)
	}
}

// pendingHash extracts the submitted tx hash from a confirmation
// timeout so reconciliation can pick the attempt up later.
func pendingHash(err error) string {
	var pending *swap.PendingError
	if errors.As(err, &pending) {
		return pending.TxHash.Hex()
	}
	return ""
}

func gasPolicyOf(o *db.Order) swap.GasPolicy {
	policy := swap.GasPolicy{Limit: o.GasLimit}
	if o.GasPriceWei != "" {
		if price, ok := new(big.Int).SetString(o.GasPriceWei, 10); ok {
			policy.PriceWei = price
		}
	}
	return policy
}
