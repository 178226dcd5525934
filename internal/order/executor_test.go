package order

import (
	"context"
	"errors"
	"testing"
	"time"

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

const testTokenAddr = "0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82"

type fakeValidator struct {
	result *token.Result
	err    error
}

func (f *fakeValidator) Validate(_ context.Context, _ string) (*token.Result, error) {
	return f.result, f.err
}

type fakePrices struct {
	quote *oracle.Quote
	err   error
}

func (f *fakePrices) GetPrice(_ context.Context, _ *db.Token) (*oracle.Quote, error) {
	return f.quote, f.err
}

type fakeBalances struct {
	available   decimal.Decimal
	err         error
	invalidated []string
}

func (f *fakeBalances) Available(_ context.Context, _ *db.Wallet) (decimal.Decimal, error) {
	return f.available, f.err
}

func (f *fakeBalances) Invalidate(address string) {
	f.invalidated = append(f.invalidated, address)
}

type stubSigner struct{ addr evm.Address }

func (s *stubSigner) Address() evm.Address { return s.addr }
func (s *stubSigner) SignTx(context.Context, *evm.Transaction) ([]byte, error) {
	return []byte{0x01}, nil
}

type fakeKeystore struct{ addr evm.Address }

func (f *fakeKeystore) ResolveSigningWallet(_ context.Context, _, _ string) (evm.Signer, error) {
	return &stubSigner{addr: f.addr}, nil
}

type fixture struct {
	store     *db.Memory
	executor  *Executor
	queue     *Queue
	ledger    *position.Ledger
	balances  *fakeBalances
	validator *fakeValidator
}

func newFixture(t *testing.T, runner Runner) *fixture {
	t.Helper()
	return newFixtureWait(t, runner, 2*time.Second)
}

func newFixtureWait(t *testing.T, runner Runner, wait time.Duration) *fixture {
	t.Helper()
	store := db.NewMemory()
	ctx := context.Background()

	order := &db.Order{
		ID:            "ord-1",
		UserID:        "user-1",
		TokenAddress:  testTokenAddr,
		TradingAmount: decimal.RequireFromString("0.05"),
		SlippagePct:   1,
		Active:        true,
	}
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	wallet := &db.Wallet{
		ID:      "w-1",
		UserID:  "user-1",
		Address: "0x1111111111111111111111111111111111111111",
	}
	if err := store.CreateWallet(ctx, wallet); err != nil {
		t.Fatal(err)
	}

	validatedToken := &db.Token{
		Address:       testTokenAddr,
		Symbol:        "CAKE",
		Decimals:      18,
		PairAddress:   "0x2222222222222222222222222222222222222222",
		LiquidityBase: decimal.RequireFromString("5"),
		Verified:      true,
	}
	if err := store.UpsertToken(ctx, validatedToken); err != nil {
		t.Fatal(err)
	}

	metrics := monitor.NewNop()
	bus := events.NewBus()
	ledger := position.NewLedger(store, bus, metrics)
	if err := ledger.Load(ctx); err != nil {
		t.Fatal(err)
	}

	queue := NewQueue(runner, 2, wait, metrics)
	t.Cleanup(queue.Close)

	balances := &fakeBalances{available: decimal.RequireFromString("1.0")}
	validator := &fakeValidator{result: &token.Result{
		Token:         validatedToken,
		PairAddress:   evm.Address(validatedToken.PairAddress),
		LiquidityBase: validatedToken.LiquidityBase,
	}}
	prices := &fakePrices{quote: &oracle.Quote{InBase: decimal.RequireFromString("0.0005"), Source: "reserves"}}
	keystore := &fakeKeystore{addr: evm.Address(wallet.Address)}

	executor := NewExecutor(store, validator, prices, balances, keystore, queue, ledger, bus, metrics)
	return &fixture{
		store:     store,
		executor:  executor,
		queue:     queue,
		ledger:    ledger,
		balances:  balances,
		validator: validator,
	}
}

func TestExecuteBuySuccess(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)

	receipt, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if receipt.TxHash == "" {
		t.Error("missing tx hash")
	}
	if !receipt.AmountOut.IsPositive() {
		t.Errorf("AmountOut = %s", receipt.AmountOut)
	}

	pos, ok := f.ledger.Get(receipt.PositionID)
	if !ok {
		t.Fatal("position not tracked")
	}
	if pos.Status != db.PositionActive {
		t.Errorf("status = %s", pos.Status)
	}
	if !pos.AmountOutToken.Equal(receipt.AmountOut) {
		t.Errorf("position amount %s != receipt amount %s", pos.AmountOutToken, receipt.AmountOut)
	}
	// buy price derives from what was actually received
	wantPrice := decimal.RequireFromString("0.05").DivRound(receipt.AmountOut, 18)
	if !pos.BuyPrice.Equal(wantPrice) {
		t.Errorf("buy price = %s, want %s", pos.BuyPrice, wantPrice)
	}

	logs := f.store.AllTransactionLogs()
	if len(logs) != 1 {
		t.Fatalf("transaction logs = %d, want exactly 1", len(logs))
	}
	if logs[0].Status != db.LogSuccess || logs[0].Side != db.SideBuy {
		t.Errorf("log = %+v", logs[0])
	}
	if logs[0].PositionID != receipt.PositionID {
		t.Error("log not linked to position")
	}

	if len(f.balances.invalidated) != 1 {
		t.Error("wallet balance cache not invalidated")
	}
}

func TestExecuteBuyValidationFailureLeavesNoTrace(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	f.validator.result = nil
	f.validator.err = &token.ValidationError{Reason: token.ReasonNoPair, Detail: "no pair"}

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	var verr *token.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// rejection happens before any execution attempt: no audit rows
	if logs := f.store.AllTransactionLogs(); len(logs) != 0 {
		t.Errorf("logs = %d, want 0", len(logs))
	}
	// the order survives for a later retry
	ord, _ := f.store.GetOrder(context.Background(), "ord-1")
	if !ord.Active {
		t.Error("order deactivated by a validation failure")
	}
}

func TestExecuteBuyInactiveOrder(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	if err := f.store.SetOrderActive(context.Background(), "ord-1", false); err != nil {
		t.Fatal(err)
	}

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	if !errors.Is(err, ErrOrderInactive) {
		t.Errorf("err = %v, want ErrOrderInactive", err)
	}
}

func TestExecuteBuyInsufficientBalance(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	f.balances.available = decimal.RequireFromString("0.01")

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if logs := f.store.AllTransactionLogs(); len(logs) != 0 {
		t.Errorf("logs = %d, want 0", len(logs))
	}
}

func TestExecuteBuyWrongUser(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)

	_, err := f.executor.ExecuteBuy(context.Background(), "intruder", "ord-1", "w-1")
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
}

func TestExecuteBuySwapFailureLogged(t *testing.T) {
	runner := newTrackingRunner(0)
	runner.err = errors.New("tx 0xdead: transaction reverted on-chain")
	f := newFixture(t, runner)

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	if err == nil {
		t.Fatal("swap failure swallowed")
	}

	logs := f.store.AllTransactionLogs()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want exactly 1", len(logs))
	}
	if logs[0].Status != db.LogFailed {
		t.Errorf("log status = %s", logs[0].Status)
	}
	if logs[0].Detail == "" {
		t.Error("failure detail missing")
	}

	// nothing opened
	if open := f.ledger.Open(); len(open) != 0 {
		t.Errorf("positions = %d, want 0", len(open))
	}
}

// lateRunner outlives the caller's wait ceiling before reporting its
// outcome, like a swap stuck in confirmation.
type lateRunner struct {
	delay time.Duration
	res   *swap.Result
	err   error
	done  chan struct{}
}

func (r *lateRunner) Run(_ context.Context, _ *SwapRequest) (*swap.Result, error) {
	defer close(r.done)
	time.Sleep(r.delay)
	return r.res, r.err
}

func awaitLogHash(t *testing.T, store *db.Memory, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		logs := store.AllTransactionLogs()
		if len(logs) == 1 && logs[0].TxHash == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("log hash never became %s: %+v", want, logs)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecuteBuyWaitCeilingBackfillsPendingHash(t *testing.T) {
	const lateHash = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	runner := &lateRunner{
		delay: 200 * time.Millisecond,
		err:   &swap.PendingError{TxHash: evm.Hash(lateHash), Err: evm.ErrConfirmTimeout},
		done:  make(chan struct{}),
	}
	f := newFixtureWait(t, runner, 50*time.Millisecond)

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	var timeout *ErrAwaitTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want ErrAwaitTimeout", err)
	}

	// the attempt is on record immediately, hash still unknown
	logs := f.store.AllTransactionLogs()
	if len(logs) != 1 || logs[0].Status != db.LogFailed {
		t.Fatalf("logs = %+v", logs)
	}

	// once the engine reports, the row must carry the submitted hash so
	// the confirmed-later swap can still be picked up
	<-runner.done
	awaitLogHash(t, f.store, lateHash)
}

func TestExecuteBuyWaitCeilingBackfillsLateSuccessHash(t *testing.T) {
	const lateHash = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	runner := &lateRunner{
		delay: 200 * time.Millisecond,
		res: &swap.Result{
			TxHash:    evm.Hash(lateHash),
			AmountOut: decimal.NewFromInt(1),
		},
		done: make(chan struct{}),
	}
	f := newFixtureWait(t, runner, 50*time.Millisecond)

	_, err := f.executor.ExecuteBuy(context.Background(), "user-1", "ord-1", "w-1")
	var timeout *ErrAwaitTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want ErrAwaitTimeout", err)
	}

	<-runner.done
	awaitLogHash(t, f.store, lateHash)
}

func TestExecuteSellClosesPosition(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	ctx := context.Background()

	buyReceipt, err := f.executor.ExecuteBuy(ctx, "user-1", "ord-1", "w-1")
	if err != nil {
		t.Fatal(err)
	}

	sellReceipt, err := f.executor.ExecuteSell(ctx, "user-1", buyReceipt.PositionID, "w-1")
	if err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}
	if sellReceipt.TxHash == "" {
		t.Error("missing sell tx hash")
	}

	// evicted from the open book, closed in the store
	if _, ok := f.ledger.Get(buyReceipt.PositionID); ok {
		t.Error("closed position still in the open book")
	}
	stored, err := f.store.GetPosition(ctx, buyReceipt.PositionID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != db.PositionClosed {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.SellTxHash == "" {
		t.Error("sell hash not recorded")
	}

	logs := f.store.AllTransactionLogs()
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2 (buy + sell)", len(logs))
	}
	if logs[1].Side != db.SideSell || logs[1].Status != db.LogSuccess {
		t.Errorf("sell log = %+v", logs[1])
	}
}

func TestExecuteSellFailureLogged(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	ctx := context.Background()

	buyReceipt, err := f.executor.ExecuteBuy(ctx, "user-1", "ord-1", "w-1")
	if err != nil {
		t.Fatal(err)
	}

	runner.err = errors.New("transaction reverted on-chain")
	if _, err := f.executor.ExecuteSell(ctx, "user-1", buyReceipt.PositionID, "w-1"); err == nil {
		t.Fatal("sell failure swallowed")
	}

	logs := f.store.AllTransactionLogs()
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2 (buy + failed sell)", len(logs))
	}
	sellLog := logs[1]
	if sellLog.Side != db.SideSell || sellLog.Status != db.LogFailed {
		t.Errorf("sell log = %+v", sellLog)
	}
	// failed exits record the position's base spend, not zero
	if !sellLog.AmountBase.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("AmountBase = %s, want 0.05", sellLog.AmountBase)
	}
	if sellLog.PositionID != buyReceipt.PositionID {
		t.Error("sell log not linked to position")
	}

	// the position stays open for a retried exit
	if _, ok := f.ledger.Get(buyReceipt.PositionID); !ok {
		t.Error("failed sell evicted the position")
	}
}

func TestExecuteSellWrongUser(t *testing.T) {
	runner := newTrackingRunner(0)
	f := newFixture(t, runner)
	ctx := context.Background()

	buyReceipt, err := f.executor.ExecuteBuy(ctx, "user-1", "ord-1", "w-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.executor.ExecuteSell(ctx, "intruder", buyReceipt.PositionID, "w-1"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
}
