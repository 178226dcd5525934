// Package db defines the durable store: models for orders, wallets,
// tokens, positions and transaction logs, and a Store interface with
// sqlite, postgres and in-memory backends.
package db

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Position lifecycle.
const (
	PositionPending = "PENDING"
	PositionActive  = "ACTIVE"
	PositionClosed  = "CLOSED"
)

// TransactionLog outcomes. FAILED rows carrying a tx hash are picked up
// by reconciliation and may transition to RECONCILED; nothing else ever
// mutates a written log row.
const (
	LogSuccess    = "SUCCESS"
	LogFailed     = "FAILED"
	LogReconciled = "RECONCILED"
)

// Swap direction shared across the pipeline.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// ErrNotFound is returned by lookups for missing rows.
var ErrNotFound = errors.New("not found")

// Order is a user's standing instruction to buy a token. Execution
// treats it as read-only input apart from the active flag.
type Order struct {
	ID            string
	UserID        string
	TokenAddress  string
	TradingAmount decimal.Decimal // base currency to spend per execution
	SlippagePct   float64
	GasPriceWei   string // explicit override, empty means use network price
	GasLimit      uint64 // 0 means estimate
	TakeProfitPct float64
	StopLossPct   float64
	Active        bool
	CreatedAt     time.Time
}

// Wallet references externally-held signing material; execution only
// reads the address and cached balance.
type Wallet struct {
	ID          string
	UserID      string
	Address     string
	KeystoreRef string // opaque handle resolved by the keystore
	BalanceBase decimal.Decimal
	BalanceAt   time.Time
	CreatedAt   time.Time
}

// Token is a validated token and doubles as the validation cache.
type Token struct {
	Address       string
	Name          string
	Symbol        string
	Decimals      uint8
	PairAddress   string
	LiquidityBase decimal.Decimal
	Verified      bool
	CheckedAt     time.Time
}

// Position tracks a filled buy until it is closed. AmountOutToken is
// the actual on-chain output, never a quote.
type Position struct {
	ID             string
	UserID         string
	OrderID        string
	WalletID       string
	TokenAddress   string
	AmountInBase   decimal.Decimal
	AmountOutToken decimal.Decimal
	BuyPrice       decimal.Decimal
	BuyTxHash      string
	SellPrice      decimal.Decimal
	SellTxHash     string
	Status         string
	PnLPct         decimal.Decimal
	PnLBase        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransactionLog is the append-only audit record: exactly one row per
// execution attempt, success or failure.
type TransactionLog struct {
	ID           string
	UserID       string
	OrderID      string
	PositionID   string
	WalletID     string
	TokenAddress string
	Side         string
	Status       string
	TxHash       string
	AmountBase   decimal.Decimal
	Detail       string // failure reason, verbatim
	Attempts     int    // reconciliation re-check count
	CreatedAt    time.Time
}
