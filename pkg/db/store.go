package db

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence interface. SQLite is the default backend;
// PostgreSQL serves multi-process deployments; the in-memory store is
// for tests and development.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// SetOrderActive flips the active flag.
	SetOrderActive(ctx context.Context, id string, active bool) error

	// --- Wallets ---

	// CreateWallet persists a new wallet reference.
	CreateWallet(ctx context.Context, w *Wallet) error

	// GetWallet retrieves a wallet by id.
	GetWallet(ctx context.Context, id string) (*Wallet, error)

	// UpdateWalletBalance stores the latest cached balance.
	UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// --- Tokens (validation cache) ---

	// GetToken retrieves a token by normalized address.
	GetToken(ctx context.Context, address string) (*Token, error)

	// UpsertToken stores or refreshes a validation result.
	UpsertToken(ctx context.Context, t *Token) error

	// --- Positions ---

	// InsertPosition persists a newly opened position.
	InsertPosition(ctx context.Context, p *Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*Position, error)

	// UpdatePositionPnL stores recomputed PnL after a price update.
	UpdatePositionPnL(ctx context.Context, id string, pnlPct, pnlBase decimal.Decimal) error

	// ClosePosition finalizes a position with its sell outcome.
	ClosePosition(ctx context.Context, id string, sellPrice decimal.Decimal, sellTxHash string, pnlPct, pnlBase decimal.Decimal) error

	// ListOpenPositions returns every non-closed position, for hydration.
	ListOpenPositions(ctx context.Context) ([]Position, error)

	// --- Transaction logs (append-only) ---

	// InsertTransactionLog appends an audit record.
	InsertTransactionLog(ctx context.Context, l *TransactionLog) error

	// SetTransactionLogStatus applies reconciliation's status transition.
	SetTransactionLogStatus(ctx context.Context, id, status string) error

	// SetTransactionLogTxHash back-fills the hash of a submission whose
	// outcome arrived after the caller stopped waiting.
	SetTransactionLogTxHash(ctx context.Context, id, txHash string) error

	// BumpTransactionLogAttempts counts a reconciliation re-check.
	BumpTransactionLogAttempts(ctx context.Context, id string) error

	// ListTransactionLogsByStatus filters logs by outcome.
	ListTransactionLogsByStatus(ctx context.Context, status string) ([]TransactionLog, error)

	// Close releases backend resources.
	Close() error
}
