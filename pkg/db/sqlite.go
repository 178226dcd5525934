package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    token_address TEXT NOT NULL,
    trading_amount TEXT NOT NULL,
    slippage_pct REAL NOT NULL,
    gas_price_wei TEXT DEFAULT '',
    gas_limit INTEGER DEFAULT 0,
    take_profit_pct REAL DEFAULT 0,
    stop_loss_pct REAL DEFAULT 0,
    active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS wallets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    address TEXT NOT NULL,
    keystore_ref TEXT NOT NULL,
    balance_base TEXT DEFAULT '0',
    balance_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tokens (
    address TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    symbol TEXT NOT NULL,
    decimals INTEGER NOT NULL,
    pair_address TEXT DEFAULT '',
    liquidity_base TEXT DEFAULT '0',
    verified BOOLEAN DEFAULT 0,
    checked_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    wallet_id TEXT NOT NULL,
    token_address TEXT NOT NULL,
    amount_in_base TEXT NOT NULL,
    amount_out_token TEXT NOT NULL,
    buy_price TEXT NOT NULL,
    buy_tx_hash TEXT NOT NULL,
    sell_price TEXT DEFAULT '0',
    sell_tx_hash TEXT DEFAULT '',
    status TEXT NOT NULL,
    pnl_pct TEXT DEFAULT '0',
    pnl_base TEXT DEFAULT '0',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

CREATE TABLE IF NOT EXISTS transaction_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    position_id TEXT DEFAULT '',
    wallet_id TEXT NOT NULL,
    token_address TEXT NOT NULL,
    side TEXT NOT NULL,
    status TEXT NOT NULL,
    tx_hash TEXT DEFAULT '',
    amount_base TEXT DEFAULT '0',
    detail TEXT DEFAULT '',
    attempts INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_txlogs_status ON transaction_logs(status);
`

// Sqlite implements Store on a local SQLite file.
type Sqlite struct {
	db *sql.DB
}

// NewSqlite opens (and creates if needed) the database at path and
// applies the schema. Use ":memory:" for tests.
func NewSqlite(path string) (*Sqlite, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Sqlite{db: db}, nil
}

// Close releases the underlying handle.
func (s *Sqlite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Sqlite) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, token_address, trading_amount, slippage_pct,
			gas_price_wei, gas_limit, take_profit_pct, stop_loss_pct, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, o.ID, o.UserID, o.TokenAddress, o.TradingAmount.String(), o.SlippagePct,
		o.GasPriceWei, o.GasLimit, o.TakeProfitPct, o.StopLossPct, o.Active, nullTime(o.CreatedAt))
	return err
}

func (s *Sqlite) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	var amount string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_address, trading_amount, slippage_pct,
		       gas_price_wei, gas_limit, take_profit_pct, stop_loss_pct, active, created_at
		FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.UserID, &o.TokenAddress, &amount, &o.SlippagePct,
			&o.GasPriceWei, &o.GasLimit, &o.TakeProfitPct, &o.StopLossPct, &o.Active, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.TradingAmount, err = decimal.NewFromString(amount)
	return &o, err
}

func (s *Sqlite) SetOrderActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, address, keystore_ref, balance_base, balance_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, w.ID, w.UserID, w.Address, w.KeystoreRef, w.BalanceBase.String(), nullTime(w.BalanceAt), nullTime(w.CreatedAt))
	return err
}

func (s *Sqlite) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	var w Wallet
	var balance string
	var balanceAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, keystore_ref, balance_base, balance_at, created_at
		FROM wallets WHERE id = ?`, id).
		Scan(&w.ID, &w.UserID, &w.Address, &w.KeystoreRef, &balance, &balanceAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if balanceAt.Valid {
		w.BalanceAt = balanceAt.Time
	}
	w.BalanceBase, err = decimal.NewFromString(balance)
	return &w, err
}

func (s *Sqlite) UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance_base = ?, balance_at = CURRENT_TIMESTAMP WHERE id = ?`,
		balance.String(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) GetToken(ctx context.Context, address string) (*Token, error) {
	var t Token
	var liquidity string
	err := s.db.QueryRowContext(ctx, `
		SELECT address, name, symbol, decimals, pair_address, liquidity_base, verified, checked_at
		FROM tokens WHERE address = ?`, address).
		Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.PairAddress, &liquidity, &t.Verified, &t.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.LiquidityBase, err = decimal.NewFromString(liquidity)
	return &t, err
}

func (s *Sqlite) UpsertToken(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (address, name, symbol, decimals, pair_address, liquidity_base, verified, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			decimals = excluded.decimals,
			pair_address = excluded.pair_address,
			liquidity_base = excluded.liquidity_base,
			verified = excluded.verified,
			checked_at = CURRENT_TIMESTAMP
	`, t.Address, t.Name, t.Symbol, t.Decimals, t.PairAddress, t.LiquidityBase.String(), t.Verified)
	return err
}

func (s *Sqlite) InsertPosition(ctx context.Context, p *Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, user_id, order_id, wallet_id, token_address,
			amount_in_base, amount_out_token, buy_price, buy_tx_hash,
			sell_price, sell_tx_hash, status, pnl_pct, pnl_base, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`, p.ID, p.UserID, p.OrderID, p.WalletID, p.TokenAddress,
		p.AmountInBase.String(), p.AmountOutToken.String(), p.BuyPrice.String(), p.BuyTxHash,
		p.SellPrice.String(), p.SellTxHash, p.Status, p.PnLPct.String(), p.PnLBase.String(), nullTime(p.CreatedAt))
	return err
}

func (s *Sqlite) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, order_id, wallet_id, token_address,
		       amount_in_base, amount_out_token, buy_price, buy_tx_hash,
		       sell_price, sell_tx_hash, status, pnl_pct, pnl_base, created_at, updated_at
		FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Sqlite) UpdatePositionPnL(ctx context.Context, id string, pnlPct, pnlBase decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET pnl_pct = ?, pnl_base = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		pnlPct.String(), pnlBase.String(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) ClosePosition(ctx context.Context, id string, sellPrice decimal.Decimal, sellTxHash string, pnlPct, pnlBase decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, sell_price = ?, sell_tx_hash = ?, pnl_pct = ?, pnl_base = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		PositionClosed, sellPrice.String(), sellTxHash, pnlPct.String(), pnlBase.String(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) ListOpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, order_id, wallet_id, token_address,
		       amount_in_base, amount_out_token, buy_price, buy_tx_hash,
		       sell_price, sell_tx_hash, status, pnl_pct, pnl_base, created_at, updated_at
		FROM positions WHERE status != ? ORDER BY created_at`, PositionClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Sqlite) InsertTransactionLog(ctx context.Context, l *TransactionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (
			id, user_id, order_id, position_id, wallet_id, token_address,
			side, status, tx_hash, amount_base, detail, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, l.ID, l.UserID, l.OrderID, l.PositionID, l.WalletID, l.TokenAddress,
		l.Side, l.Status, l.TxHash, l.AmountBase.String(), l.Detail, l.Attempts, nullTime(l.CreatedAt))
	return err
}

func (s *Sqlite) SetTransactionLogStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transaction_logs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) SetTransactionLogTxHash(ctx context.Context, id, txHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transaction_logs SET tx_hash = ? WHERE id = ?`, txHash, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) BumpTransactionLogAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transaction_logs SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Sqlite) ListTransactionLogsByStatus(ctx context.Context, status string) ([]TransactionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, order_id, position_id, wallet_id, token_address,
		       side, status, tx_hash, amount_base, detail, attempts, created_at
		FROM transaction_logs WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionLog
	for rows.Next() {
		var l TransactionLog
		var amount string
		if err := rows.Scan(&l.ID, &l.UserID, &l.OrderID, &l.PositionID, &l.WalletID, &l.TokenAddress,
			&l.Side, &l.Status, &l.TxHash, &amount, &l.Detail, &l.Attempts, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.AmountBase, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*Position, error) {
	var p Position
	var amountIn, amountOut, buyPrice, sellPrice, pnlPct, pnlBase string
	err := row.Scan(&p.ID, &p.UserID, &p.OrderID, &p.WalletID, &p.TokenAddress,
		&amountIn, &amountOut, &buyPrice, &p.BuyTxHash,
		&sellPrice, &p.SellTxHash, &p.Status, &pnlPct, &pnlBase, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.AmountInBase, amountIn}, {&p.AmountOutToken, amountOut},
		{&p.BuyPrice, buyPrice}, {&p.SellPrice, sellPrice},
		{&p.PnLPct, pnlPct}, {&p.PnLBase, pnlBase},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
