package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres implements Store on PostgreSQL. Monetary values are stored
// as NUMERIC for exact decimal precision.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    token_address TEXT NOT NULL,
    trading_amount NUMERIC NOT NULL,
    slippage_pct DOUBLE PRECISION NOT NULL,
    gas_price_wei TEXT DEFAULT '',
    gas_limit BIGINT DEFAULT 0,
    take_profit_pct DOUBLE PRECISION DEFAULT 0,
    stop_loss_pct DOUBLE PRECISION DEFAULT 0,
    active BOOLEAN DEFAULT TRUE,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    address TEXT NOT NULL,
    keystore_ref TEXT NOT NULL,
    balance_base NUMERIC DEFAULT 0,
    balance_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tokens (
    address TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    symbol TEXT NOT NULL,
    decimals SMALLINT NOT NULL,
    pair_address TEXT DEFAULT '',
    liquidity_base NUMERIC DEFAULT 0,
    verified BOOLEAN DEFAULT FALSE,
    checked_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    wallet_id TEXT NOT NULL,
    token_address TEXT NOT NULL,
    amount_in_base NUMERIC NOT NULL,
    amount_out_token NUMERIC NOT NULL,
    buy_price NUMERIC NOT NULL,
    buy_tx_hash TEXT NOT NULL,
    sell_price NUMERIC DEFAULT 0,
    sell_tx_hash TEXT DEFAULT '',
    status TEXT NOT NULL,
    pnl_pct NUMERIC DEFAULT 0,
    pnl_base NUMERIC DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT now(),
    updated_at TIMESTAMPTZ DEFAULT now()
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
    amount_base NUMERIC DEFAULT 0,
    detail TEXT DEFAULT '',
    attempts INTEGER DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_txlogs_status ON transaction_logs(status);
`

// NewPostgres connects to dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, token_address, trading_amount, slippage_pct,
			gas_price_wei, gas_limit, take_profit_pct, stop_loss_pct, active)
		VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.UserID, o.TokenAddress, o.TradingAmount.String(), o.SlippagePct,
		o.GasPriceWei, int64(o.GasLimit), o.TakeProfitPct, o.StopLossPct, o.Active)
	return err
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	var amount string
	var gasLimit int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_address, trading_amount::TEXT, slippage_pct,
		       gas_price_wei, gas_limit, take_profit_pct, stop_loss_pct, active, created_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.UserID, &o.TokenAddress, &amount, &o.SlippagePct,
			&o.GasPriceWei, &gasLimit, &o.TakeProfitPct, &o.StopLossPct, &o.Active, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.GasLimit = uint64(gasLimit)
	o.TradingAmount, err = decimal.NewFromString(amount)
	return &o, err
}

func (s *Postgres) SetOrderActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, user_id, address, keystore_ref, balance_base)
		VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
		w.ID, w.UserID, w.Address, w.KeystoreRef, w.BalanceBase.String())
	return err
}

func (s *Postgres) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	var w Wallet
	var balance string
	var balanceAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, address, keystore_ref, balance_base::TEXT, balance_at, created_at
		FROM wallets WHERE id = $1`, id).
		Scan(&w.ID, &w.UserID, &w.Address, &w.KeystoreRef, &balance, &balanceAt, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if balanceAt != nil {
		w.BalanceAt = *balanceAt
	}
	w.BalanceBase, err = decimal.NewFromString(balance)
	return &w, err
}

func (s *Postgres) UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wallets SET balance_base = $1::NUMERIC, balance_at = now() WHERE id = $2`,
		balance.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetToken(ctx context.Context, address string) (*Token, error) {
	var t Token
	var liquidity string
	err := s.pool.QueryRow(ctx, `
		SELECT address, name, symbol, decimals, pair_address, liquidity_base::TEXT, verified, checked_at
		FROM tokens WHERE address = $1`, address).
		Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.PairAddress, &liquidity, &t.Verified, &t.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.LiquidityBase, err = decimal.NewFromString(liquidity)
	return &t, err
}

func (s *Postgres) UpsertToken(ctx context.Context, t *Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (address, name, symbol, decimals, pair_address, liquidity_base, verified, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, now())
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			pair_address = EXCLUDED.pair_address,
			liquidity_base = EXCLUDED.liquidity_base,
			verified = EXCLUDED.verified,
			checked_at = now()`,
		t.Address, t.Name, t.Symbol, t.Decimals, t.PairAddress, t.LiquidityBase.String(), t.Verified)
	return err
}

func (s *Postgres) InsertPosition(ctx context.Context, p *Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (id, user_id, order_id, wallet_id, token_address,
			amount_in_base, amount_out_token, buy_price, buy_tx_hash,
			sell_price, sell_tx_hash, status, pnl_pct, pnl_base)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9,
			$10::NUMERIC, $11, $12, $13::NUMERIC, $14::NUMERIC)`,
		p.ID, p.UserID, p.OrderID, p.WalletID, p.TokenAddress,
		p.AmountInBase.String(), p.AmountOutToken.String(), p.BuyPrice.String(), p.BuyTxHash,
		p.SellPrice.String(), p.SellTxHash, p.Status, p.PnLPct.String(), p.PnLBase.String())
	return err
}

func (s *Postgres) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, order_id, wallet_id, token_address,
		       amount_in_base::TEXT, amount_out_token::TEXT, buy_price::TEXT, buy_tx_hash,
		       sell_price::TEXT, sell_tx_hash, status, pnl_pct::TEXT, pnl_base::TEXT, created_at, updated_at
		FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Postgres) UpdatePositionPnL(ctx context.Context, id string, pnlPct, pnlBase decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET pnl_pct = $1::NUMERIC, pnl_base = $2::NUMERIC, updated_at = now() WHERE id = $3`,
		pnlPct.String(), pnlBase.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ClosePosition(ctx context.Context, id string, sellPrice decimal.Decimal, sellTxHash string, pnlPct, pnlBase decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET status = $1, sell_price = $2::NUMERIC, sell_tx_hash = $3,
		    pnl_pct = $4::NUMERIC, pnl_base = $5::NUMERIC, updated_at = now()
		WHERE id = $6`,
		PositionClosed, sellPrice.String(), sellTxHash, pnlPct.String(), pnlBase.String(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListOpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, order_id, wallet_id, token_address,
		       amount_in_base::TEXT, amount_out_token::TEXT, buy_price::TEXT, buy_tx_hash,
		       sell_price::TEXT, sell_tx_hash, status, pnl_pct::TEXT, pnl_base::TEXT, created_at, updated_at
		FROM positions WHERE status != $1 ORDER BY created_at`, PositionClosed)
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

func (s *Postgres) InsertTransactionLog(ctx context.Context, l *TransactionLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transaction_logs (id, user_id, order_id, position_id, wallet_id, token_address,
			side, status, tx_hash, amount_base, detail, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11, $12)`,
		l.ID, l.UserID, l.OrderID, l.PositionID, l.WalletID, l.TokenAddress,
		l.Side, l.Status, l.TxHash, l.AmountBase.String(), l.Detail, l.Attempts)
	return err
}

func (s *Postgres) SetTransactionLogStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transaction_logs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetTransactionLogTxHash(ctx context.Context, id, txHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transaction_logs SET tx_hash = $1 WHERE id = $2`, txHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) BumpTransactionLogAttempts(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transaction_logs SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListTransactionLogsByStatus(ctx context.Context, status string) ([]TransactionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, order_id, position_id, wallet_id, token_address,
		       side, status, tx_hash, amount_base::TEXT, detail, attempts, created_at
		FROM transaction_logs WHERE status = $1 ORDER BY created_at`, status)
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
