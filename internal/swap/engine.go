// Package swap builds, signs-via-delegate and submits AMM swaps under
// slippage bounds and a gas policy, and waits for one confirmation.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// ErrSlippageOutOfRange rejects a slippage outside the configured
// bounds before any chain interaction happens.
var ErrSlippageOutOfRange = errors.New("slippage out of configured range")

// ErrReverted marks a mined transaction whose execution failed.
var ErrReverted = errors.New("transaction reverted on-chain")

// GasPolicy is the caller's gas preference. Zero values mean "ask the
// network".
type GasPolicy struct {
	PriceWei *big.Int // explicit gas price; nil uses node price +bump
	Limit    uint64   // explicit gas limit; 0 estimates with a buffer
}

// Request describes one swap.
type Request struct {
	Signer      evm.Signer
	Token       *db.Token
	AmountIn    decimal.Decimal // base currency for buys, token units for sells
	SlippagePct float64
	Gas         GasPolicy
}

// Result is a confirmed swap.
type Result struct {
	TxHash       evm.Hash
	AmountOut    decimal.Decimal // actual on-chain output, decimal-normalized
	AmountOutRaw *big.Int
	Fee          decimal.Decimal // gasUsed × effectiveGasPrice, in base units
	GasUsed      uint64
}

// ChainClient is the node surface the engine needs.
type ChainClient interface {
	GetAmountsOut(ctx context.Context, router evm.Address, amountIn *big.Int, path []evm.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender evm.Address) (*big.Int, error)
	TokenBalanceOf(ctx context.Context, token, owner evm.Address) (*big.Int, error)
	BalanceAt(ctx context.Context, addr evm.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from evm.Address, tx *evm.Transaction) (uint64, error)
	NonceAt(ctx context.Context, addr evm.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (evm.Hash, error)
}

// ConfirmWaiter blocks until a submitted transaction has one confirmation.
type ConfirmWaiter interface {
	Wait(ctx context.Context, hash evm.Hash, timeout time.Duration) (*evm.Receipt, error)
}

// Config bounds the engine's behavior.
type Config struct {
	Router          evm.Address
	WrappedBase     evm.Address
	ChainID         *big.Int
	MinSlippagePct  float64
	MaxSlippagePct  float64
	DefaultGasLimit uint64
	GasBumpPct      int64         // priority bump over the node gas price
	Deadline        time.Duration // router deadline window
	ConfirmTimeout  time.Duration // how long to wait for one confirmation
}

// Engine submits swaps against a UniswapV2-style router.
type Engine struct {
	chain     ChainClient
	confirmer ConfirmWaiter
	cfg       Config
}

// New constructs an Engine, filling config defaults.
func New(chain ChainClient, confirmer ConfirmWaiter, cfg Config) *Engine {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 10 * time.Minute
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = 500000
	}
	return &Engine{chain: chain, confirmer: confirmer, cfg: cfg}
}

// MinOutput computes quoted*(10000-bps)/10000 with integer math only,
// where bps = floor(slippagePct*100).
func MinOutput(quoted *big.Int, slippagePct float64) *big.Int {
	bps := int64(math.Floor(slippagePct * 100))
	out := new(big.Int).Mul(quoted, big.NewInt(10000-bps))
	return out.Div(out, big.NewInt(10000))
}

// Buy swaps base currency for the token.
func (e *Engine) Buy(ctx context.Context, req *Request) (*Result, error) {
	if err := e.checkSlippage(req.SlippagePct); err != nil {
		return nil, err
	}
	token, err := evm.ParseAddress(req.Token.Address)
	if err != nil {
		return nil, err
	}
	wallet := req.Signer.Address()
	path := []evm.Address{e.cfg.WrappedBase, token}
	amountIn := evm.ToWei(req.AmountIn, evm.BaseDecimals)

	quoted, err := e.chain.GetAmountsOut(ctx, e.cfg.Router, amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("router quote: %w", err)
	}
	minOut := MinOutput(quoted, req.SlippagePct)
	deadline := big.NewInt(time.Now().Add(e.cfg.Deadline).Unix())

	balanceBefore, err := e.chain.TokenBalanceOf(ctx, token, wallet)
	if err != nil {
		return nil, fmt.Errorf("pre-swap balance: %w", err)
	}

	tx := &evm.Transaction{
		To:      e.cfg.Router,
		Value:   amountIn,
		Data:    evm.SwapExactETHForTokensCalldata(minOut, path, wallet, deadline),
		ChainID: e.cfg.ChainID,
	}

	receipt, err := e.submit(ctx, req, tx)
	if err != nil {
		return nil, err
	}

	balanceAfter, err := e.chain.TokenBalanceOf(ctx, token, wallet)
	if err != nil {
		return nil, fmt.Errorf("post-swap balance: %w", err)
	}
	// The position records what actually arrived, not the quote.
	outRaw := new(big.Int).Sub(balanceAfter, balanceBefore)

	return &Result{
		TxHash:       receipt.TxHash,
		AmountOut:    evm.FromWei(outRaw, req.Token.Decimals),
		AmountOutRaw: outRaw,
		Fee:          feeOf(receipt),
		GasUsed:      receipt.GasUsed,
	}, nil
}

// Sell swaps the token back into base currency, approving the router
// first when the standing allowance is short.
func (e *Engine) Sell(ctx context.Context, req *Request) (*Result, error) {
	if err := e.checkSlippage(req.SlippagePct); err != nil {
		return nil, err
	}
	token, err := evm.ParseAddress(req.Token.Address)
	if err != nil {
		return nil, err
	}
	wallet := req.Signer.Address()
	path := []evm.Address{token, e.cfg.WrappedBase}
	amountIn := evm.ToWei(req.AmountIn, req.Token.Decimals)

	if err := e.ensureAllowance(ctx, req, token, wallet, amountIn); err != nil {
		return nil, err
	}

	quoted, err := e.chain.GetAmountsOut(ctx, e.cfg.Router, amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("router quote: %w", err)
	}
	minOut := MinOutput(quoted, req.SlippagePct)
	deadline := big.NewInt(time.Now().Add(e.cfg.Deadline).Unix())

	balanceBefore, err := e.chain.BalanceAt(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("pre-swap balance: %w", err)
	}

	tx := &evm.Transaction{
		To:      e.cfg.Router,
		Data:    evm.SwapExactTokensForETHCalldata(amountIn, minOut, path, wallet, deadline),
		ChainID: e.cfg.ChainID,
	}

	receipt, err := e.submit(ctx, req, tx)
	if err != nil {
		return nil, err
	}

	balanceAfter, err := e.chain.BalanceAt(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("post-swap balance: %w", err)
	}
	// Base balance moved by (output - gas paid); add the gas back to
	// recover the actual swap output.
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	outRaw := new(big.Int).Sub(balanceAfter, balanceBefore)
	outRaw.Add(outRaw, gasCost)

	return &Result{
		TxHash:       receipt.TxHash,
		AmountOut:    evm.FromWei(outRaw, evm.BaseDecimals),
		AmountOutRaw: outRaw,
		Fee:          feeOf(receipt),
		GasUsed:      receipt.GasUsed,
	}, nil
}

// ensureAllowance submits and confirms an approval when the router's
// allowance does not cover amountIn.
func (e *Engine) ensureAllowance(ctx context.Context, req *Request, token, wallet evm.Address, amountIn *big.Int) error {
	allowance, err := e.chain.Allowance(ctx, token, wallet, e.cfg.Router)
	if err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if allowance.Cmp(amountIn) >= 0 {
		return nil
	}

	log.Printf("swap: approving router for %s", token.Hex())
	tx := &evm.Transaction{
		To:      token,
		Data:    evm.ApproveCalldata(e.cfg.Router, amountIn),
		ChainID: e.cfg.ChainID,
	}
	receipt, err := e.submit(ctx, req, tx)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("approve: %w", ErrReverted)
	}
	return nil
}

// submit resolves gas, signs via delegate, broadcasts and waits for one
// confirmation. A reverted receipt is an error.
func (e *Engine) submit(ctx context.Context, req *Request, tx *evm.Transaction) (*evm.Receipt, error) {
	wallet := req.Signer.Address()

	gas := req.Gas.Limit
	if gas == 0 {
		estimated, err := e.chain.EstimateGas(ctx, wallet, tx)
		if err != nil {
			log.Printf("swap: gas estimation failed, using default %d: %v", e.cfg.DefaultGasLimit, err)
			gas = e.cfg.DefaultGasLimit
		} else {
			gas = estimated + estimated/5 // +20% safety buffer
		}
	}
	tx.Gas = gas

	gasPrice := req.Gas.PriceWei
	if gasPrice == nil {
		network, err := e.chain.GasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		bump := new(big.Int).Mul(network, big.NewInt(e.cfg.GasBumpPct))
		gasPrice = new(big.Int).Add(network, bump.Div(bump, big.NewInt(100)))
	}
	tx.GasPrice = gasPrice

	nonce, err := e.chain.NonceAt(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tx.Nonce = nonce

	raw, err := req.Signer.SignTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	hash, err := e.chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, err // node errors pass through verbatim
	}

	receipt, err := e.confirmer.Wait(ctx, hash, e.cfg.ConfirmTimeout)
	if err != nil {
		return nil, &PendingError{TxHash: hash, Err: err}
	}
	if receipt.Status == 0 {
		return nil, fmt.Errorf("tx %s: %w", hash.Hex(), ErrReverted)
	}
	return receipt, nil
}

func (e *Engine) checkSlippage(pct float64) error {
	if pct < e.cfg.MinSlippagePct || pct > e.cfg.MaxSlippagePct {
		return fmt.Errorf("%w: %.2f%% not in [%.2f%%, %.2f%%]",
			ErrSlippageOutOfRange, pct, e.cfg.MinSlippagePct, e.cfg.MaxSlippagePct)
	}
	return nil
}

func feeOf(r *evm.Receipt) decimal.Decimal {
	fee := new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
	return evm.FromWei(fee, evm.BaseDecimals)
}

// PendingError marks a submitted transaction whose confirmation was not
// observed in time. The hash survives so reconciliation can re-check.
type PendingError struct {
	TxHash evm.Hash
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("tx %s submitted but not confirmed: %v", e.TxHash.Hex(), e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }
