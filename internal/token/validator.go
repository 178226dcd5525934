// Package token validates tokens against the AMM: a token is tradable
// only when a base-currency pair exists with enough liquidity behind
// it. Results persist in the store so repeat validations skip the chain.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/shopspring/decimal"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// Validation failure reasons.
const (
	ReasonMalformedAddress      = "malformed-address"
	ReasonMetadataUnavailable   = "metadata-unavailable"
	ReasonNoPair                = "no-pair"
	ReasonInsufficientLiquidity = "insufficient-liquidity"
)

// ValidationError explains why a token was rejected.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("token validation failed (%s): %s", e.Reason, e.Detail)
}

// Result is a successful validation.
type Result struct {
	Token         *db.Token
	PairAddress   evm.Address
	LiquidityBase decimal.Decimal
}

// ChainReader is the on-chain surface the validator needs.
type ChainReader interface {
	TokenName(ctx context.Context, token evm.Address) (string, error)
	TokenSymbol(ctx context.Context, token evm.Address) (string, error)
	TokenDecimals(ctx context.Context, token evm.Address) (uint8, error)
	TokenTotalSupply(ctx context.Context, token evm.Address) (*big.Int, error)
	GetPair(ctx context.Context, factory, a, b evm.Address) (evm.Address, error)
	GetReserves(ctx context.Context, pair evm.Address) (*evm.PairReserves, error)
}

// Validator checks tokens against the AMM factory and caches outcomes.
type Validator struct {
	chain        ChainReader
	store        db.Store
	factory      evm.Address
	wrappedBase  evm.Address
	minLiquidity decimal.Decimal
}

// New constructs a Validator. minLiquidity is in base-currency units.
func New(chain ChainReader, store db.Store, factory, wrappedBase evm.Address, minLiquidity decimal.Decimal) *Validator {
	return &Validator{
		chain:        chain,
		store:        store,
		factory:      factory,
		wrappedBase:  wrappedBase,
		minLiquidity: minLiquidity,
	}
}

// Validate checks a token address. Any missing metadata field fails the
// validation; use ValidateLenient to substitute defaults instead.
func (v *Validator) Validate(ctx context.Context, address string) (*Result, error) {
	return v.validate(ctx, address, false)
}

// ValidateLenient substitutes defaults for unreadable name/symbol
// (decimals still have to resolve; guessing them corrupts every amount).
func (v *Validator) ValidateLenient(ctx context.Context, address string) (*Result, error) {
	return v.validate(ctx, address, true)
}

func (v *Validator) validate(ctx context.Context, address string, lenient bool) (*Result, error) {
	addr, err := evm.ParseAddress(address)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMalformedAddress, Detail: err.Error()}
	}

	// Persisted cache: a previously verified token skips all chain calls.
	if cached, err := v.store.GetToken(ctx, addr.Hex()); err == nil && cached.Verified {
		pair, _ := evm.ParseAddress(cached.PairAddress)
		return &Result{Token: cached, PairAddress: pair, LiquidityBase: cached.LiquidityBase}, nil
	}

	meta, err := v.fetchMetadata(ctx, addr, lenient)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMetadataUnavailable, Detail: err.Error()}
	}

	pair, err := v.chain.GetPair(ctx, v.factory, addr, v.wrappedBase)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMetadataUnavailable, Detail: fmt.Sprintf("factory lookup: %v", err)}
	}
	if pair.IsZero() {
		// No pair means nobody has put base currency behind this token.
		// That is a fraud signal, not a lookup miss.
		return nil, &ValidationError{
			Reason: ReasonNoPair,
			Detail: fmt.Sprintf("no %s pair exists for %s; the token is untradable and high risk", v.wrappedBase.Hex(), addr.Hex()),
		}
	}

	reserves, err := v.chain.GetReserves(ctx, pair)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMetadataUnavailable, Detail: fmt.Sprintf("reserves: %v", err)}
	}
	baseReserve := reserves.Reserve0
	if reserves.Token0 != v.wrappedBase {
		baseReserve = reserves.Reserve1
	}
	liquidity := evm.FromWei(baseReserve, evm.BaseDecimals)

	if liquidity.LessThan(v.minLiquidity) {
		return nil, &ValidationError{
			Reason: ReasonInsufficientLiquidity,
			Detail: fmt.Sprintf("pair liquidity %s below floor %s", liquidity, v.minLiquidity),
		}
	}

	record := &db.Token{
		Address:       addr.Hex(),
		Name:          meta.Name,
		Symbol:        meta.Symbol,
		Decimals:      meta.Decimals,
		PairAddress:   pair.Hex(),
		LiquidityBase: liquidity,
		Verified:      true,
	}
	if err := v.store.UpsertToken(ctx, record); err != nil {
		// Cache write failure is not a validation failure.
		log.Printf("token: persist validation for %s failed: %v", addr.Hex(), err)
	}

	return &Result{Token: record, PairAddress: pair, LiquidityBase: liquidity}, nil
}

func (v *Validator) fetchMetadata(ctx context.Context, addr evm.Address, lenient bool) (*evm.TokenMetadata, error) {
	name, err := v.chain.TokenName(ctx, addr)
	if err != nil {
		if !lenient {
			return nil, fmt.Errorf("name: %w", err)
		}
		name = "Unknown"
	}
	symbol, err := v.chain.TokenSymbol(ctx, addr)
	if err != nil {
		if !lenient {
			return nil, fmt.Errorf("symbol: %w", err)
		}
		symbol = "UNKNOWN"
	}
	decimals, err := v.chain.TokenDecimals(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("decimals: %w", err)
	}
	supply, err := v.chain.TokenTotalSupply(ctx, addr)
	if err != nil {
		if !lenient {
			return nil, fmt.Errorf("totalSupply: %w", err)
		}
		supply = nil
	}
	if !lenient && supply != nil && supply.Sign() == 0 {
		return nil, errors.New("zero total supply")
	}
	return &evm.TokenMetadata{Name: name, Symbol: symbol, Decimals: decimals, TotalSupply: supply}, nil
}
