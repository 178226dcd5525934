// Package oracle resolves token prices in the chain's base currency,
// preferring on-chain pair reserves and falling back to an external
// aggregator. Lookups are cached with short TTLs and never block
// execution: any failure folds into ErrUnavailable.
package oracle

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/internal/monitor"
	"dex-core/pkg/cache"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// ErrUnavailable means no price source could answer. Callers decide
// whether to proceed without a price.
var ErrUnavailable = errors.New("price unavailable")

// Quote is a resolved token price.
type Quote struct {
	InBase    decimal.Decimal
	InUSD     decimal.Decimal
	Source    string // "reserves" or "aggregator"
	Timestamp time.Time
}

// ReservesReader is the on-chain surface the oracle needs.
type ReservesReader interface {
	GetReserves(ctx context.Context, pair evm.Address) (*evm.PairReserves, error)
}

// PairSource is the aggregator surface the oracle needs.
type PairSource interface {
	TokenPairs(ctx context.Context, tokenAddress string) ([]PairQuote, error)
}

// Oracle resolves prices with cross-source fallback and TTL caching.
type Oracle struct {
	chain       ReservesReader
	aggregator  PairSource
	wrappedBase evm.Address
	chainSlug   string

	priceCache *cache.TTLCache
	rateCache  *cache.TTLCache
	priceTTL   time.Duration
	rateTTL    time.Duration

	metrics *monitor.Metrics
}

// New constructs an Oracle. Caches are owned by the oracle so tests get
// isolated instances per run.
func New(chain ReservesReader, aggregator PairSource, wrappedBase evm.Address, chainSlug string,
	priceTTL, rateTTL time.Duration, metrics *monitor.Metrics) *Oracle {
	return &Oracle{
		chain:       chain,
		aggregator:  aggregator,
		wrappedBase: wrappedBase,
		chainSlug:   chainSlug,
		priceCache:  cache.New(),
		rateCache:   cache.New(),
		priceTTL:    priceTTL,
		rateTTL:     rateTTL,
		metrics:     metrics,
	}
}

// GetPrice resolves the token's price in base currency. Cache hits
// return without network access.
func (o *Oracle) GetPrice(ctx context.Context, token *db.Token) (*Quote, error) {
	if cached, ok := o.priceCache.Get(token.Address); ok {
		return cached.(*Quote), nil
	}

	if quote, err := o.fromReserves(ctx, token); err == nil {
		o.metrics.PriceLookupsTotal.WithLabelValues("reserves", "ok").Inc()
		o.priceCache.Set(token.Address, quote, o.priceTTL)
		return quote, nil
	} else {
		o.metrics.PriceLookupsTotal.WithLabelValues("reserves", "error").Inc()
		log.Printf("oracle: reserves price for %s unavailable: %v", token.Address, err)
	}

	if quote, err := o.fromAggregator(ctx, token); err == nil {
		o.metrics.PriceLookupsTotal.WithLabelValues("aggregator", "ok").Inc()
		o.priceCache.Set(token.Address, quote, o.priceTTL)
		return quote, nil
	} else {
		o.metrics.PriceLookupsTotal.WithLabelValues("aggregator", "error").Inc()
		log.Printf("oracle: aggregator price for %s unavailable: %v", token.Address, err)
	}

	return nil, ErrUnavailable
}

// fromReserves prices the token straight off the pair's reserves:
// price = baseReserve / tokenReserve, decimal-normalized on both legs.
func (o *Oracle) fromReserves(ctx context.Context, token *db.Token) (*Quote, error) {
	if token.PairAddress == "" {
		return nil, errors.New("no pair address")
	}
	pair, err := evm.ParseAddress(token.PairAddress)
	if err != nil {
		return nil, err
	}

	reserves, err := o.chain.GetReserves(ctx, pair)
	if err != nil {
		return nil, err
	}

	tokenReserve, baseReserve := reserves.Reserve0, reserves.Reserve1
	if reserves.Token0 == o.wrappedBase {
		tokenReserve, baseReserve = baseReserve, tokenReserve
	}

	tokenDec := evm.FromWei(tokenReserve, token.Decimals)
	baseDec := evm.FromWei(baseReserve, evm.BaseDecimals)
	if tokenDec.IsZero() {
		return nil, errors.New("empty token reserve")
	}

	return &Quote{
		InBase:    baseDec.DivRound(tokenDec, 18),
		Source:    "reserves",
		Timestamp: time.Now(),
	}, nil
}

// fromAggregator derives price-in-base from the aggregator's USD quote
// divided by the cached base/USD rate.
func (o *Oracle) fromAggregator(ctx context.Context, token *db.Token) (*Quote, error) {
	pairs, err := o.aggregator.TokenPairs(ctx, token.Address)
	if err != nil {
		return nil, err
	}
	best, ok := BestPair(pairs, o.chainSlug)
	if !ok {
		return nil, errors.New("no pair on this chain")
	}

	baseUSD, err := o.baseUSDRate(ctx)
	if err != nil {
		return nil, err
	}
	if baseUSD.IsZero() {
		return nil, errors.New("zero base/usd rate")
	}

	return &Quote{
		InBase:    best.PriceUSD.DivRound(baseUSD, 18),
		InUSD:     best.PriceUSD,
		Source:    "aggregator",
		Timestamp: time.Now(),
	}, nil
}

const baseRateKey = "base-usd"

// baseUSDRate returns the wrapped-base/USD rate, cached under its own TTL.
func (o *Oracle) baseUSDRate(ctx context.Context) (decimal.Decimal, error) {
	if cached, ok := o.rateCache.Get(baseRateKey); ok {
		return cached.(decimal.Decimal), nil
	}
	pairs, err := o.aggregator.TokenPairs(ctx, o.wrappedBase.Hex())
	if err != nil {
		return decimal.Zero, err
	}
	best, ok := BestPair(pairs, o.chainSlug)
	if !ok {
		return decimal.Zero, errors.New("no base-currency quote")
	}
	o.rateCache.Set(baseRateKey, best.PriceUSD, o.rateTTL)
	return best.PriceUSD, nil
}
