package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// AggregatorClient queries an external DEX pair aggregator for USD
// quotes. The API returns every known pool for a token across chains;
// the caller filters by chain and picks the deepest pool.
type AggregatorClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewAggregatorClient creates a client for the aggregator at baseURL.
func NewAggregatorClient(baseURL string) *AggregatorClient {
	return &AggregatorClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// PairQuote is one candidate pool from the aggregator.
type PairQuote struct {
	ChainID      string
	PriceUSD     decimal.Decimal
	LiquidityUSD decimal.Decimal
}

type aggregatorResponse struct {
	Pairs []struct {
		ChainID  string `json:"chainId"`
		PriceUsd string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// TokenPairs fetches all candidate pools for a token address.
func (c *AggregatorClient) TokenPairs(ctx context.Context, tokenAddress string) ([]PairQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, tokenAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned %d", resp.StatusCode)
	}

	var body aggregatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode aggregator response: %w", err)
	}

	out := make([]PairQuote, 0, len(body.Pairs))
	for _, p := range body.Pairs {
		price, err := decimal.NewFromString(p.PriceUsd)
		if err != nil {
			continue // some listings omit the quote
		}
		out = append(out, PairQuote{
			ChainID:      p.ChainID,
			PriceUSD:     price,
			LiquidityUSD: decimal.NewFromFloat(p.Liquidity.USD),
		})
	}
	return out, nil
}

// BestPair returns the highest-liquidity quote on the given chain.
func BestPair(pairs []PairQuote, chainSlug string) (PairQuote, bool) {
	var best PairQuote
	found := false
	for _, p := range pairs {
		if p.ChainID != chainSlug {
			continue
		}
		if !found || p.LiquidityUSD.GreaterThan(best.LiquidityUSD) {
			best = p
			found = true
		}
	}
	return best, found
}
