package evm

import (
	"context"
	"fmt"
	"math/big"
)

// TokenMetadata is the on-chain ERC-20 view of a token.
type TokenMetadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// TokenName reads name() from the token contract.
func (c *Client) TokenName(ctx context.Context, token Address) (string, error) {
	data, err := c.CallContract(ctx, token, packCall(selName))
	if err != nil {
		return "", fmt.Errorf("name(): %w", err)
	}
	return unpackString(data)
}

// TokenSymbol reads symbol() from the token contract.
func (c *Client) TokenSymbol(ctx context.Context, token Address) (string, error) {
	data, err := c.CallContract(ctx, token, packCall(selSymbol))
	if err != nil {
		return "", fmt.Errorf("symbol(): %w", err)
	}
	return unpackString(data)
}

// TokenDecimals reads decimals() from the token contract.
func (c *Client) TokenDecimals(ctx context.Context, token Address) (uint8, error) {
	data, err := c.CallContract(ctx, token, packCall(selDecimals))
	if err != nil {
		return 0, fmt.Errorf("decimals(): %w", err)
	}
	v, err := unpackWordBig(data, 0)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals out of range: %s", v)
	}
	return uint8(v.Uint64()), nil
}

// TokenTotalSupply reads totalSupply() from the token contract.
func (c *Client) TokenTotalSupply(ctx context.Context, token Address) (*big.Int, error) {
	data, err := c.CallContract(ctx, token, packCall(selTotalSupply))
	if err != nil {
		return nil, fmt.Errorf("totalSupply(): %w", err)
	}
	return unpackWordBig(data, 0)
}

// TokenBalanceOf reads balanceOf(owner) in raw token units.
func (c *Client) TokenBalanceOf(ctx context.Context, token, owner Address) (*big.Int, error) {
	data, err := c.CallContract(ctx, token, packCall(selBalanceOf, packWordAddress(owner)))
	if err != nil {
		return nil, fmt.Errorf("balanceOf(): %w", err)
	}
	return unpackWordBig(data, 0)
}

// Allowance reads allowance(owner, spender) in raw token units.
func (c *Client) Allowance(ctx context.Context, token, owner, spender Address) (*big.Int, error) {
	data, err := c.CallContract(ctx, token,
		packCall(selAllowance, packWordAddress(owner), packWordAddress(spender)))
	if err != nil {
		return nil, fmt.Errorf("allowance(): %w", err)
	}
	return unpackWordBig(data, 0)
}

// GetPair asks the factory for the pair contract of (a, b). The zero
// address means no pair has been created.
func (c *Client) GetPair(ctx context.Context, factory, a, b Address) (Address, error) {
	data, err := c.CallContract(ctx, factory,
		packCall(selGetPair, packWordAddress(a), packWordAddress(b)))
	if err != nil {
		return "", fmt.Errorf("getPair(): %w", err)
	}
	return unpackWordAddress(data, 0)
}

// PairReserves holds the pair's reserves keyed by token0/token1 slots.
type PairReserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
	Token0   Address
}

// GetReserves reads getReserves() and token0() so the caller can orient
// the reserves without guessing the sort order.
func (c *Client) GetReserves(ctx context.Context, pair Address) (*PairReserves, error) {
	data, err := c.CallContract(ctx, pair, packCall(selGetReserves))
	if err != nil {
		return nil, fmt.Errorf("getReserves(): %w", err)
	}
	r0, err := unpackWordBig(data, 0)
	if err != nil {
		return nil, err
	}
	r1, err := unpackWordBig(data, 1)
	if err != nil {
		return nil, err
	}

	t0Data, err := c.CallContract(ctx, pair, packCall(selToken0))
	if err != nil {
		return nil, fmt.Errorf("token0(): %w", err)
	}
	t0, err := unpackWordAddress(t0Data, 0)
	if err != nil {
		return nil, err
	}
	return &PairReserves{Reserve0: r0, Reserve1: r1, Token0: t0}, nil
}

// GetAmountsOut quotes the router for amountIn along path and returns the
// final hop's output.
func (c *Client) GetAmountsOut(ctx context.Context, router Address, amountIn *big.Int, path []Address) (*big.Int, error) {
	// head: amountIn, offset(path); tail: path
	calldata := packCall(selGetAmountsOut,
		packWordBig(amountIn),
		packWordBig(big.NewInt(2*wordSize)),
	)
	calldata = append(calldata, packAddressArray(path)...)

	data, err := c.CallContract(ctx, router, calldata)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut(): %w", err)
	}
	// return shape: offset, length, amounts...
	n, err := unpackWordBig(data, 1)
	if err != nil {
		return nil, err
	}
	if n.Int64() < 1 {
		return nil, fmt.Errorf("getAmountsOut returned empty array")
	}
	return unpackWordBig(data, 1+int(n.Int64()))
}
