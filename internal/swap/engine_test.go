package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

const (
	routerAddr = evm.Address("0x10ed43c718714eb63d5aa57b78b54704e256024e")
	baseAddr   = evm.Address("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c")
	walletAddr = evm.Address("0x1111111111111111111111111111111111111111")
	tokenAddr  = "0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return v
}

type fakeSigner struct{ signed int }

func (f *fakeSigner) Address() evm.Address { return walletAddr }
func (f *fakeSigner) SignTx(_ context.Context, _ *evm.Transaction) ([]byte, error) {
	f.signed++
	return []byte{0xf8, 0x6c}, nil
}

// fakeNode scripts the chain surface. Token balance advances by
// tokenDelta after each send; base balance moves by baseDelta minus gas.
type fakeNode struct {
	quoted       *big.Int
	allowance    *big.Int
	tokenBalance *big.Int
	tokenDelta   *big.Int
	baseBalance  *big.Int
	baseDelta    *big.Int
	gasPrice     *big.Int
	sendErr      error
	receipt      *evm.Receipt
	confirmErr   error

	sent      int
	approvals int
}

func (f *fakeNode) GetAmountsOut(_ context.Context, _ evm.Address, _ *big.Int, _ []evm.Address) (*big.Int, error) {
	return new(big.Int).Set(f.quoted), nil
}

func (f *fakeNode) Allowance(_ context.Context, _, _, _ evm.Address) (*big.Int, error) {
	if f.allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeNode) TokenBalanceOf(_ context.Context, _, _ evm.Address) (*big.Int, error) {
	return new(big.Int).Set(f.tokenBalance), nil
}

func (f *fakeNode) BalanceAt(_ context.Context, _ evm.Address) (*big.Int, error) {
	return new(big.Int).Set(f.baseBalance), nil
}

func (f *fakeNode) GasPrice(_ context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return big.NewInt(5_000_000_000), nil
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeNode) EstimateGas(_ context.Context, _ evm.Address, _ *evm.Transaction) (uint64, error) {
	return 150000, nil
}

func (f *fakeNode) NonceAt(_ context.Context, _ evm.Address) (uint64, error) { return 7, nil }

func (f *fakeNode) SendRawTransaction(_ context.Context, _ []byte) (evm.Hash, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent++
	// the swap lands: move the scripted balances
	if f.tokenDelta != nil {
		f.tokenBalance = new(big.Int).Add(f.tokenBalance, f.tokenDelta)
	}
	if f.baseDelta != nil {
		f.baseBalance = new(big.Int).Add(f.baseBalance, f.baseDelta)
	}
	return evm.Hash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), nil
}

func (f *fakeNode) Wait(_ context.Context, hash evm.Hash, _ time.Duration) (*evm.Receipt, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	if f.receipt != nil {
		r := *f.receipt
		r.TxHash = hash
		return &r, nil
	}
	return &evm.Receipt{
		TxHash:            hash,
		Status:            1,
		GasUsed:           120000,
		EffectiveGasPrice: big.NewInt(5_000_000_000),
	}, nil
}

func newEngine(node *fakeNode) *Engine {
	return New(node, node, Config{
		Router:         routerAddr,
		WrappedBase:    baseAddr,
		ChainID:        big.NewInt(56),
		MinSlippagePct: 0.1,
		MaxSlippagePct: 50,
		GasBumpPct:     10,
	})
}

func buyRequest() *Request {
	return &Request{
		Signer:      &fakeSigner{},
		Token:       &db.Token{Address: tokenAddr, Symbol: "CAKE", Decimals: 18},
		AmountIn:    decimal.RequireFromString("0.05"),
		SlippagePct: 1,
	}
}

func TestMinOutput(t *testing.T) {
	quoted := big.NewInt(10000)

	cases := []struct {
		pct  float64
		want int64
	}{
		{0, 10000},
		{1, 9900},
		{0.5, 9950},
		{50, 5000},
		{0.009, 10000}, // under one basis point floors to zero discount
	}
	for _, c := range cases {
		if got := MinOutput(quoted, c.pct); got.Int64() != c.want {
			t.Errorf("MinOutput(10000, %v) = %d, want %d", c.pct, got.Int64(), c.want)
		}
	}
}

func TestMinOutputNeverIncreases(t *testing.T) {
	quoted := wei("123456789123456789")
	prev := new(big.Int).Set(quoted)
	for _, pct := range []float64{0, 0.1, 0.5, 1, 2, 5, 10, 25, 50} {
		got := MinOutput(quoted, pct)
		if got.Cmp(prev) > 0 {
			t.Fatalf("MinOutput grew at %v%%: %s > %s", pct, got, prev)
		}
		prev = got
	}
}

func TestBuyMeasuresActualOutput(t *testing.T) {
	node := &fakeNode{
		quoted:       wei("100000000000000000000"), // router promises 100
		tokenBalance: big.NewInt(0),
		tokenDelta:   wei("97000000000000000000"), // 97 actually arrive
	}
	res, err := newEngine(node).Buy(context.Background(), buyRequest())
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.AmountOut.Equal(decimal.RequireFromString("97")) {
		t.Errorf("AmountOut = %s, want the measured 97, not the quoted 100", res.AmountOut)
	}
	if res.TxHash == "" {
		t.Error("missing tx hash")
	}
	if res.Fee.IsZero() {
		t.Error("fee not computed")
	}
}

func TestBuySlippageOutOfRange(t *testing.T) {
	node := &fakeNode{quoted: big.NewInt(1), tokenBalance: big.NewInt(0)}
	e := newEngine(node)

	for _, pct := range []float64{0.05, 51} {
		req := buyRequest()
		req.SlippagePct = pct
		if _, err := e.Buy(context.Background(), req); !errors.Is(err, ErrSlippageOutOfRange) {
			t.Errorf("slippage %v accepted: %v", pct, err)
		}
	}
	if node.sent != 0 {
		t.Error("rejected request still reached the chain")
	}
}

func TestBuyInsufficientFunds(t *testing.T) {
	node := &fakeNode{
		quoted:       big.NewInt(1),
		tokenBalance: big.NewInt(0),
		sendErr:      evm.ErrInsufficientFunds,
	}
	_, err := newEngine(node).Buy(context.Background(), buyRequest())
	if !errors.Is(err, evm.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestBuyConfirmTimeoutCarriesHash(t *testing.T) {
	node := &fakeNode{
		quoted:       big.NewInt(1),
		tokenBalance: big.NewInt(0),
		confirmErr:   evm.ErrConfirmTimeout,
	}
	_, err := newEngine(node).Buy(context.Background(), buyRequest())

	var pending *PendingError
	if !errors.As(err, &pending) {
		t.Fatalf("err = %v, want PendingError", err)
	}
	if pending.TxHash == "" {
		t.Error("pending error lost the tx hash")
	}
	if !errors.Is(err, evm.ErrConfirmTimeout) {
		t.Error("pending error does not unwrap to the timeout")
	}
}

func TestBuyReverted(t *testing.T) {
	node := &fakeNode{
		quoted:       big.NewInt(1),
		tokenBalance: big.NewInt(0),
		receipt:      &evm.Receipt{Status: 0, GasUsed: 120000, EffectiveGasPrice: big.NewInt(1)},
	}
	_, err := newEngine(node).Buy(context.Background(), buyRequest())
	if !errors.Is(err, ErrReverted) {
		t.Errorf("err = %v, want ErrReverted", err)
	}
}

func sellRequest() *Request {
	return &Request{
		Signer:      &fakeSigner{},
		Token:       &db.Token{Address: tokenAddr, Symbol: "CAKE", Decimals: 18},
		AmountIn:    decimal.RequireFromString("97"),
		SlippagePct: 1,
	}
}

func TestSellApprovesWhenAllowanceShort(t *testing.T) {
	node := &fakeNode{
		quoted:      wei("48000000000000000"),
		allowance:   big.NewInt(0),
		baseBalance: wei("1000000000000000000"),
		baseDelta:   wei("47000000000000000"),
	}
	res, err := newEngine(node).Sell(context.Background(), sellRequest())
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	// approval plus swap
	if node.sent != 2 {
		t.Errorf("transactions sent = %d, want 2", node.sent)
	}
	if res.AmountOut.IsZero() {
		t.Error("no output measured")
	}
}

func TestSellSkipsApprovalWithStandingAllowance(t *testing.T) {
	node := &fakeNode{
		quoted:      wei("48000000000000000"),
		allowance:   wei("1000000000000000000000000"),
		baseBalance: wei("1000000000000000000"),
		baseDelta:   wei("47000000000000000"),
	}
	_, err := newEngine(node).Sell(context.Background(), sellRequest())
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if node.sent != 1 {
		t.Errorf("transactions sent = %d, want 1 (no approval needed)", node.sent)
	}
}

func TestSellAddsGasBackToOutput(t *testing.T) {
	// balance rises by 0.047 while the receipt says 120000 gas at 5 gwei
	// was burned, so the swap itself must have produced 0.0476
	node := &fakeNode{
		quoted:      wei("48000000000000000"),
		allowance:   wei("1000000000000000000000000"),
		baseBalance: wei("1000000000000000000"),
		baseDelta:   wei("47000000000000000"),
	}
	res, err := newEngine(node).Sell(context.Background(), sellRequest())
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	gas := decimal.RequireFromString("0.0006") // 120000 * 5 gwei
	want := decimal.RequireFromString("0.047").Add(gas)
	if !res.AmountOut.Equal(want) {
		t.Errorf("AmountOut = %s, want %s", res.AmountOut, want)
	}
}
