package evm

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFromWei(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	got := FromWei(wei, BaseDecimals)
	if !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("FromWei = %s, want 1.5", got)
	}
}

func TestToWei(t *testing.T) {
	got := ToWei(decimal.RequireFromString("0.05"), BaseDecimals)
	want, _ := new(big.Int).SetString("50000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("ToWei = %s, want %s", got, want)
	}
}

func TestWeiRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "0.000000000000000001", "123456.789", "2"} {
		d := decimal.RequireFromString(s)
		back := FromWei(ToWei(d, BaseDecimals), BaseDecimals)
		if !back.Equal(d) {
			t.Errorf("round trip of %s gave %s", s, back)
		}
	}
}

func TestToWeiTokenDecimals(t *testing.T) {
	// 6-decimal token: 1.5 units is 1_500_000 raw
	got := ToWei(decimal.RequireFromString("1.5"), 6)
	if got.Cmp(big.NewInt(1500000)) != 0 {
		t.Errorf("ToWei(1.5, 6) = %s", got)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.Hex() != "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c" {
		t.Errorf("address not normalized: %s", addr.Hex())
	}

	for _, bad := range []string{"", "0x123", "bb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", "0xzz4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Errorf("ParseAddress(%q) accepted", bad)
		}
	}
}

func TestAddressIsZero(t *testing.T) {
	if !ZeroAddress.IsZero() {
		t.Error("zero address not zero")
	}
	if Address("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c").IsZero() {
		t.Error("real address reported zero")
	}
}
