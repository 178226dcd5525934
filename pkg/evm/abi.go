package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Function selectors for the handful of contracts this core touches
// (ERC-20, UniswapV2-style factory/pair/router). Precomputed so no hash
// dependency is needed for a fixed call surface.
var (
	selName          = mustSelector("06fdde03") // name()
	selSymbol        = mustSelector("95d89b41") // symbol()
	selDecimals      = mustSelector("313ce567") // decimals()
	selTotalSupply   = mustSelector("18160ddd") // totalSupply()
	selBalanceOf     = mustSelector("70a08231") // balanceOf(address)
	selAllowance     = mustSelector("dd62ed3e") // allowance(address,address)
	selApprove       = mustSelector("095ea7b3") // approve(address,uint256)
	selGetPair       = mustSelector("e6a43905") // getPair(address,address)
	selGetReserves   = mustSelector("0902f1ac") // getReserves()
	selToken0        = mustSelector("0dfe1681") // token0()
	selGetAmountsOut = mustSelector("d06ca61f") // getAmountsOut(uint256,address[])
	selSwapETHForTok = mustSelector("7ff36ab5") // swapExactETHForTokens(uint256,address[],address,uint256)
	selSwapTokForETH = mustSelector("18cbafe5") // swapExactTokensForETH(uint256,uint256,address[],address,uint256)
)

func mustSelector(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 4 {
		panic("bad selector " + h)
	}
	return b
}

const wordSize = 32

// packWordAddress left-pads a 20-byte address into one ABI word.
func packWordAddress(a Address) []byte {
	word := make([]byte, wordSize)
	b, _ := hex.DecodeString(strings.TrimPrefix(a.Hex(), "0x"))
	copy(word[wordSize-len(b):], b)
	return word
}

// packWordBig left-pads a non-negative big integer into one ABI word.
func packWordBig(v *big.Int) []byte {
	word := make([]byte, wordSize)
	if v != nil {
		v.FillBytes(word)
	}
	return word
}

// packCall concatenates a selector with static argument words.
func packCall(selector []byte, words ...[]byte) []byte {
	out := make([]byte, 0, 4+len(words)*wordSize)
	out = append(out, selector...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

// packAddressArray encodes a dynamic address[] at the given head offset.
func packAddressArray(addrs []Address) []byte {
	out := packWordBig(big.NewInt(int64(len(addrs))))
	for _, a := range addrs {
		out = append(out, packWordAddress(a)...)
	}
	return out
}

func unpackWordBig(data []byte, word int) (*big.Int, error) {
	off := word * wordSize
	if len(data) < off+wordSize {
		return nil, fmt.Errorf("return data too short: want word %d, have %d bytes", word, len(data))
	}
	return new(big.Int).SetBytes(data[off : off+wordSize]), nil
}

func unpackWordAddress(data []byte, word int) (Address, error) {
	v, err := unpackWordBig(data, word)
	if err != nil {
		return "", err
	}
	b := make([]byte, 20)
	v.FillBytes(b)
	return Address("0x" + hex.EncodeToString(b)), nil
}

// unpackString decodes a dynamic string return (offset word, length word, data).
// Some legacy tokens return bytes32 instead; that shape is handled too.
func unpackString(data []byte) (string, error) {
	if len(data) == wordSize {
		// bytes32-style: trim trailing zeros
		return string(trimRightZeros(data)), nil
	}
	off, err := unpackWordBig(data, 0)
	if err != nil {
		return "", err
	}
	o := int(off.Int64())
	if len(data) < o+wordSize {
		return "", fmt.Errorf("string offset %d out of range", o)
	}
	ln := new(big.Int).SetBytes(data[o : o+wordSize]).Int64()
	if int64(len(data)) < int64(o)+wordSize+ln {
		return "", fmt.Errorf("string length %d out of range", ln)
	}
	return string(data[o+wordSize : int64(o)+wordSize+ln]), nil
}

func trimRightZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// Calldata builders used by the swap engine.

// ApproveCalldata allows spender to move amount of the token.
func ApproveCalldata(spender Address, amount *big.Int) []byte {
	return packCall(selApprove, packWordAddress(spender), packWordBig(amount))
}

// SwapExactETHForTokensCalldata builds the buy-side router calldata.
func SwapExactETHForTokensCalldata(minOut *big.Int, path []Address, to Address, deadline *big.Int) []byte {
	// head: minOut, offset(path), to, deadline; tail: path
	head := 4 * wordSize
	out := packCall(selSwapETHForTok,
		packWordBig(minOut),
		packWordBig(big.NewInt(int64(head))),
		packWordAddress(to),
		packWordBig(deadline),
	)
	return append(out, packAddressArray(path)...)
}

// SwapExactTokensForETHCalldata builds the sell-side router calldata.
func SwapExactTokensForETHCalldata(amountIn, minOut *big.Int, path []Address, to Address, deadline *big.Int) []byte {
	head := 5 * wordSize
	out := packCall(selSwapTokForETH,
		packWordBig(amountIn),
		packWordBig(minOut),
		packWordBig(big.NewInt(int64(head))),
		packWordAddress(to),
		packWordBig(deadline),
	)
	return append(out, packAddressArray(path)...)
}

// Hex quantity helpers (JSON-RPC encodes integers as 0x-hex).

func parseQuantityBig(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bad hex quantity %q", s)
	}
	return v, nil
}

func parseQuantityUint(s string) (uint64, error) {
	v, err := parseQuantityBig(s)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("quantity %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

func encodeQuantity(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

func encodeBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
