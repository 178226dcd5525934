// Package evm talks JSON-RPC to an EVM node: contract reads for the AMM
// (factory/pair/router), gas queries, raw transaction submission and
// confirmation tracking. Signing stays outside this package behind Signer.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Address is a 0x-prefixed, lowercase 20-byte hex address.
type Address string

// ZeroAddress is returned by the factory when no pair exists.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates and normalizes a hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("malformed address %q", s)
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			return "", fmt.Errorf("malformed address %q", s)
		}
	}
	return Address(strings.ToLower(s)), nil
}

// IsValidAddress reports whether s parses as an address.
func IsValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// Hex returns the 0x-prefixed form.
func (a Address) Hex() string { return string(a) }

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == "" || a == ZeroAddress }

// Hash is a 0x-prefixed 32-byte transaction or block hash.
type Hash string

// ParseHash validates and normalizes a hex hash.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("malformed hash %q", s)
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			return "", fmt.Errorf("malformed hash %q", s)
		}
	}
	return Hash(strings.ToLower(s)), nil
}

func (h Hash) Hex() string { return string(h) }

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Transaction is an unsigned transaction handed to a Signer.
type Transaction struct {
	Nonce    uint64
	To       Address
	Value    *big.Int // wei; nil means zero
	Gas      uint64
	GasPrice *big.Int
	Data     []byte
	ChainID  *big.Int
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash            Hash
	Status            uint64 // 1 success, 0 revert
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlockNumber       uint64
}

// Signer produces signed raw transaction bytes for a single wallet.
// Implementations live in the keystore; this core never sees private keys.
type Signer interface {
	Address() Address
	SignTx(ctx context.Context, tx *Transaction) ([]byte, error)
}

// ErrInsufficientFunds marks node rejections caused by the sender not
// covering value + gas. Callers branch on it via errors.Is.
var ErrInsufficientFunds = errors.New("insufficient funds for transaction")

// SubmissionError carries a node-side rejection verbatim for diagnostics.
type SubmissionError struct {
	Code    int
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("chain submission failed (code %d): %s", e.Code, e.Message)
}

// wrapNodeError classifies a JSON-RPC error response.
func wrapNodeError(code int, msg string) error {
	if strings.Contains(strings.ToLower(msg), "insufficient funds") {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
	}
	return &SubmissionError{Code: code, Message: msg}
}
