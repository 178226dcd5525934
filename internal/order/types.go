// Package order carries the transaction queue and the top-level
// execution saga: validate, queue a swap, await its outcome, and keep
// ledger and audit log consistent with what happened on-chain.
package order

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/internal/swap"
	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// Status is a SwapRequest lifecycle state.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Request priorities. Sells outrank buys so exits are never starved by
// a burst of entries.
const (
	PriorityNormal = 0
	PriorityHigh   = 10
)

// ErrCancelled terminates requests removed before processing.
var ErrCancelled = errors.New("request cancelled")

// SwapRequest is one queued swap. Wallet ordering and completion
// signaling live here; the swap engine only sees the payload.
type SwapRequest struct {
	ID          string
	Side        string // db.SideBuy or db.SideSell
	Wallet      evm.Address
	Signer      evm.Signer
	Token       *db.Token
	AmountIn    decimal.Decimal
	SlippagePct float64
	Gas         swap.GasPolicy
	Priority    int

	mu       sync.Mutex
	status   Status
	result   *swap.Result
	err      error
	done     chan struct{}
	seq      uint64
	queuedAt time.Time
}

// Status returns the current lifecycle state.
func (r *SwapRequest) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done returns the one-shot completion channel, closed exactly once
// when the request reaches a terminal state.
func (r *SwapRequest) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Outcome returns the terminal result or error. Only meaningful after
// Done() is closed.
func (r *SwapRequest) Outcome() (*swap.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *SwapRequest) setProcessing() {
	r.mu.Lock()
	r.status = StatusProcessing
	r.mu.Unlock()
}

// complete records the terminal state once; later calls are ignored.
func (r *SwapRequest) complete(res *swap.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	switch {
	case errors.Is(err, ErrCancelled):
		r.status = StatusCancelled
	case err != nil:
		r.status = StatusFailed
	default:
		r.status = StatusCompleted
	}
	r.result = res
	r.err = err
	close(r.done)
}
