package evm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConfirmTimeout is returned when a transaction is not mined within
// the caller's deadline. The transaction may still confirm later.
var ErrConfirmTimeout = errors.New("transaction not confirmed before deadline")

// ReceiptSource is the read surface Confirmer needs from a node client.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash Hash) (*Receipt, error)
}

// HeadSource streams new-block triggers; nil disables the websocket path.
type HeadSource interface {
	SubscribeNewHeads(ctx context.Context) (<-chan Head, error)
}

// Confirmer waits for a single confirmation of a submitted transaction.
// With a head source it checks on each new block; otherwise it polls.
type Confirmer struct {
	Client       ReceiptSource
	Heads        HeadSource
	PollInterval time.Duration
}

// NewConfirmer creates a confirmer; heads may be nil to force polling.
func NewConfirmer(client ReceiptSource, heads HeadSource) *Confirmer {
	return &Confirmer{Client: client, Heads: heads, PollInterval: 3 * time.Second}
}

// Wait blocks until the transaction has one confirmation or the timeout
// elapses. A mined-but-reverted transaction still returns its receipt;
// interpreting Status is the caller's job.
func (c *Confirmer) Wait(ctx context.Context, hash Hash, timeout time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	trigger, err := c.triggers(ctx)
	if err != nil {
		return nil, err
	}

	// Check immediately in case the transaction was mined before we got here.
	if r, err := c.Client.TransactionReceipt(ctx, hash); err == nil && r != nil {
		return r, nil
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-trigger:
			r, err := c.Client.TransactionReceipt(ctx, hash)
			if err != nil {
				// transient node trouble; next trigger retries
				continue
			}
			if r != nil {
				return r, nil
			}
		}
	}
}

// triggers returns a channel firing whenever a receipt check is due.
func (c *Confirmer) triggers(ctx context.Context) (<-chan struct{}, error) {
	out := make(chan struct{}, 1)

	if c.Heads != nil {
		heads, err := c.Heads.SubscribeNewHeads(ctx)
		if err == nil {
			go func() {
				for range heads {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}()
			return out, nil
		}
		// fall back to polling when the ws endpoint is down
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
