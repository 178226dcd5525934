package order

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"dex-core/internal/monitor"
	"dex-core/internal/swap"
	"dex-core/pkg/db"
)

// ErrAwaitTimeout is returned to a caller whose request reached no
// terminal state within the wait ceiling. The local wait ends; any
// already-submitted transaction may still confirm later.
type ErrAwaitTimeout struct {
	RequestID string
}

func (e *ErrAwaitTimeout) Error() string {
	return fmt.Sprintf("request %s reached no terminal state within the wait ceiling", e.RequestID)
}

// Runner executes one request. The queue never touches the chain itself.
type Runner interface {
	Run(ctx context.Context, req *SwapRequest) (*swap.Result, error)
}

// EngineRunner routes requests to the swap engine by side.
type EngineRunner struct {
	Engine *swap.Engine
}

func (r *EngineRunner) Run(ctx context.Context, req *SwapRequest) (*swap.Result, error) {
	sreq := &swap.Request{
		Signer:      req.Signer,
		Token:       req.Token,
		AmountIn:    req.AmountIn,
		SlippagePct: req.SlippagePct,
		Gas:         req.Gas,
	}
	if req.Side == db.SideSell {
		return r.Engine.Sell(ctx, sreq)
	}
	return r.Engine.Buy(ctx, sreq)
}

// Queue serializes swap submissions: strict one-at-a-time per wallet,
// priority order globally, concurrency across wallets bounded by the
// worker pool.
type Queue struct {
	runner  Runner
	wait    time.Duration
	metrics *monitor.Metrics

	mu       sync.Mutex
	backlog  requestHeap
	inflight map[string]struct{} // wallet addresses currently processing
	byID     map[string]*SwapRequest
	seq      uint64
	closed   bool

	slots  chan struct{}
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates and starts a queue with the given worker count and
// caller wait ceiling.
func NewQueue(runner Runner, workers int, wait time.Duration, metrics *monitor.Metrics) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if wait <= 0 {
		wait = 120 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		runner:   runner,
		wait:     wait,
		metrics:  metrics,
		inflight: make(map[string]struct{}),
		byID:     make(map[string]*SwapRequest),
		slots:    make(chan struct{}, workers),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Submit enqueues a request and returns its id immediately.
func (q *Queue) Submit(req *SwapRequest) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.done = make(chan struct{})
	req.queuedAt = time.Now()
	req.status = StatusQueued

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		req.complete(nil, ErrCancelled)
		return req.ID
	}
	q.seq++
	req.seq = q.seq
	heap.Push(&q.backlog, req)
	q.byID[req.ID] = req
	q.metrics.QueueDepth.Set(float64(q.backlog.Len()))
	q.mu.Unlock()

	q.poke()
	return req.ID
}

// Await blocks until the request is terminal, the context ends, or the
// wait ceiling elapses. A ceiling hit does not cancel the request; an
// already-submitted transaction may confirm later and is handed to
// reconciliation by the executor.
func (q *Queue) Await(ctx context.Context, req *SwapRequest) (*swap.Result, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	select {
	case <-req.Done():
		return req.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &ErrAwaitTimeout{RequestID: req.ID}
	}
}

// Cancel removes a still-queued request. Processing requests cannot be
// cancelled: their transaction may already be on the wire.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	req, ok := q.byID[id]
	if !ok || req.Status() != StatusQueued {
		q.mu.Unlock()
		return false
	}
	for i, r := range q.backlog {
		if r.ID == id {
			heap.Remove(&q.backlog, i)
			break
		}
	}
	delete(q.byID, id)
	q.metrics.QueueDepth.Set(float64(q.backlog.Len()))
	q.mu.Unlock()

	req.complete(nil, ErrCancelled)
	return true
}

// Close stops dispatching, cancels the backlog and waits for in-flight
// work to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var backlog []*SwapRequest
	for q.backlog.Len() > 0 {
		backlog = append(backlog, heap.Pop(&q.backlog).(*SwapRequest))
	}
	q.metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	for _, req := range backlog {
		req.complete(nil, ErrCancelled)
	}
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch assigns eligible requests to worker slots. A request is
// eligible when its wallet has nothing in flight; ineligible requests
// stay queued without blocking other wallets.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for q.dispatchOne() {
		}
	}
}

// dispatchOne starts at most one request; false means no free worker
// or nothing runnable right now.
func (q *Queue) dispatchOne() bool {
	select {
	case q.slots <- struct{}{}: // acquire worker slot
	default:
		return false
	}

	req := q.takeEligible()
	if req == nil {
		<-q.slots // nothing runnable, release the slot
		return false
	}

	req.setProcessing()
	q.wg.Add(1)
	go q.run(req)
	return true
}

// takeEligible pops the highest-priority request whose wallet is idle.
// Skipped requests are pushed back untouched.
func (q *Queue) takeEligible() *SwapRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*SwapRequest
	var picked *SwapRequest
	for q.backlog.Len() > 0 {
		req := heap.Pop(&q.backlog).(*SwapRequest)
		if _, busy := q.inflight[req.Wallet.Hex()]; busy {
			skipped = append(skipped, req)
			continue
		}
		picked = req
		break
	}
	for _, req := range skipped {
		heap.Push(&q.backlog, req)
	}
	if picked != nil {
		q.inflight[picked.Wallet.Hex()] = struct{}{}
		delete(q.byID, picked.ID)
	}
	q.metrics.QueueDepth.Set(float64(q.backlog.Len()))
	return picked
}

func (q *Queue) run(req *SwapRequest) {
	defer q.wg.Done()

	res, err := q.runner.Run(q.ctx, req)
	if err != nil {
		log.Printf("queue: %s %s for %s failed: %v", req.Side, req.ID, req.Wallet.Hex(), err)
	}
	req.complete(res, err)

	q.mu.Lock()
	delete(q.inflight, req.Wallet.Hex())
	q.mu.Unlock()
	<-q.slots // release worker slot

	q.poke() // the freed wallet may unblock a queued request
}

// requestHeap orders by priority descending, then submission order.
type requestHeap []*SwapRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*SwapRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
