package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements the node interface over HTTP JSON-RPC 2.0.
type Client struct {
	endpoint    string
	http        *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a JSON-RPC client for the given endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		http:        &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC call with retries and exponential backoff.
// Node-level errors (rpcError) are final: the node answered, retrying
// will not change its mind.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		resp, err := c.post(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Error != nil {
			return wrapNodeError(resp.Error.Code, resp.Error.Message)
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", httpResp.StatusCode, bytes.TrimSpace(raw))
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var hex string
	if err := c.call(ctx, "eth_chainId", nil, &hex); err != nil {
		return nil, err
	}
	return parseQuantityBig(hex)
}

// GasPrice returns the node's current gas price suggestion in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var hex string
	if err := c.call(ctx, "eth_gasPrice", nil, &hex); err != nil {
		return nil, err
	}
	return parseQuantityBig(hex)
}

// BalanceAt returns the base-currency balance of addr in wei.
func (c *Client) BalanceAt(ctx context.Context, addr Address) (*big.Int, error) {
	var hex string
	if err := c.call(ctx, "eth_getBalance", []any{addr.Hex(), "latest"}, &hex); err != nil {
		return nil, err
	}
	return parseQuantityBig(hex)
}

// NonceAt returns the pending-state nonce for addr.
func (c *Client) NonceAt(ctx context.Context, addr Address) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_getTransactionCount", []any{addr.Hex(), "pending"}, &hex); err != nil {
		return 0, err
	}
	return parseQuantityUint(hex)
}

// callMsg is the eth_call / eth_estimateGas parameter object.
type callMsg struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// CallContract executes a read-only contract call and returns raw return data.
func (c *Client) CallContract(ctx context.Context, to Address, data []byte) ([]byte, error) {
	var hex string
	msg := callMsg{To: to.Hex(), Data: encodeBytes(data)}
	if err := c.call(ctx, "eth_call", []any{msg, "latest"}, &hex); err != nil {
		return nil, err
	}
	return decodeBytes(hex)
}

// EstimateGas asks the node for a gas estimate for the transaction.
func (c *Client) EstimateGas(ctx context.Context, from Address, tx *Transaction) (uint64, error) {
	msg := callMsg{From: from.Hex(), To: tx.To.Hex(), Data: encodeBytes(tx.Data)}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		msg.Value = encodeQuantity(tx.Value)
	}
	var hex string
	if err := c.call(ctx, "eth_estimateGas", []any{msg}, &hex); err != nil {
		return 0, err
	}
	return parseQuantityUint(hex)
}

// SendRawTransaction broadcasts signed transaction bytes and returns the hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (Hash, error) {
	var hex string
	if err := c.call(ctx, "eth_sendRawTransaction", []any{encodeBytes(raw)}, &hex); err != nil {
		return "", err
	}
	return ParseHash(hex)
}

// TransactionReceipt fetches the receipt for hash. A nil receipt with nil
// error means the transaction is not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash Hash) (*Receipt, error) {
	var raw struct {
		TransactionHash   string `json:"transactionHash"`
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
		BlockNumber       string `json:"blockNumber"`
	}
	var msg json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash.Hex()}, &msg); err != nil {
		return nil, err
	}
	if len(msg) == 0 || string(msg) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	status, err := parseQuantityUint(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt status: %w", err)
	}
	gasUsed, err := parseQuantityUint(raw.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("receipt gasUsed: %w", err)
	}
	block, err := parseQuantityUint(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt blockNumber: %w", err)
	}
	price := big.NewInt(0)
	if raw.EffectiveGasPrice != "" {
		price, err = parseQuantityBig(raw.EffectiveGasPrice)
		if err != nil {
			return nil, fmt.Errorf("receipt effectiveGasPrice: %w", err)
		}
	}

	h, err := ParseHash(raw.TransactionHash)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:            h,
		Status:            status,
		GasUsed:           gasUsed,
		EffectiveGasPrice: price,
		BlockNumber:       block,
	}, nil
}
