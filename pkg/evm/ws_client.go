package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Head is a new-block notification. Only the number is kept; heads are
// used as confirmation-poll triggers, not consumed as data.
type Head struct {
	Number uint64
}

// WSClient subscribes to node events over the websocket endpoint.
type WSClient struct {
	endpoint string
	nextID   atomic.Uint64
}

// NewWSClient creates a websocket subscription client.
func NewWSClient(endpoint string) *WSClient {
	return &WSClient{endpoint: endpoint}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
	Error *rpcError `json:"error"`
}

// SubscribeNewHeads opens a connection and streams new block heads until
// the context is cancelled. The channel is closed on any terminal error.
func (c *WSClient) SubscribeNewHeads(ctx context.Context) (<-chan Head, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe newHeads: %w", err)
	}

	heads := make(chan Head, 16)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(heads)
		defer conn.Close()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.Printf("evm: newHeads stream closed: %v", err)
				}
				return
			}
			if msg.Error != nil {
				log.Printf("evm: newHeads subscription error: %v", msg.Error)
				return
			}
			if msg.Method != "eth_subscription" {
				continue // subscription ack
			}
			var head struct {
				Number string `json:"number"`
			}
			if err := json.Unmarshal(msg.Params.Result, &head); err != nil {
				continue
			}
			n, err := parseQuantityUint(head.Number)
			if err != nil {
				continue
			}
			select {
			case heads <- Head{Number: n}:
			default:
				// confirmation waiters only need a recent trigger
			}
		}
	}()

	return heads, nil
}
