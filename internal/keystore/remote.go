package keystore

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

// Remote resolves signing delegates backed by an external signer
// daemon speaking JSON-RPC (eth_signTransaction). Key material stays
// in the daemon; this process only ever sees signed raw transactions.
type Remote struct {
	endpoint string
	store    db.Store
	httpc    *http.Client
}

func NewRemote(endpoint string, store db.Store) *Remote {
	return &Remote{
		endpoint: endpoint,
		store:    store,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveSigningWallet checks ownership and hands back a delegate for
// the wallet's address.
func (r *Remote) ResolveSigningWallet(ctx context.Context, walletID, userID string) (evm.Signer, error) {
	w, err := r.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, err)
	}
	if w.UserID != userID {
		return nil, fmt.Errorf("wallet %s not owned by user %s", walletID, userID)
	}
	addr, err := evm.ParseAddress(w.Address)
	if err != nil {
		return nil, fmt.Errorf("wallet %s address: %w", walletID, err)
	}
	return &remoteSigner{remote: r, addr: addr}, nil
}

type remoteSigner struct {
	remote *Remote
	addr   evm.Address
}

func (s *remoteSigner) Address() evm.Address { return s.addr }

type signParams struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Nonce    string `json:"nonce"`
	Data     string `json:"data,omitempty"`
	ChainID  string `json:"chainId"`
}

// SignTx sends the unsigned transaction to the signer daemon and
// returns the RLP-encoded signed bytes.
func (s *remoteSigner) SignTx(ctx context.Context, tx *evm.Transaction) ([]byte, error) {
	value := "0x0"
	if tx.Value != nil {
		value = "0x" + tx.Value.Text(16)
	}
	params := signParams{
		From:     s.addr.Hex(),
		To:       tx.To.Hex(),
		Value:    value,
		Gas:      fmt.Sprintf("0x%x", tx.Gas),
		GasPrice: "0x" + tx.GasPrice.Text(16),
		Nonce:    fmt.Sprintf("0x%x", tx.Nonce),
		ChainID:  "0x" + tx.ChainID.Text(16),
	}
	if len(tx.Data) > 0 {
		params.Data = "0x" + hex.EncodeToString(tx.Data)
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_signTransaction",
		"params":  []any{params},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.remote.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.remote.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer daemon: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("signer daemon response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("signer daemon: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}

	// Daemons answer either a bare hex string or {"raw": "0x..", "tx": {..}}.
	var rawHex string
	if err := json.Unmarshal(rpcResp.Result, &rawHex); err != nil {
		var wrapped struct {
			Raw string `json:"raw"`
		}
		if err := json.Unmarshal(rpcResp.Result, &wrapped); err != nil {
			return nil, fmt.Errorf("signer daemon result: %w", err)
		}
		rawHex = wrapped.Raw
	}

	raw := strings.TrimPrefix(rawHex, "0x")
	signed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("signer daemon returned malformed payload: %w", err)
	}
	return signed, nil
}
