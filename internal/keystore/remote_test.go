package keystore

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

func seedWallet(t *testing.T) *db.Memory {
	t.Helper()
	store := db.NewMemory()
	if err := store.CreateWallet(context.Background(), &db.Wallet{
		ID:      "w-1",
		UserID:  "user-1",
		Address: "0xAbC1111111111111111111111111111111111111",
	}); err != nil {
		t.Fatal(err)
	}
	return store
}

func sampleTx() *evm.Transaction {
	return &evm.Transaction{
		To:       evm.Address("0x10ed43c718714eb63d5aa57b78b54704e256024e"),
		Value:    big.NewInt(5e16),
		Gas:      300000,
		GasPrice: big.NewInt(5_000_000_000),
		Nonce:    7,
		Data:     []byte{0x38, 0xed, 0x17, 0x39},
		ChainID:  big.NewInt(56),
	}
}

// signerDaemon is an httptest handler answering eth_signTransaction.
func signerDaemon(t *testing.T, result any, rpcErr string) (http.HandlerFunc, *signParams) {
	t.Helper()
	seen := &signParams{}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("daemon: decode request: %v", err)
		}
		if req.Method != "eth_signTransaction" {
			t.Errorf("daemon: method = %s", req.Method)
		}
		if len(req.Params) == 1 {
			if err := json.Unmarshal(req.Params[0], seen); err != nil {
				t.Errorf("daemon: decode params: %v", err)
			}
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != "" {
			resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}, seen
}

func TestSignTxBareHexResult(t *testing.T) {
	handler, seen := signerDaemon(t, "0xf86b07850", "")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	r := NewRemote(srv.URL, seedWallet(t))
	signer, err := r.ResolveSigningWallet(context.Background(), "w-1", "user-1")
	if err != nil {
		t.Fatalf("ResolveSigningWallet: %v", err)
	}
	if signer.Address() != evm.Address("0xabc1111111111111111111111111111111111111") {
		t.Errorf("address = %s", signer.Address())
	}

	signed, err := signer.SignTx(context.Background(), sampleTx())
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	if len(signed) == 0 {
		t.Error("empty signed payload")
	}

	// the daemon saw the transaction as quantity-encoded hex
	if seen.Value != "0x"+big.NewInt(5e16).Text(16) {
		t.Errorf("value = %s", seen.Value)
	}
	if seen.Nonce != "0x7" || seen.ChainID != "0x38" {
		t.Errorf("nonce = %s chainId = %s", seen.Nonce, seen.ChainID)
	}
	if seen.Data != "0x38ed1739" {
		t.Errorf("data = %s", seen.Data)
	}
	if !strings.EqualFold(seen.From, "0xabc1111111111111111111111111111111111111") {
		t.Errorf("from = %s", seen.From)
	}
}

func TestSignTxWrappedResult(t *testing.T) {
	handler, _ := signerDaemon(t, map[string]any{"raw": "0xdeadbeef", "tx": map[string]any{}}, "")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	r := NewRemote(srv.URL, seedWallet(t))
	signer, err := r.ResolveSigningWallet(context.Background(), "w-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	signed, err := signer.SignTx(context.Background(), sampleTx())
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if len(signed) != len(want) || signed[0] != want[0] || signed[3] != want[3] {
		t.Errorf("signed = %x, want %x", signed, want)
	}
}

func TestSignTxDaemonError(t *testing.T) {
	handler, _ := signerDaemon(t, nil, "account locked")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	r := NewRemote(srv.URL, seedWallet(t))
	signer, err := r.ResolveSigningWallet(context.Background(), "w-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.SignTx(context.Background(), sampleTx()); err == nil {
		t.Fatal("expected daemon error to propagate")
	} else if !strings.Contains(err.Error(), "account locked") {
		t.Errorf("error = %v", err)
	}
}

func TestSignTxMalformedPayload(t *testing.T) {
	handler, _ := signerDaemon(t, "0xzznothex", "")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	r := NewRemote(srv.URL, seedWallet(t))
	signer, err := r.ResolveSigningWallet(context.Background(), "w-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.SignTx(context.Background(), sampleTx()); err == nil {
		t.Fatal("expected malformed payload error")
	}
}

func TestResolveRejectsForeignWallet(t *testing.T) {
	r := NewRemote("http://localhost:0", seedWallet(t))
	if _, err := r.ResolveSigningWallet(context.Background(), "w-1", "intruder"); err == nil {
		t.Fatal("expected ownership rejection")
	}
}

func TestResolveUnknownWallet(t *testing.T) {
	r := NewRemote("http://localhost:0", seedWallet(t))
	if _, err := r.ResolveSigningWallet(context.Background(), "nope", "user-1"); err == nil {
		t.Fatal("expected missing wallet error")
	}
}
