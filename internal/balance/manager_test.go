package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dex-core/pkg/db"
	"dex-core/pkg/evm"
)

type fakeNode struct {
	wei   *big.Int
	err   error
	calls int
}

func (f *fakeNode) BalanceAt(_ context.Context, _ evm.Address) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.wei), nil
}

func testWallet(t *testing.T, store *db.Memory) *db.Wallet {
	t.Helper()
	w := &db.Wallet{
		ID:      "w-1",
		UserID:  "user-1",
		Address: "0x1111111111111111111111111111111111111111",
	}
	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestAvailableConvertsWei(t *testing.T) {
	store := db.NewMemory()
	w := testWallet(t, store)
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	node := &fakeNode{wei: wei}
	m := NewManager(node, store, time.Minute)

	got, err := m.Available(context.Background(), w)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("balance = %s, want 1.5", got)
	}
}

func TestAvailableCachesReads(t *testing.T) {
	store := db.NewMemory()
	w := testWallet(t, store)
	node := &fakeNode{wei: big.NewInt(1e18)}
	m := NewManager(node, store, time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := m.Available(ctx, w); err != nil {
			t.Fatal(err)
		}
	}
	if node.calls != 1 {
		t.Errorf("node calls = %d, want 1", node.calls)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	store := db.NewMemory()
	w := testWallet(t, store)
	node := &fakeNode{wei: big.NewInt(1e18)}
	m := NewManager(node, store, time.Minute)
	ctx := context.Background()

	if _, err := m.Available(ctx, w); err != nil {
		t.Fatal(err)
	}
	node.wei = big.NewInt(4e17) // spent most of it
	m.Invalidate(w.Address)

	got, err := m.Available(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("balance after invalidate = %s, want 0.4", got)
	}
	if node.calls != 2 {
		t.Errorf("node calls = %d, want 2", node.calls)
	}
}

func TestAvailableMirrorsToStore(t *testing.T) {
	store := db.NewMemory()
	w := testWallet(t, store)
	node := &fakeNode{wei: big.NewInt(2e18)}
	m := NewManager(node, store, time.Minute)

	if _, err := m.Available(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	stored, err := store.GetWallet(context.Background(), w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.BalanceBase.Equal(decimal.RequireFromString("2")) {
		t.Errorf("mirrored balance = %s, want 2", stored.BalanceBase)
	}
	if stored.BalanceAt.IsZero() {
		t.Error("balance read did not stamp BalanceAt")
	}
}

func TestAvailableNodeError(t *testing.T) {
	store := db.NewMemory()
	w := testWallet(t, store)
	node := &fakeNode{err: errors.New("connection refused")}
	m := NewManager(node, store, time.Minute)

	if _, err := m.Available(context.Background(), w); err == nil {
		t.Fatal("expected error when the node is down")
	}
}
