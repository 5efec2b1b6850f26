package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/domain"
)

// fakeClient 最小链访问桩：按地址返回预置账户数据
type fakeClient struct {
	accounts map[string][]byte
}

func (f *fakeClient) GetAccount(_ context.Context, pubkey string) ([]byte, uint64, error) {
	raw, ok := f.accounts[pubkey]
	if !ok {
		return nil, 0, chain.ErrAccountNotFound
	}
	return raw, 100, nil
}

func (f *fakeClient) SubmitTransaction(context.Context, []byte) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeClient) SubmitTransactionTo(context.Context, string, []byte) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeClient) GetSignatureStatus(context.Context, string) (*chain.SignatureStatus, error) {
	return nil, chain.ErrTxNotFound
}
func (f *fakeClient) GetTransaction(context.Context, string) (*chain.TxResult, error) {
	return nil, chain.ErrTxNotFound
}
func (f *fakeClient) GetBalance(context.Context, string) (uint64, error) { return 0, nil }
func (f *fakeClient) GetLatestBlockhash(context.Context) (string, error) { return "hash", nil }
func (f *fakeClient) GetRecentPriorityFees(context.Context) ([]uint64, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeAccount(context.Context, string) (<-chan chain.AccountUpdate, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) Endpoints() []string { return []string{"http://localhost"} }

var _ chain.Client = (*fakeClient)(nil)

func marketJSON(t *testing.T, index uint16, amountStep, minSize string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"symbol":       "TEST",
		"marketIndex":  index,
		"priceStep":    "0.01",
		"amountStep":   amountStep,
		"minOrderSize": minSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func subAccountJSON(t *testing.T, orders []map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"orders": orders})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newBootstrapped(t *testing.T) (*Cache, *chain.Wallet) {
	t.Helper()
	wallet := chain.NewReadOnlyWallet("authority-1")
	market := domain.PerpMarket(0)
	client := &fakeClient{accounts: map[string][]byte{
		chain.MarketAddress(string(market.Kind), market.Index): marketJSON(t, 0, "0.01", "0.1"),
		wallet.SubAccount(0): subAccountJSON(t, []map[string]any{
			{"orderId": 7, "userOrderId": 3, "marketIndex": 0, "marketType": "perp",
				"orderType": "limit", "amount": "1.5", "price": "20.00"},
		}),
	}}

	cache := New(JSONDecoder{})
	err := cache.Bootstrap(context.Background(), client, wallet,
		[]domain.Market{market}, []uint16{0})
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return cache, wallet
}

func TestCache_NotReadyBeforeBootstrap(t *testing.T) {
	cache := New(JSONDecoder{})
	if _, err := cache.GetOrders(0, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := cache.GetMargin(0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCache_BootstrapAndQuery(t *testing.T) {
	cache, _ := newBootstrapped(t)

	orders, err := cache.GetOrders(0, nil)
	if err != nil {
		t.Fatalf("GetOrders failed: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != 7 {
		t.Fatalf("unexpected orders: %#v", orders)
	}

	meta, err := cache.GetMarket(domain.PerpMarket(0))
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if !meta.MinOrderSize.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("unexpected min order size: %s", meta.MinOrderSize)
	}

	order, err := cache.FindOrderByUserID(0, 3)
	if err != nil || order == nil || order.OrderID != 7 {
		t.Fatalf("FindOrderByUserID: order=%#v err=%v", order, err)
	}
	missing, err := cache.FindOrderByID(0, 999)
	if err != nil || missing != nil {
		t.Fatalf("expected no order, got %#v err=%v", missing, err)
	}
}

func TestCache_ApplyUpdateReplacesSnapshot(t *testing.T) {
	cache, wallet := newBootstrapped(t)

	change, err := cache.ApplyAccountUpdate(chain.AccountUpdate{
		Pubkey: wallet.SubAccount(0),
		Slot:   200,
		Data:   subAccountJSON(t, nil),
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if change == nil || !change.OrdersChanged {
		t.Fatalf("expected orders change, got %#v", change)
	}

	orders, err := cache.GetOrders(0, nil)
	if err != nil {
		t.Fatalf("GetOrders failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected empty orders after update, got %d", len(orders))
	}
}

func TestCache_DecodeFailureRetainsPrevious(t *testing.T) {
	cache, wallet := newBootstrapped(t)

	_, err := cache.ApplyAccountUpdate(chain.AccountUpdate{
		Pubkey: wallet.SubAccount(0),
		Slot:   200,
		Data:   []byte("{not json"),
	})
	if err == nil {
		t.Fatal("expected decode error")
	}

	// 旧快照仍然可读
	orders, err := cache.GetOrders(0, nil)
	if err != nil || len(orders) != 1 {
		t.Fatalf("previous snapshot lost: orders=%d err=%v", len(orders), err)
	}
}

func TestCache_StaleSlotIgnored(t *testing.T) {
	cache, wallet := newBootstrapped(t)

	// slot 100 为 bootstrap 基线，更旧的更新不应生效
	change, err := cache.ApplyAccountUpdate(chain.AccountUpdate{
		Pubkey: wallet.SubAccount(0),
		Slot:   50,
		Data:   subAccountJSON(t, nil),
	})
	if err != nil || change != nil {
		t.Fatalf("stale update should be dropped silently: change=%#v err=%v", change, err)
	}
	orders, _ := cache.GetOrders(0, nil)
	if len(orders) != 1 {
		t.Fatalf("stale update overwrote snapshot")
	}
}

func TestCache_UnknownAccountUpdate(t *testing.T) {
	cache, _ := newBootstrapped(t)
	_, err := cache.ApplyAccountUpdate(chain.AccountUpdate{Pubkey: "stranger", Slot: 1})
	if !errors.Is(err, ErrUnknownSubAccount) {
		t.Fatalf("expected ErrUnknownSubAccount, got %v", err)
	}
}
